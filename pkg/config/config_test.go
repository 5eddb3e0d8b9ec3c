package config_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/ragset/engine/domain"
	"github.com/WessleyAI/ragset/pkg/config"
)

func unset(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadAPIDefaults(t *testing.T) {
	unset(t, "PORT", "CORS_ORIGIN", "QDRANT_COLLECTION", "OPENAI_EMBED_MODEL", "EMBED_DIMENSIONS",
		"ARTIFACT_STORE_TOKEN", "ARTIFACT_STORE_KEY_ID", "ARTIFACT_STORE_DESTINATION", "ARTIFACT_STORE_REGION",
		"NATS_URL", "NATS_DATASET_SUBJECT")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("QDRANT_URL", "localhost:6334")

	var cfg config.API
	require.NoError(t, config.Load(&cfg))

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "*", cfg.Server.CORSOrigin)
	assert.Equal(t, "LLMTrainingSample", cfg.Index.Collection)
	assert.Equal(t, "text-embedding-3-large", cfg.Embedding.Model)
	assert.Equal(t, 3072, cfg.Embedding.Dimensions)
	assert.Equal(t, "us-east-1", cfg.Store.Region)
	assert.Equal(t, "datasets.ready", cfg.NATS.Subject)
	assert.False(t, cfg.Store.Enabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("QDRANT_URL", "qdrant:6334")
	t.Setenv("EMBED_DIMENSIONS", "1536")
	t.Setenv("QDRANT_MIN_CERTAINTY", "0.75")
	t.Setenv("ARTIFACT_STORE_DESTINATION", "datasets")

	var cfg config.API
	require.NoError(t, config.Load(&cfg))
	assert.Equal(t, 1536, cfg.Embedding.Dimensions)
	assert.InDelta(t, 0.75, cfg.Index.MinCertainty, 1e-9)
	assert.True(t, cfg.Store.Enabled())
}

func TestLoadMissingRequired(t *testing.T) {
	unset(t, "OPENAI_API_KEY")
	t.Setenv("QDRANT_URL", "localhost:6334")

	var cfg config.Seed
	err := config.Load(&cfg)
	require.ErrorIs(t, err, domain.ErrMissingVariable)
	var ce *domain.ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "OPENAI_API_KEY", ce.Field)
}

func TestLoadMalformed(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("QDRANT_URL", "localhost:6334")
	t.Setenv("EMBED_DIMENSIONS", "many")

	var cfg config.Seed
	err := config.Load(&cfg)
	require.ErrorIs(t, err, domain.ErrInvalidValue)
	var ce *domain.ConfigError
	require.ErrorAs(t, err, &ce)
}
