// Package config loads service configuration from the environment, with an
// optional .env file in the working directory.
package config

import (
	"errors"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/WessleyAI/ragset/engine/domain"
)

// Embedding configures the OpenAI-compatible embedding provider.
type Embedding struct {
	APIKey     string  `env:"OPENAI_API_KEY,required,notEmpty"`
	BaseURL    string  `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	Model      string  `env:"OPENAI_EMBED_MODEL" envDefault:"text-embedding-3-large"`
	Dimensions int     `env:"EMBED_DIMENSIONS" envDefault:"3072"`
	RateLimit  float64 `env:"EMBED_RATE_LIMIT" envDefault:"20"`
	RateBurst  int     `env:"EMBED_RATE_BURST" envDefault:"5"`
}

// Index configures the Qdrant vector index.
type Index struct {
	URL          string  `env:"QDRANT_URL,required,notEmpty"`
	APIKey       string  `env:"QDRANT_API_KEY"`
	Collection   string  `env:"QDRANT_COLLECTION" envDefault:"LLMTrainingSample"`
	// MinCertainty is a cosine certainty floor; searches on collections
	// with another metric fail when it is set.
	MinCertainty float64 `env:"QDRANT_MIN_CERTAINTY" envDefault:"0"`
}

// ArtifactStore configures the S3-compatible dataset store. Publishing is
// optional; see Enabled.
type ArtifactStore struct {
	Token       string `env:"ARTIFACT_STORE_TOKEN"`
	KeyID       string `env:"ARTIFACT_STORE_KEY_ID"`
	Destination string `env:"ARTIFACT_STORE_DESTINATION"`
	Endpoint    string `env:"ARTIFACT_STORE_ENDPOINT"`
	Region      string `env:"ARTIFACT_STORE_REGION" envDefault:"us-east-1"`
	BaseURL     string `env:"ARTIFACT_STORE_BASE_URL"`
}

// Enabled reports whether any store credential was provided.
func (a ArtifactStore) Enabled() bool {
	return a.Token != "" || a.KeyID != "" || a.Destination != ""
}

// NATS configures the dataset-ready notifier. Empty URL disables it.
type NATS struct {
	URL     string `env:"NATS_URL"`
	Subject string `env:"NATS_DATASET_SUBJECT" envDefault:"datasets.ready"`
}

// Server configures the HTTP listener.
type Server struct {
	Port       string `env:"PORT" envDefault:"8080"`
	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"*"`
}

// API is the full configuration of the query service.
type API struct {
	Server    Server
	Embedding Embedding
	Index     Index
	Store     ArtifactStore
	NATS      NATS
}

// Seed is the environment-backed part of the bulk loader's configuration.
// Corpus selection comes from command-line flags.
type Seed struct {
	Embedding Embedding
	Index     Index
}

var dotenvOnce sync.Once

// Load parses environment variables into v. A .env file is read once per
// process; variables already set win. Missing or malformed variables are
// reported as *domain.ConfigError naming the variable.
func Load[T any](v *T) error {
	dotenvOnce.Do(func() {
		// The file is optional.
		_ = godotenv.Load()
	})
	if err := env.Parse(v); err != nil {
		return translate(err)
	}
	return nil
}

// translate maps the first env error onto the domain taxonomy.
func translate(err error) error {
	var agg env.AggregateError
	if errors.As(err, &agg) && len(agg.Errors) > 0 {
		err = agg.Errors[0]
	}

	var (
		notSet env.EnvVarIsNotSetError
		empty  env.EmptyEnvVarError
		parse  env.ParseError
	)
	switch {
	case errors.As(err, &notSet):
		return domain.NewConfigError(notSet.Key, domain.ErrMissingVariable)
	case errors.As(err, &empty):
		return domain.NewConfigError(empty.Key, domain.ErrMissingVariable)
	case errors.As(err, &parse):
		return domain.NewConfigError(parse.Name, errors.Join(domain.ErrInvalidValue, parse.Err))
	default:
		return domain.NewConfigError("environment", errors.Join(domain.ErrInvalidValue, err))
	}
}
