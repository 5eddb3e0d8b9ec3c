package dataset

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/ragset/engine/domain"
)

func ptr(f float64) *float64 { return &f }

func sampleResults() []domain.SearchResult {
	return []domain.SearchResult{
		{ID: "a", Properties: map[string]any{"input": "flight delayed"}, Certainty: ptr(0.91), Distance: ptr(0.18), Score: 0.82},
		{ID: "b", Properties: map[string]any{"input": "lost luggage"}, Score: 4.2},
	}
}

func TestBuildShape(t *testing.T) {
	emb := domain.Vector{0.1, 0.2, 0.3}
	p := Build("m-1", "flight delay", emb, sampleResults())

	assert.Equal(t, Type, p.DatasetType)
	assert.Equal(t, SchemaVersion, p.SchemaVersion)
	assert.Equal(t, "m-1", p.DatasetUID)
	assert.Equal(t, 3, p.Query.EmbeddingDim)
	assert.Equal(t, 2, p.Count)
	assert.Len(t, p.Examples, p.Count)
	assert.Equal(t, Source, p.Metadata.Source)

	_, err := time.Parse(time.RFC3339Nano, p.Metadata.CreatedAt)
	require.NoError(t, err)

	ex := p.Examples[0]
	assert.Equal(t, "m-1", ex.UID)
	assert.Equal(t, "flight delay", ex.Prompt)
	assert.Equal(t, emb, ex.QueryEmbedding)
	assert.InDelta(t, 0.91, *ex.Certainty, 1e-9)
}

func TestBuildKeepsMissingSimilarityNull(t *testing.T) {
	p := Build("m-1", "q", domain.Vector{1}, sampleResults())
	data, err := p.Encode()
	require.NoError(t, err)

	var raw struct {
		Examples []map[string]any `json:"examples"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Len(t, raw.Examples, 2)
	assert.Nil(t, raw.Examples[1]["certainty"])
	assert.Nil(t, raw.Examples[1]["distance"])
	assert.Contains(t, raw.Examples[1], "certainty")
}

func TestBuildDeterministicExceptTimestamp(t *testing.T) {
	emb := domain.Vector{0.5, -0.5}
	a := BuildAt("u", "p", emb, sampleResults(), time.Unix(0, 0))
	b := BuildAt("u", "p", emb, sampleResults(), time.Unix(100, 0))
	assert.NotEqual(t, a.Metadata.CreatedAt, b.Metadata.CreatedAt)

	b.Metadata.CreatedAt = a.Metadata.CreatedAt
	assert.Equal(t, a, b)
}

func TestBuildEmpty(t *testing.T) {
	p := Build("u", "p", domain.Vector{1, 2}, nil)
	assert.Zero(t, p.Count)
	data, err := p.Encode()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"examples": []`)
}

func TestBuildCopiesEmbedding(t *testing.T) {
	emb := domain.Vector{1, 2}
	p := Build("u", "p", emb, nil)
	emb[0] = 99
	assert.Equal(t, float32(1), p.Query.Embedding[0])
}
