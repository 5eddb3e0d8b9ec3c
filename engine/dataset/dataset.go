// Package dataset assembles the versioned payload that pairs a query with the
// records retrieved for it.
package dataset

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/WessleyAI/ragset/engine/domain"
)

// Payload identity.
const (
	Type          = "tf.data.Dataset"
	SchemaVersion = "1.1"
	Source        = "ragset-pipeline"
)

// Payload is the self-describing dataset artifact. Count always equals
// len(Examples).
type Payload struct {
	DatasetType   string    `json:"dataset_type"`
	SchemaVersion string    `json:"schema_version"`
	DatasetUID    string    `json:"dataset_uid"`
	Query         Query     `json:"query"`
	Examples      []Example `json:"examples"`
	Count         int       `json:"count"`
	Metadata      Metadata  `json:"metadata"`
}

type Query struct {
	UID          string        `json:"uid"`
	Prompt       string        `json:"prompt"`
	Embedding    domain.Vector `json:"embedding"`
	EmbeddingDim int           `json:"embedding_dim"`
}

// Example binds one search result to the query that retrieved it.
// Certainty and Distance are null when the index did not report them.
type Example struct {
	UID            string              `json:"uid"`
	Prompt         string              `json:"prompt"`
	QueryEmbedding domain.Vector       `json:"query_embedding"`
	Result         domain.SearchResult `json:"result"`
	Certainty      *float64            `json:"certainty"`
	Distance       *float64            `json:"distance"`
}

type Metadata struct {
	CreatedAt string `json:"created_at"`
	Source    string `json:"source"`
}

// Build assembles a payload stamped with the current UTC time.
func Build(uid, prompt string, embedding domain.Vector, results []domain.SearchResult) Payload {
	return BuildAt(uid, prompt, embedding, results, time.Now().UTC())
}

// BuildAt is Build with an explicit creation time.
func BuildAt(uid, prompt string, embedding domain.Vector, results []domain.SearchResult, now time.Time) Payload {
	embedding = slices.Clone(embedding)
	examples := make([]Example, len(results))
	for i, r := range results {
		examples[i] = Example{
			UID:            uid,
			Prompt:         prompt,
			QueryEmbedding: embedding,
			Result:         r,
			Certainty:      r.Certainty,
			Distance:       r.Distance,
		}
	}
	return Payload{
		DatasetType:   Type,
		SchemaVersion: SchemaVersion,
		DatasetUID:    uid,
		Query: Query{
			UID:          uid,
			Prompt:       prompt,
			Embedding:    embedding,
			EmbeddingDim: len(embedding),
		},
		Examples: examples,
		Count:    len(examples),
		Metadata: Metadata{
			CreatedAt: now.UTC().Format(time.RFC3339Nano),
			Source:    Source,
		},
	}
}

// Encode renders the payload as indented JSON, the on-disk artifact format.
func (p Payload) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("dataset: encode %s: %w", p.DatasetUID, err)
	}
	return data, nil
}
