// Package domain defines the core types shared by the query and ingestion
// pipelines: sample records, dataset configuration, search results, and the
// error taxonomy used at every boundary.
package domain

// SampleRecord maps sanitized property names to string values. It always
// carries the primary text property.
type SampleRecord map[string]string

// Vector is an embedding. Fixed dimension per provider and model.
type Vector = []float32

// Pair binds a sample to the embedding of its primary text.
type Pair struct {
	Sample SampleRecord
	Vector Vector
}

// SearchResult is one retrieved record. Certainty and Distance are nil when
// the index does not report them.
type SearchResult struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	Certainty  *float64       `json:"certainty"`
	Distance   *float64       `json:"distance"`
	Score      float32        `json:"score"`
}

// Distance metrics understood by the vector index.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dot"
	MetricEuclid    Metric = "euclid"
	MetricManhattan Metric = "manhattan"
)

// Static properties stamped onto every sample.
const (
	PropDatasetName  = "datasetName"
	PropDatasetSplit = "datasetSplit"
)

// CollectionSchema describes the properties and vectors of a collection to
// provision. The collection name belongs to the store.
type CollectionSchema struct {
	TextProperty       string
	MetadataProperties []string
	Dimensions         int
	Metric             Metric
}

// ProcessRequest is the query-path input accepted from the API layer.
type ProcessRequest struct {
	UID    string `json:"modelUid"`
	Prompt string `json:"prompt"`
	Limit  int    `json:"limit,omitempty"`
}
