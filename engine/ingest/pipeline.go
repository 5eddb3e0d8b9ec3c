// Package ingest loads a corpus into the vector index: translate records,
// provision the collection, embed in parallel, and upsert in batches.
package ingest

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/WessleyAI/ragset/engine/domain"
	"github.com/WessleyAI/ragset/pkg/fn"
)

// DefaultProgressEvery is how many ingested records pass between progress logs.
const DefaultProgressEvery = 500

// Source streams raw corpus records.
type Source interface {
	Records(ctx context.Context) iter.Seq2[map[string]any, error]
}

// Provisioner ensures the collection the writer's sink targets exists.
type Provisioner interface {
	Collection() string
	EnsureCollection(ctx context.Context, schema domain.CollectionSchema) (bool, error)
}

// Embedder turns samples into (sample, vector) pairs.
type Embedder interface {
	Embed(ctx context.Context, samples iter.Seq[domain.SampleRecord], textProperty string) iter.Seq2[domain.Pair, error]
}

// Pipeline is one corpus-load run.
type Pipeline struct {
	Source        Source
	Dataset       domain.DatasetConfig
	Provisioner   Provisioner
	Embedder      Embedder
	Writer        *Writer
	Dimensions    int
	Metric        domain.Metric
	ProgressEvery int
	Logger        *slog.Logger
}

// Run executes the pipeline and returns the number of records written.
// A corpus that yields no usable sample fails with *domain.EmptyCorpusError
// before anything is provisioned.
func (p *Pipeline) Run(ctx context.Context) (int, error) {
	log := p.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "ingest", "dataset", p.Dataset.DatasetName(), "split", p.Dataset.DatasetSplit())

	// Cancelled as soon as the writer stops consuming, so the source stops
	// reading instead of filling batches nobody will embed.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var srcErr error
	samples := fn.Take(fn.FilterMap(p.records(ctx, &srcErr), p.Dataset.Translate), p.Dataset.MaxSamples())

	_, samples, ok, stop := fn.Peek(samples)
	defer stop()
	if !ok {
		if srcErr != nil {
			return 0, fmt.Errorf("ingest: load corpus: %w", srcErr)
		}
		return 0, &domain.EmptyCorpusError{
			Dataset:   p.Dataset.DatasetName(),
			Split:     p.Dataset.DatasetSplit(),
			TextField: p.Dataset.TextField(),
		}
	}

	created, err := p.Provisioner.EnsureCollection(ctx, domain.CollectionSchema{
		TextProperty:       p.Dataset.TextProperty(),
		MetadataProperties: p.Dataset.MetadataProperties(),
		Dimensions:         p.Dimensions,
		Metric:             p.Metric,
	})
	if err != nil {
		return 0, fmt.Errorf("ingest: provision collection: %w", err)
	}
	log.Info("collection ready", "collection", p.Provisioner.Collection(), "created", created)

	start := time.Now()
	pairs := p.Embedder.Embed(ctx, samples, p.Dataset.TextProperty())
	n, err := p.Writer.Write(ctx, p.progress(pairs, log, start, cancel))
	if err != nil {
		return n, err
	}
	if srcErr != nil {
		return n, fmt.Errorf("ingest: load corpus: %w", srcErr)
	}
	log.Info("ingestion complete", "records", n, "elapsed", time.Since(start).Round(time.Millisecond))
	return n, nil
}

// records adapts the source into a plain sequence. The first source error
// ends the sequence and is stored in errp.
func (p *Pipeline) records(ctx context.Context, errp *error) iter.Seq[map[string]any] {
	return func(yield func(map[string]any) bool) {
		for rec, err := range p.Source.Records(ctx) {
			if err != nil {
				*errp = err
				return
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// progress logs throughput and calls cancel when the consumer stops early.
func (p *Pipeline) progress(pairs iter.Seq2[domain.Pair, error], log *slog.Logger, start time.Time, cancel context.CancelFunc) iter.Seq2[domain.Pair, error] {
	every := p.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}
	return func(yield func(domain.Pair, error) bool) {
		seen := 0
		for pair, err := range pairs {
			if err == nil {
				seen++
				if seen%every == 0 {
					elapsed := time.Since(start)
					log.Info("embedding progress", "records", seen,
						"rate_per_sec", fmt.Sprintf("%.1f", float64(seen)/max(elapsed.Seconds(), 1e-9)))
				}
			}
			if !yield(pair, err) {
				cancel()
				return
			}
		}
	}
}
