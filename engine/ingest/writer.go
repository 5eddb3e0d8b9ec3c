package ingest

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/google/uuid"

	"github.com/WessleyAI/ragset/engine/domain"
	"github.com/WessleyAI/ragset/engine/semantic"
)

// Inserter writes one record at a time.
type Inserter interface {
	Insert(ctx context.Context, record semantic.VectorRecord) error
}

// BatchInserter is implemented by sinks that commit a batch as a unit. It
// returns how many records of the batch were committed.
type BatchInserter interface {
	InsertBatch(ctx context.Context, records []semantic.VectorRecord) (int, error)
}

// Writer groups (sample, vector) pairs into bounded batches and writes them
// to a sink. Every record gets a fresh random id.
type Writer struct {
	sink      Inserter
	batchSize int
	newID     func() string
	logger    *slog.Logger
}

// NewWriter creates a Writer. batchSize must be positive.
func NewWriter(sink Inserter, batchSize int) (*Writer, error) {
	if batchSize <= 0 {
		return nil, domain.NewConfigError("UPSERT_BATCH_SIZE", domain.ErrBatchSize)
	}
	return &Writer{
		sink:      sink,
		batchSize: batchSize,
		newID:     uuid.NewString,
		logger:    slog.Default().With("component", "upsert-writer"),
	}, nil
}

// Write drains pairs into the sink and returns how many records were
// committed. On failure the count covers everything committed before it;
// committed records are not rolled back.
func (w *Writer) Write(ctx context.Context, pairs iter.Seq2[domain.Pair, error]) (int, error) {
	written := 0
	batch := make([]semantic.VectorRecord, 0, w.batchSize)

	for pair, err := range pairs {
		if err != nil {
			return written, err
		}
		batch = append(batch, w.record(pair))
		if len(batch) < w.batchSize {
			continue
		}
		n, err := w.flush(ctx, batch)
		written += n
		if err != nil {
			return written, err
		}
		batch = batch[:0]
	}

	if len(batch) > 0 {
		n, err := w.flush(ctx, batch)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (w *Writer) record(p domain.Pair) semantic.VectorRecord {
	payload := make(map[string]any, len(p.Sample))
	for k, v := range p.Sample {
		payload[k] = v
	}
	return semantic.VectorRecord{ID: w.newID(), Embedding: p.Vector, Payload: payload}
}

func (w *Writer) flush(ctx context.Context, batch []semantic.VectorRecord) (int, error) {
	if bi, ok := w.sink.(BatchInserter); ok {
		n, err := bi.InsertBatch(ctx, batch)
		if err != nil {
			return n, fmt.Errorf("ingest: write batch of %d: %w", len(batch), err)
		}
		w.logger.Debug("batch committed", "records", n)
		return n, nil
	}

	for i, rec := range batch {
		if err := w.sink.Insert(ctx, rec); err != nil {
			return i, fmt.Errorf("ingest: insert record %s: %w", rec.ID, err)
		}
	}
	return len(batch), nil
}
