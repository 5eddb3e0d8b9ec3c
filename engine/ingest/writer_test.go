package ingest

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WessleyAI/ragset/engine/domain"
	"github.com/WessleyAI/ragset/engine/semantic"
)

// recordSink only supports single inserts.
type recordSink struct {
	records []semantic.VectorRecord
	failAt  int
}

func (s *recordSink) Insert(_ context.Context, r semantic.VectorRecord) error {
	if s.failAt > 0 && len(s.records)+1 == s.failAt {
		return errors.New("insert rejected")
	}
	s.records = append(s.records, r)
	return nil
}

// batchSink commits whole batches.
type batchSink struct {
	recordSink
	batches   [][]semantic.VectorRecord
	failBatch int
}

func (s *batchSink) InsertBatch(_ context.Context, rs []semantic.VectorRecord) (int, error) {
	if s.failBatch > 0 && len(s.batches)+1 == s.failBatch {
		return 0, errors.New("vector dimension mismatch")
	}
	s.batches = append(s.batches, append([]semantic.VectorRecord(nil), rs...))
	s.records = append(s.records, rs...)
	return len(rs), nil
}

func pairs(n int, tail error) iter.Seq2[domain.Pair, error] {
	return func(yield func(domain.Pair, error) bool) {
		for i := range n {
			p := domain.Pair{Sample: domain.SampleRecord{"input": string(rune('a' + i%26))}, Vector: domain.Vector{float32(i)}}
			if !yield(p, nil) {
				return
			}
		}
		if tail != nil {
			yield(domain.Pair{}, tail)
		}
	}
}

func TestWriterUsesBatchCapability(t *testing.T) {
	sink := &batchSink{}
	w, err := NewWriter(sink, 4)
	require.NoError(t, err)

	n, err := w.Write(context.Background(), pairs(10, nil))
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	require.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[0], 4)
	assert.Len(t, sink.batches[2], 2)
}

func TestWriterFallsBackToSingleInserts(t *testing.T) {
	sink := &recordSink{}
	w, err := NewWriter(sink, 3)
	require.NoError(t, err)

	n, err := w.Write(context.Background(), pairs(7, nil))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Len(t, sink.records, 7)
	assert.Equal(t, "a", sink.records[0].Payload["input"])
}

func TestWriterAssignsFreshIDs(t *testing.T) {
	sink := &batchSink{}
	w, err := NewWriter(sink, 2)
	require.NoError(t, err)
	_, err = w.Write(context.Background(), pairs(20, nil))
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, r := range sink.records {
		require.NotEmpty(t, r.ID)
		assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
	}
}

func TestWriterBatchFailureReportsCommittedCount(t *testing.T) {
	sink := &batchSink{failBatch: 2}
	w, err := NewWriter(sink, 5)
	require.NoError(t, err)

	n, err := w.Write(context.Background(), pairs(12, nil))
	require.Error(t, err)
	assert.Equal(t, 5, n)
}

func TestWriterSingleInsertFailureReportsCommittedCount(t *testing.T) {
	sink := &recordSink{failAt: 4}
	w, err := NewWriter(sink, 2)
	require.NoError(t, err)

	n, err := w.Write(context.Background(), pairs(6, nil))
	require.Error(t, err)
	assert.Equal(t, 3, n)
}

func TestWriterStopsOnUpstreamError(t *testing.T) {
	boom := domain.Upstream("embedding", "create embedding", errors.New("503"))
	sink := &batchSink{}
	w, err := NewWriter(sink, 4)
	require.NoError(t, err)

	n, err := w.Write(context.Background(), pairs(6, boom))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 4, n, "only full batches are committed before the failure")
}

func TestNewWriterRejectsBadBatchSize(t *testing.T) {
	_, err := NewWriter(&recordSink{}, 0)
	require.ErrorIs(t, err, domain.ErrBatchSize)
}
