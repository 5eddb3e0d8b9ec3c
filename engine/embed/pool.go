// Package embed fans sample batches out over a fixed set of embedding
// workers. Each worker owns one provider client for the lifetime of the pool.
package embed

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/WessleyAI/ragset/engine/domain"
	"github.com/WessleyAI/ragset/pkg/fn"
)

// Embedder is a provider client owned by exactly one worker.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([]domain.Vector, error)
	Close() error
}

// Factory builds one Embedder per worker.
type Factory func() (Embedder, error)

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the pool logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// worker is the per-worker context handed to each task.
type worker struct {
	id      int
	client  Embedder
	batches int
}

// Pool embeds samples in batches across a fixed number of workers.
type Pool struct {
	pool      *ants.Pool
	idle      chan *worker
	workers   []*worker
	batchSize int
	logger    *slog.Logger
	closeOnce sync.Once
	closeErr  error
}

// NewPool builds width workers, each with its own client from factory. If any
// client fails to build, the clients already built are closed and the error
// is returned.
func NewPool(width, batchSize int, factory Factory, opts ...Option) (*Pool, error) {
	if batchSize <= 0 {
		return nil, domain.NewConfigError("EMBED_BATCH_SIZE", domain.ErrBatchSize)
	}
	if width <= 0 {
		return nil, domain.NewConfigError("EMBED_WORKERS", domain.ErrInvalidValue)
	}

	p := &Pool{
		idle:      make(chan *worker, width),
		batchSize: batchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "embed-pool")

	for i := range width {
		client, err := factory()
		if err != nil {
			p.closeClients()
			return nil, fmt.Errorf("embed: init worker %d: %w", i, err)
		}
		w := &worker{id: i, client: client}
		p.workers = append(p.workers, w)
		p.idle <- w
	}

	pool, err := ants.NewPool(width)
	if err != nil {
		p.closeClients()
		return nil, fmt.Errorf("embed: new pool: %w", err)
	}
	p.pool = pool
	p.logger.Info("pool ready", "workers", width, "batch_size", batchSize)
	return p, nil
}

type batchResult struct {
	samples []domain.SampleRecord
	vectors []domain.Vector
	err     error
}

// Embed groups samples into batches, embeds each batch on a free worker, and
// yields (sample, vector) pairs. Pairs within a batch keep input order;
// batches may arrive out of order. The first failure is yielded once and ends
// the sequence. Breaking out of the loop cancels outstanding batches.
func (p *Pool) Embed(ctx context.Context, samples iter.Seq[domain.SampleRecord], textProperty string) iter.Seq2[domain.Pair, error] {
	return func(yield func(domain.Pair, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		results := make(chan batchResult, cap(p.idle))
		submitted := 0

		go p.produce(ctx, samples, textProperty, results, &submitted)

		// Workers and the producer are finished once results is closed.
		defer func() {
			cancel()
			for range results {
			}
		}()

		emitted := 0
		for res := range results {
			if res.err != nil {
				yield(domain.Pair{}, res.err)
				return
			}
			for i, s := range res.samples {
				emitted++
				if !yield(domain.Pair{Sample: s, Vector: res.vectors[i]}, nil) {
					return
				}
			}
		}
		if err := ctx.Err(); err != nil {
			yield(domain.Pair{}, err)
			return
		}
		if emitted != submitted {
			yield(domain.Pair{}, &domain.IntegrityError{What: "embedded pairs", Expected: submitted, Got: emitted})
		}
	}
}

// produce batches the input and submits one task per batch. Submit blocks
// while every worker is busy, which bounds the work in flight.
func (p *Pool) produce(ctx context.Context, samples iter.Seq[domain.SampleRecord], textProperty string, results chan<- batchResult, submitted *int) {
	var wg sync.WaitGroup
	defer func() {
		wg.Wait()
		close(results)
	}()

	send := func(r batchResult) {
		select {
		case results <- r:
		case <-ctx.Done():
		}
	}

	for batch := range fn.Batched(fn.UntilDone(ctx, samples), p.batchSize) {
		if ctx.Err() != nil {
			return
		}
		*submitted += len(batch)
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			send(p.runBatch(ctx, batch, textProperty))
		})
		if err != nil {
			wg.Done()
			send(batchResult{err: fmt.Errorf("embed: submit batch: %w", err)})
			return
		}
	}
}

func (p *Pool) runBatch(ctx context.Context, batch []domain.SampleRecord, textProperty string) batchResult {
	w := <-p.idle
	defer func() { p.idle <- w }()

	texts := make([]string, len(batch))
	for i, s := range batch {
		texts[i] = s[textProperty]
	}
	vecs, err := w.client.EmbedBatch(ctx, texts)
	if err != nil {
		return batchResult{err: err}
	}
	if len(vecs) != len(batch) {
		return batchResult{err: &domain.IntegrityError{What: "batch vectors", Expected: len(batch), Got: len(vecs)}}
	}
	w.batches++
	return batchResult{samples: batch, vectors: vecs}
}

// Close releases the pool and tears down every worker client exactly once.
// Later calls return the first result.
func (p *Pool) Close() error {
	p.closeOnce.Do(func() {
		if p.pool != nil {
			p.pool.Release()
		}
		p.closeErr = p.closeClients()
	})
	return p.closeErr
}

func (p *Pool) closeClients() error {
	var errs []error
	for _, w := range p.workers {
		if err := w.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("embed: close worker %d: %w", w.id, err))
		}
		p.logger.Debug("worker closed", "worker", w.id, "batches", w.batches)
	}
	return errors.Join(errs...)
}
