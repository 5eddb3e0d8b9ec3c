// Package pipeline orchestrates the query-time flow. It embeds a prompt,
// searches the vector index, builds the dataset payload and, when possible,
// publishes it to the artifact store.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/WessleyAI/ragset/engine/dataset"
	"github.com/WessleyAI/ragset/engine/domain"
	"github.com/WessleyAI/ragset/engine/publish"
	"github.com/WessleyAI/ragset/engine/semantic"
	"github.com/WessleyAI/ragset/pkg/fn"
	"github.com/WessleyAI/ragset/pkg/resilience"
)

// Embedder embeds a single prompt.
type Embedder interface {
	EmbedOne(ctx context.Context, text string) (domain.Vector, error)
}

// Searcher runs a nearest-neighbor query.
type Searcher interface {
	Search(ctx context.Context, embedding []float32, limit int, minCertainty float64) ([]domain.SearchResult, error)
}

// Publisher uploads a payload and returns its URL.
type Publisher interface {
	Publish(ctx context.Context, uid string, payload dataset.Payload) (string, error)
}

// Notifier announces a published dataset.
type Notifier interface {
	Notify(ctx context.Context, ev publish.DatasetReady) error
}

// Reasons a dataset was not published.
const (
	ReasonNoResults            = "no_results"
	ReasonPublisherUnavailable = "publisher_unavailable"
	ReasonPublishFailed        = "publish_failed"
)

// Publication is the outcome of the optional publish step. URL is set only
// on success; otherwise Reason says why, and Err carries the failure message
// for ReasonPublishFailed.
type Publication struct {
	URL    string `json:"url,omitempty"`
	Reason string `json:"reason,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Result is the terminal state of one run.
type Result struct {
	UID         string                `json:"uid"`
	Embedding   domain.Vector         `json:"embedding"`
	Results     []domain.SearchResult `json:"results"`
	Payload     dataset.Payload       `json:"dataset_payload"`
	Publication Publication           `json:"publication"`
}

// PublishedURL returns the artifact URL if the dataset was published.
func (r Result) PublishedURL() (string, bool) {
	return r.Publication.URL, r.Publication.URL != ""
}

// Options configures the Service.
type Options struct {
	Limit          int
	MinCertainty   float64
	PublishTimeout time.Duration
	// Breaker guards the publisher. Nil disables it.
	Breaker  *resilience.Breaker
	Notifier Notifier
	Logger   *slog.Logger
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Limit:          semantic.DefaultLimit,
		PublishTimeout: 30 * time.Second,
	}
}

// Service runs the query-time pipeline. Publisher may be nil, in which case
// publishing is reported as unavailable.
type Service struct {
	embed     Embedder
	search    Searcher
	publisher Publisher
	opts      Options
	logger    *slog.Logger
	run       fn.Stage[*state, *state]
}

type state struct {
	req       domain.ProcessRequest
	embedding domain.Vector
	results   []domain.SearchResult
	payload   dataset.Payload
}

// New creates a Service.
func New(embed Embedder, search Searcher, publisher Publisher, opts Options) *Service {
	if opts.Limit <= 0 {
		opts.Limit = semantic.DefaultLimit
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = DefaultOptions().PublishTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		embed:     embed,
		search:    search,
		publisher: publisher,
		opts:      opts,
		logger:    logger.With("component", "pipeline"),
	}
	s.run = fn.Then(
		fn.Then(
			fn.TracedStage[*state, *state]("pipeline.embed", s.embedStage),
			fn.TracedStage[*state, *state]("pipeline.search", s.searchStage),
		),
		fn.TracedStage[*state, *state]("pipeline.build", s.buildStage),
	)
	return s
}

// Run executes one request. Embedding and search failures abort the run
// with their typed error; publishing failures never do.
func (s *Service) Run(ctx context.Context, req domain.ProcessRequest) (Result, error) {
	if err := domain.ValidateRequest(req); err != nil {
		return Result{}, err
	}
	s.logger.Info("pipeline run start", "uid", req.UID, "prompt_len", len(req.Prompt))

	st, err := s.run(ctx, &state{req: req}).Unwrap()
	if err != nil {
		s.logger.Error("pipeline run failed", "uid", req.UID, "class", domain.Classify(err).String(), "err", err)
		return Result{}, err
	}

	pub := fn.TracedStage[*state, Publication]("pipeline.publish", func(ctx context.Context, st *state) fn.Result[Publication] {
		return fn.Ok(s.publish(ctx, st))
	})(ctx, st).Must()

	s.logger.Info("pipeline run done", "uid", req.UID, "results", len(st.results), "published", pub.URL != "")
	return Result{
		UID:         req.UID,
		Embedding:   st.embedding,
		Results:     st.results,
		Payload:     st.payload,
		Publication: pub,
	}, nil
}

func (s *Service) embedStage(ctx context.Context, st *state) fn.Result[*state] {
	v, err := s.embed.EmbedOne(ctx, st.req.Prompt)
	if err != nil {
		return fn.Err[*state](err)
	}
	st.embedding = v
	s.logger.Debug("prompt embedded", "dim", len(v))
	return fn.Ok(st)
}

func (s *Service) searchStage(ctx context.Context, st *state) fn.Result[*state] {
	limit := s.opts.Limit
	if st.req.Limit > 0 {
		limit = st.req.Limit
	}
	results, err := s.search.Search(ctx, st.embedding, limit, s.opts.MinCertainty)
	if err != nil {
		return fn.Err[*state](err)
	}
	if results == nil {
		results = []domain.SearchResult{}
	}
	st.results = results
	s.logger.Info("search done", "uid", st.req.UID, "results", len(results))
	return fn.Ok(st)
}

func (s *Service) buildStage(_ context.Context, st *state) fn.Result[*state] {
	st.payload = dataset.Build(st.req.UID, st.req.Prompt, st.embedding, st.results)
	return fn.Ok(st)
}

func (s *Service) publish(ctx context.Context, st *state) Publication {
	switch {
	case len(st.results) == 0:
		return Publication{Reason: ReasonNoResults}
	case s.publisher == nil:
		return Publication{Reason: ReasonPublisherUnavailable}
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.PublishTimeout)
	defer cancel()

	var url string
	call := func(ctx context.Context) error {
		var err error
		url, err = s.publisher.Publish(ctx, st.req.UID, st.payload)
		return err
	}
	var err error
	if s.opts.Breaker != nil {
		err = s.opts.Breaker.Call(ctx, call)
	} else {
		err = call(ctx)
	}
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			s.logger.Warn("publish skipped, breaker open", "uid", st.req.UID)
		} else {
			s.logger.Error("publish failed", "uid", st.req.UID, "err", err)
		}
		return Publication{Reason: ReasonPublishFailed, Err: err.Error()}
	}

	s.logger.Info("dataset published", "uid", st.req.UID, "url", url)
	if s.opts.Notifier != nil {
		ev := publish.DatasetReady{
			UID:       st.req.UID,
			URL:       url,
			Count:     st.payload.Count,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.opts.Notifier.Notify(ctx, ev); err != nil {
			s.logger.Warn("dataset ready notification failed", "uid", st.req.UID, "err", err)
		}
	}
	return Publication{URL: url}
}
