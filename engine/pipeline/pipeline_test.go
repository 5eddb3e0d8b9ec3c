package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/WessleyAI/ragset/engine/dataset"
	"github.com/WessleyAI/ragset/engine/domain"
	"github.com/WessleyAI/ragset/engine/publish"
	"github.com/WessleyAI/ragset/pkg/resilience"
)

// --- mocks ---

type mockEmbedder struct {
	vec domain.Vector
	err error
}

func (m *mockEmbedder) EmbedOne(context.Context, string) (domain.Vector, error) {
	return m.vec, m.err
}

type mockSearcher struct {
	results   []domain.SearchResult
	err       error
	lastLimit int
	lastMin   float64
}

func (m *mockSearcher) Search(_ context.Context, _ []float32, limit int, minCertainty float64) ([]domain.SearchResult, error) {
	m.lastLimit = limit
	m.lastMin = minCertainty
	return m.results, m.err
}

type mockPublisher struct {
	url   string
	err   error
	calls int
	last  dataset.Payload
}

func (m *mockPublisher) Publish(_ context.Context, uid string, p dataset.Payload) (string, error) {
	m.calls++
	m.last = p
	return m.url, m.err
}

type mockNotifier struct {
	events []publish.DatasetReady
	err    error
}

func (m *mockNotifier) Notify(_ context.Context, ev publish.DatasetReady) error {
	m.events = append(m.events, ev)
	return m.err
}

func quietOpts() Options {
	opts := DefaultOptions()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return opts
}

func someResults() []domain.SearchResult {
	c, d := 0.91, 0.18
	return []domain.SearchResult{
		{ID: "a", Properties: map[string]any{"input": "the flight was late"}, Certainty: &c, Distance: &d},
		{ID: "b", Properties: map[string]any{"input": "delayed departure"}},
	}
}

var req = domain.ProcessRequest{UID: "m-1", Prompt: "flight delay"}

// --- tests ---

func TestRunPublishes(t *testing.T) {
	pub := &mockPublisher{url: "https://store/m-1/dataset.json"}
	notes := &mockNotifier{}
	opts := quietOpts()
	opts.Notifier = notes
	s := New(&mockEmbedder{vec: domain.Vector{0.1, 0.2, 0.3}}, &mockSearcher{results: someResults()}, pub, opts)

	res, err := s.Run(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	url, ok := res.PublishedURL()
	if !ok || url != "https://store/m-1/dataset.json" {
		t.Fatalf("expected published url, got %q %v", url, ok)
	}
	if res.Payload.Count != 2 || len(res.Payload.Examples) != 2 {
		t.Fatalf("unexpected payload count %d", res.Payload.Count)
	}
	if res.Payload.Query.EmbeddingDim != 3 {
		t.Fatalf("expected embedding_dim 3, got %d", res.Payload.Query.EmbeddingDim)
	}
	if pub.calls != 1 || pub.last.DatasetUID != "m-1" {
		t.Fatalf("unexpected publish calls: %d", pub.calls)
	}
	if len(notes.events) != 1 || notes.events[0].URL != url || notes.events[0].Count != 2 {
		t.Fatalf("unexpected notifications: %+v", notes.events)
	}
}

func TestRunNoResultsSkipsPublish(t *testing.T) {
	pub := &mockPublisher{url: "x"}
	s := New(&mockEmbedder{vec: domain.Vector{1}}, &mockSearcher{}, pub, quietOpts())

	res, err := s.Run(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.PublishedURL(); ok {
		t.Fatal("expected no url")
	}
	if res.Results == nil || len(res.Results) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", res.Results)
	}
	if res.Publication.Reason != ReasonNoResults {
		t.Fatalf("expected no_results, got %q", res.Publication.Reason)
	}
	if pub.calls != 0 {
		t.Fatal("publisher must not be called without results")
	}
}

func TestRunPublishFailureKeepsPayload(t *testing.T) {
	pub := &mockPublisher{err: domain.Upstream("artifact-store", "put m-1/dataset.json", errors.New("403"))}
	s := New(&mockEmbedder{vec: domain.Vector{1, 2}}, &mockSearcher{results: someResults()}, pub, quietOpts())

	res, err := s.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("publish failure must not abort the run: %v", err)
	}
	if _, ok := res.PublishedURL(); ok {
		t.Fatal("expected no url")
	}
	if res.Publication.Reason != ReasonPublishFailed || res.Publication.Err == "" {
		t.Fatalf("unexpected publication: %+v", res.Publication)
	}
	if len(res.Results) != 2 || res.Payload.Count != 2 {
		t.Fatal("payload and results must survive a failed publish")
	}
}

func TestRunWithoutPublisher(t *testing.T) {
	s := New(&mockEmbedder{vec: domain.Vector{1}}, &mockSearcher{results: someResults()}, nil, quietOpts())
	res, err := s.Run(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Publication.Reason != ReasonPublisherUnavailable {
		t.Fatalf("expected publisher_unavailable, got %q", res.Publication.Reason)
	}
}

func TestRunBreakerOpenSkipsPublisher(t *testing.T) {
	pub := &mockPublisher{err: errors.New("store down")}
	opts := quietOpts()
	opts.Breaker = resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 1, Timeout: time.Hour, Logger: opts.Logger})
	s := New(&mockEmbedder{vec: domain.Vector{1}}, &mockSearcher{results: someResults()}, pub, opts)

	if _, err := s.Run(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	res, err := s.Run(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if pub.calls != 1 {
		t.Fatalf("expected breaker to stop the second call, got %d calls", pub.calls)
	}
	if res.Publication.Reason != ReasonPublishFailed || res.Publication.Err != resilience.ErrCircuitOpen.Error() {
		t.Fatalf("unexpected publication: %+v", res.Publication)
	}
}

func TestRunNotifierFailureIgnored(t *testing.T) {
	opts := quietOpts()
	opts.Notifier = &mockNotifier{err: errors.New("nats down")}
	s := New(&mockEmbedder{vec: domain.Vector{1}}, &mockSearcher{results: someResults()}, &mockPublisher{url: "u"}, opts)
	res, err := s.Run(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if url, _ := res.PublishedURL(); url != "u" {
		t.Fatalf("expected url, got %q", url)
	}
}

func TestRunEmbedError(t *testing.T) {
	embedErr := domain.Upstream("embedding", "create embedding", errors.New("503"))
	search := &mockSearcher{}
	s := New(&mockEmbedder{err: embedErr}, search, nil, quietOpts())

	_, err := s.Run(context.Background(), req)
	if !errors.Is(err, embedErr) {
		t.Fatalf("expected embed error, got %v", err)
	}
	if domain.Classify(err) != domain.ClassUpstream {
		t.Fatalf("expected upstream class")
	}
	if search.lastLimit != 0 {
		t.Fatal("search must not run after embedding failed")
	}
}

func TestRunSearchErrorsStayDistinct(t *testing.T) {
	for _, searchErr := range []error{
		&domain.NotFoundError{Collection: "LLMTrainingSample", Existing: []string{"other"}},
		&domain.SchemaError{Collection: "LLMTrainingSample", Reason: "no vector config"},
		domain.Upstream("qdrant", "search", errors.New("unavailable")),
	} {
		pub := &mockPublisher{}
		s := New(&mockEmbedder{vec: domain.Vector{1}}, &mockSearcher{err: searchErr}, pub, quietOpts())
		_, err := s.Run(context.Background(), req)
		if !errors.Is(err, searchErr) {
			t.Fatalf("expected %v, got %v", searchErr, err)
		}
		if pub.calls != 0 {
			t.Fatal("publisher must not be called after a failed search")
		}
	}
}

func TestRunValidation(t *testing.T) {
	s := New(&mockEmbedder{}, &mockSearcher{}, nil, quietOpts())
	_, err := s.Run(context.Background(), domain.ProcessRequest{UID: "m-1"})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRunLimitAndThreshold(t *testing.T) {
	search := &mockSearcher{}
	opts := quietOpts()
	opts.MinCertainty = 0.7
	s := New(&mockEmbedder{vec: domain.Vector{1}}, search, nil, opts)

	if _, err := s.Run(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if search.lastLimit != 12 || search.lastMin != 0.7 {
		t.Fatalf("unexpected search args: limit=%d min=%v", search.lastLimit, search.lastMin)
	}

	r := req
	r.Limit = 40
	if _, err := s.Run(context.Background(), r); err != nil {
		t.Fatal(err)
	}
	if search.lastLimit != 40 {
		t.Fatalf("expected request limit, got %d", search.lastLimit)
	}
}
