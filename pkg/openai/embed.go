// Package openai provides the embedding client used by both pipelines. It
// talks to any OpenAI-compatible embeddings endpoint.
package openai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/llms/openai"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/WessleyAI/ragset/engine/domain"
)

const service = "embedding"

// Defaults applied when Config fields are zero.
const (
	DefaultModel     = "text-embedding-3-large"
	DefaultRateLimit = 20
	DefaultRateBurst = 5
)

// Backend is the subset of the langchaingo client the Client drives.
type Backend interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Config configures a Client.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int     // expected vector size; 0 skips the check
	RateLimit  float64 // requests per second
	RateBurst  int
}

// Client embeds texts through an OpenAI-compatible API. A Client is not
// shared between goroutines by the ingestion pool; each worker builds its own.
type Client struct {
	backend    Backend
	limiter    *rate.Limiter
	dimensions int
	transport  *http.Transport
	logger     *slog.Logger
}

// New creates a Client with an instrumented HTTP transport and a client-side
// rate limiter.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.NewConfigError("OPENAI_API_KEY", domain.ErrMissingVariable)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	httpClient := &http.Client{Transport: otelhttp.NewTransport(base)}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai: new client: %w", err)
	}

	c := NewWithBackend(llm, newLimiter(cfg.RateLimit, cfg.RateBurst), cfg.Dimensions)
	c.transport = base
	return c, nil
}

// NewWithBackend wraps an existing backend. A nil limiter disables rate
// limiting.
func NewWithBackend(b Backend, limiter *rate.Limiter, dimensions int) *Client {
	return &Client{
		backend:    b,
		limiter:    limiter,
		dimensions: dimensions,
		logger:     slog.Default().With("component", "openai-embedder"),
	}
}

func newLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		rps = DefaultRateLimit
	}
	if burst <= 0 {
		burst = DefaultRateBurst
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// EmbedOne returns the embedding of a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) (domain.Vector, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one embedding per text, aligned with the input order.
// A response with a different number of vectors is rejected outright.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([]domain.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("openai: rate limit wait: %w", err)
		}
	}

	c.logger.Debug("creating embeddings", "count", len(texts))
	vecs, err := c.backend.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, domain.Upstream(service, "create embedding", err)
	}
	if len(vecs) != len(texts) {
		return nil, domain.Upstream(service, "create embedding",
			fmt.Errorf("provider returned %d vectors for %d inputs", len(vecs), len(texts)))
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, domain.Upstream(service, "create embedding",
				fmt.Errorf("missing vector data at index %d", i))
		}
		if c.dimensions > 0 && len(v) != c.dimensions {
			return nil, domain.Upstream(service, "create embedding",
				fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), c.dimensions))
		}
	}
	return vecs, nil
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	return nil
}
