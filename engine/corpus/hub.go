package corpus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	neturl "net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/WessleyAI/ragset/engine/domain"
	"github.com/WessleyAI/ragset/pkg/fn"
)

const (
	// DefaultHubURL is the public datasets-server endpoint.
	DefaultHubURL = "https://datasets-server.huggingface.co"
	// DefaultPageSize is the largest page the rows API serves.
	DefaultPageSize = 100

	hubService = "datasets-server"
)

// HubSource pages through a dataset split via the datasets-server /rows API.
type HubSource struct {
	Dataset string
	Config  string // "default" when empty
	Split   string
	Token   string // optional bearer token for gated datasets

	baseURL  string
	pageSize int
	client   *http.Client
	limiter  *rate.Limiter
	retry    fn.RetryOpts
	logger   *slog.Logger
}

// HubOption configures a HubSource.
type HubOption func(*HubSource)

// WithBaseURL points the source at another datasets-server.
func WithBaseURL(u string) HubOption { return func(h *HubSource) { h.baseURL = u } }

// WithPageSize sets the rows requested per call.
func WithPageSize(n int) HubOption { return func(h *HubSource) { h.pageSize = n } }

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) HubOption { return func(h *HubSource) { h.client = c } }

// WithRateLimit caps page requests per second.
func WithRateLimit(rps float64, burst int) HubOption {
	return func(h *HubSource) { h.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1)) }
}

// WithRetry overrides the retry policy for page fetches. A nil Retryable
// keeps the rows API classification.
func WithRetry(opts fn.RetryOpts) HubOption { return func(h *HubSource) { h.retry = opts } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) HubOption { return func(h *HubSource) { h.logger = l } }

// NewHubSource creates a HubSource for dataset:config:split.
func NewHubSource(dataset, config, split string, opts ...HubOption) (*HubSource, error) {
	if dataset == "" {
		return nil, domain.NewConfigError("CORPUS_DATASET", domain.ErrMissingVariable)
	}
	if config == "" {
		config = "default"
	}
	if split == "" {
		split = "train"
	}
	h := &HubSource{
		Dataset:  dataset,
		Config:   config,
		Split:    split,
		baseURL:  DefaultHubURL,
		pageSize: DefaultPageSize,
		limiter:  rate.NewLimiter(rate.Limit(5), 1),
		retry:    fn.DefaultRetry,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.retry.Retryable == nil {
		h.retry.Retryable = retryable
	}
	if h.pageSize <= 0 || h.pageSize > DefaultPageSize {
		return nil, domain.NewConfigError("CORPUS_PAGE_SIZE", domain.ErrInvalidValue)
	}
	if h.client == nil {
		h.client = &http.Client{
			Timeout:   60 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("component", "corpus", "dataset", dataset, "split", split)
	return h, nil
}

type rowsResponse struct {
	Rows []struct {
		RowIdx int    `json:"row_idx"`
		Row    Record `json:"row"`
	} `json:"rows"`
	NumRowsTotal int `json:"num_rows_total"`
}

// statusError is a non-200 reply from the rows API.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// retryable reports throttling, server errors, and transport failures.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var syntax *json.SyntaxError
	return !errors.As(err, &syntax)
}

// Records streams every row of the split, page by page.
func (h *HubSource) Records(ctx context.Context) iter.Seq2[Record, error] {
	return func(yield func(Record, error) bool) {
		for offset := 0; ; {
			page, err := fn.Retry(ctx, h.retry, func(ctx context.Context) fn.Result[rowsResponse] {
				page, err := h.fetch(ctx, offset)
				return fn.FromPair(page, err)
			}).Unwrap()
			if err != nil {
				if ctx.Err() == nil {
					err = domain.Upstream(hubService, "rows offset="+strconv.Itoa(offset), err)
				}
				yield(nil, err)
				return
			}
			for _, r := range page.Rows {
				if !yield(r.Row, nil) {
					return
				}
			}
			offset += len(page.Rows)
			h.logger.Debug("page fetched", "offset", offset, "total", page.NumRowsTotal)
			if len(page.Rows) == 0 || offset >= page.NumRowsTotal {
				return
			}
		}
	}
}

func (h *HubSource) fetch(ctx context.Context, offset int) (rowsResponse, error) {
	var out rowsResponse
	if err := h.limiter.Wait(ctx); err != nil {
		return out, err
	}
	q := neturl.Values{}
	q.Set("dataset", h.Dataset)
	q.Set("config", h.Config)
	q.Set("split", h.Split)
	q.Set("offset", strconv.Itoa(offset))
	q.Set("length", strconv.Itoa(h.pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/rows?"+q.Encode(), nil)
	if err != nil {
		return out, err
	}
	req.Header.Set("User-Agent", "ragset-seed/1.0")
	if h.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.Token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return out, &statusError{Code: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode rows: %w", err)
	}
	return out, nil
}
