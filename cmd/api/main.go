// Package main implements the ragset query API server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/ragset/engine/dataset"
	"github.com/WessleyAI/ragset/engine/domain"
	"github.com/WessleyAI/ragset/engine/pipeline"
	"github.com/WessleyAI/ragset/engine/publish"
	"github.com/WessleyAI/ragset/engine/semantic"
	"github.com/WessleyAI/ragset/pkg/config"
	"github.com/WessleyAI/ragset/pkg/metrics"
	"github.com/WessleyAI/ragset/pkg/mid"
	"github.com/WessleyAI/ragset/pkg/openai"
	"github.com/WessleyAI/ragset/pkg/resilience"
)

const maxRequestBody = 1 << 20

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	var cfg config.API
	if err := config.Load(&cfg); err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.API, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Embedding provider ---
	embedder, err := openai.New(openai.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		RateLimit:  cfg.Embedding.RateLimit,
		RateBurst:  cfg.Embedding.RateBurst,
	})
	if err != nil {
		return err
	}
	defer embedder.Close()

	// --- Qdrant ---
	var indexOpts []semantic.Option
	if cfg.Index.APIKey != "" {
		indexOpts = append(indexOpts, semantic.WithAPIKey(cfg.Index.APIKey))
	}
	store, err := semantic.New(cfg.Index.URL, cfg.Index.Collection, indexOpts...)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer store.Close()

	// --- Artifact store (optional) ---
	var publisher pipeline.Publisher
	p, err := publish.New(ctx, publish.Config{
		Token:       cfg.Store.Token,
		KeyID:       cfg.Store.KeyID,
		Destination: cfg.Store.Destination,
		Endpoint:    cfg.Store.Endpoint,
		Region:      cfg.Store.Region,
		BaseURL:     cfg.Store.BaseURL,
	})
	var ce *domain.ConfigError
	switch {
	case err == nil:
		publisher = p
	case errors.As(err, &ce) && !cfg.Store.Enabled():
		logger.Info("artifact store not configured, publishing disabled")
	default:
		return fmt.Errorf("artifact store: %w", err)
	}

	opts := pipeline.DefaultOptions()
	opts.MinCertainty = cfg.Index.MinCertainty
	opts.Logger = logger
	opts.Breaker = resilience.NewBreaker(resilience.BreakerOpts{Name: "artifact-store", Logger: logger})

	// --- NATS (optional) ---
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("ragset-api"))
		if err != nil {
			logger.Warn("nats unavailable, dataset notifications disabled", "err", err)
		} else {
			defer nc.Close()
			opts.Notifier = publish.NewNATSNotifier(nc, cfg.NATS.Subject)
		}
	}

	svc := pipeline.New(embedder, store, publisher, opts)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newHandler(svc, cfg.Server.CORSOrigin, logger, metrics.New()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Server.Port, "collection", cfg.Index.Collection)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// processor runs the query-time pipeline.
type processor interface {
	Run(ctx context.Context, req domain.ProcessRequest) (pipeline.Result, error)
}

func newHandler(svc processor, corsOrigin string, logger *slog.Logger, reg *metrics.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handleHealth)
	mux.Handle("GET /metrics", reg.Handler())
	mux.HandleFunc("POST /api/pipeline/process", handleProcess(instrument(svc, reg), logger))

	return mid.Chain(mux,
		mid.Recover(logger),
		mid.RequestID(),
		mid.Logger(logger),
		mid.CORS(corsOrigin),
		mid.OTel("ragset-api"),
		mid.MaxBody(maxRequestBody),
	)
}

// --- Handlers ---

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ProcessRequest is the JSON body for POST /api/pipeline/process. The model
// uid is accepted as modelUid, model_uid or uid.
type ProcessRequest struct {
	ModelUID      string `json:"modelUid"`
	ModelUIDSnake string `json:"model_uid"`
	UID           string `json:"uid"`
	Prompt        string `json:"prompt"`
	Limit         *int   `json:"limit"`
}

func (r ProcessRequest) toDomain() (domain.ProcessRequest, error) {
	uid := r.ModelUID
	if uid == "" {
		uid = r.ModelUIDSnake
	}
	if uid == "" {
		uid = r.UID
	}
	req := domain.ProcessRequest{UID: uid, Prompt: r.Prompt}
	if r.Limit != nil {
		if *r.Limit < domain.MinLimit {
			return req, domain.NewValidationError("limit", strconv.Itoa(*r.Limit), domain.ErrLimitOutOfRange)
		}
		req.Limit = *r.Limit
	}
	return req, nil
}

// ProcessResponse summarizes one pipeline run.
type ProcessResponse struct {
	Message      string  `json:"message"`
	ResultsCount int     `json:"results_count"`
	DatasetUID   string  `json:"dataset_uid"`
	DatasetType  string  `json:"dataset_type"`
	PublishedURL *string `json:"published_url"`
	NotPublished string  `json:"not_published_reason,omitempty"`
	EmbeddingDim int     `json:"embedding_dim"`
}

func summarize(res pipeline.Result) ProcessResponse {
	resp := ProcessResponse{
		ResultsCount: len(res.Results),
		DatasetUID:   res.UID,
		DatasetType:  res.Payload.DatasetType,
		EmbeddingDim: len(res.Embedding),
		NotPublished: res.Publication.Reason,
	}
	if resp.DatasetType == "" {
		resp.DatasetType = dataset.Type
	}
	url, published := res.PublishedURL()
	if published {
		resp.PublishedURL = &url
	}

	n := len(res.Results)
	switch {
	case n == 0:
		resp.Message = "Pipeline completed but no relevant training data was retrieved."
	case published:
		resp.Message = fmt.Sprintf("Successfully published %d training examples for uid %s.", n, res.UID)
	default:
		resp.Message = fmt.Sprintf("Retrieved %d training examples for uid %s.", n, res.UID)
	}
	return resp
}

// statusFor maps the error class onto an HTTP status.
func statusFor(err error) int {
	switch domain.Classify(err) {
	case domain.ClassClient:
		return http.StatusBadRequest
	case domain.ClassUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func handleProcess(svc processor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body ProcessRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req, err := body.toDomain()
		if err == nil {
			err = domain.ValidateRequest(req)
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		res, err := svc.Run(r.Context(), req)
		if err != nil {
			status := statusFor(err)
			logger.Error("pipeline failed", "uid", req.UID, "status", status, "err", err,
				"request_id", mid.RequestIDFrom(r.Context()))
			writeError(w, status, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, summarize(res))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
