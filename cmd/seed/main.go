// Command seed loads a training corpus into the Qdrant collection used by
// the query API: records are translated into samples, embedded in parallel
// and upserted in batches.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/WessleyAI/ragset/engine/corpus"
	"github.com/WessleyAI/ragset/engine/domain"
	"github.com/WessleyAI/ragset/engine/embed"
	"github.com/WessleyAI/ragset/engine/ingest"
	"github.com/WessleyAI/ragset/engine/semantic"
	"github.com/WessleyAI/ragset/pkg/config"
	"github.com/WessleyAI/ragset/pkg/openai"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "seed: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:   "seed",
		Usage:  "Embed a corpus and load it into the vector index",
		Before: setupLogger,
		Action: seed,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "log-level", Aliases: []string{"l"}, Usage: "debug, info, warn or error", Value: "info", EnvVars: []string{"LOG_LEVEL"}},
			&cli.StringFlag{Name: "profile", Usage: "YAML dataset profile; flags override its fields", EnvVars: []string{"CORPUS_PROFILE"}},
			&cli.StringFlag{Name: "dataset", Aliases: []string{"d"}, Usage: "Hugging Face dataset id", EnvVars: []string{"CORPUS_DATASET"}},
			&cli.StringFlag{Name: "config", Usage: "Hugging Face dataset config", EnvVars: []string{"CORPUS_CONFIG"}},
			&cli.StringFlag{Name: "split", Usage: "dataset split", EnvVars: []string{"CORPUS_SPLIT"}},
			&cli.StringFlag{Name: "path", Aliases: []string{"f"}, Usage: "local .jsonl or .json corpus instead of the hub", EnvVars: []string{"CORPUS_PATH"}},
			&cli.StringFlag{Name: "hub-token", Usage: "token for gated datasets", EnvVars: []string{"HF_TOKEN"}},
			&cli.IntFlag{Name: "hub-page-size", Usage: "rows per datasets-server request (max 100)", Value: corpus.DefaultPageSize, EnvVars: []string{"CORPUS_PAGE_SIZE"}},
			&cli.Float64Flag{Name: "hub-rate", Usage: "datasets-server requests per second", Value: 5, EnvVars: []string{"CORPUS_RATE_LIMIT"}},
			&cli.StringFlag{Name: "text-field", Usage: "record field holding the text to embed", EnvVars: []string{"CORPUS_TEXT_FIELD"}},
			&cli.StringFlag{Name: "task-field", Usage: "optional record field holding the task label", EnvVars: []string{"CORPUS_TASK_FIELD"}},
			&cli.StringSliceFlag{Name: "output-field", Usage: "mandatory expected-output field (repeatable)", EnvVars: []string{"CORPUS_OUTPUT_FIELDS"}},
			&cli.IntFlag{Name: "max-samples", Usage: "stop after N samples (0 = all)", EnvVars: []string{"CORPUS_MAX_SAMPLES"}},
			&cli.IntFlag{Name: "batch-size", Usage: "texts per embedding request", Value: 32, EnvVars: []string{"EMBED_BATCH_SIZE"}},
			&cli.IntFlag{Name: "workers", Usage: "parallel embedding workers", Value: 2, EnvVars: []string{"EMBED_WORKERS"}},
			&cli.IntFlag{Name: "upsert-batch-size", Usage: "points per upsert", Value: 64, EnvVars: []string{"UPSERT_BATCH_SIZE"}},
			&cli.StringFlag{Name: "metric", Usage: "cosine, dot, euclid or manhattan", Value: string(domain.MetricCosine), EnvVars: []string{"QDRANT_METRIC"}},
			&cli.IntFlag{Name: "progress-every", Usage: "log progress every N records", Value: ingest.DefaultProgressEvery},
		},
	}
}

func setupLogger(c *cli.Context) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.String("log-level"))); err != nil {
		return domain.NewConfigError("log-level", domain.ErrInvalidValue)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

// datasetSpec merges the profile with the flags that were set.
func datasetSpec(c *cli.Context) (domain.DatasetSpec, error) {
	spec, err := domain.LoadProfile(c.String("profile"), domain.DatasetSpec{
		DatasetName:          c.String("dataset"),
		DatasetConfigName:    c.String("config"),
		DatasetSplit:         c.String("split"),
		TextField:            c.String("text-field"),
		TaskField:            c.String("task-field"),
		ExpectedOutputFields: c.StringSlice("output-field"),
		MaxSamples:           c.Int("max-samples"),
	})
	if err != nil {
		return spec, err
	}
	if spec.DatasetName == "" && c.String("path") != "" {
		spec.DatasetName = strings.TrimSuffix(filepath.Base(c.String("path")), filepath.Ext(c.String("path")))
	}
	return spec, nil
}

func parseMetric(s string) (domain.Metric, error) {
	m := domain.Metric(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case domain.MetricCosine, domain.MetricDot, domain.MetricEuclid, domain.MetricManhattan:
		return m, nil
	}
	return "", domain.NewConfigError("QDRANT_METRIC", domain.ErrInvalidValue)
}

// positive validates a size flag.
func positive(name string, v int) error {
	if v <= 0 {
		return domain.NewConfigError(name, fmt.Errorf("%w: must be a positive integer, got %d", domain.ErrInvalidValue, v))
	}
	return nil
}

func seed(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	spec, err := datasetSpec(c)
	if err != nil {
		return err
	}
	ds, err := domain.NewDatasetConfig(spec)
	if err != nil {
		return err
	}
	metric, err := parseMetric(c.String("metric"))
	if err != nil {
		return err
	}
	for _, f := range []struct {
		env  string
		flag string
	}{
		{"EMBED_BATCH_SIZE", "batch-size"},
		{"EMBED_WORKERS", "workers"},
		{"UPSERT_BATCH_SIZE", "upsert-batch-size"},
	} {
		if err := positive(f.env, c.Int(f.flag)); err != nil {
			return err
		}
	}

	var cfg config.Seed
	if err := config.Load(&cfg); err != nil {
		return err
	}

	var source ingest.Source
	if path := c.String("path"); path != "" {
		source = corpus.FileSource{Path: path}
	} else {
		if c.Float64("hub-rate") <= 0 {
			return domain.NewConfigError("CORPUS_RATE_LIMIT", domain.ErrInvalidValue)
		}
		hub, err := corpus.NewHubSource(spec.DatasetName, spec.DatasetConfigName, ds.DatasetSplit(),
			corpus.WithPageSize(c.Int("hub-page-size")),
			corpus.WithRateLimit(c.Float64("hub-rate"), 1),
			corpus.WithLogger(logger))
		if err != nil {
			return err
		}
		hub.Token = c.String("hub-token")
		source = hub
	}

	var indexOpts []semantic.Option
	if cfg.Index.APIKey != "" {
		indexOpts = append(indexOpts, semantic.WithAPIKey(cfg.Index.APIKey))
	}
	store, err := semantic.New(cfg.Index.URL, cfg.Index.Collection, indexOpts...)
	if err != nil {
		return err
	}
	defer store.Close()

	embedCfg := openai.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		RateLimit:  cfg.Embedding.RateLimit,
		RateBurst:  cfg.Embedding.RateBurst,
	}
	pool, err := embed.NewPool(c.Int("workers"), c.Int("batch-size"), func() (embed.Embedder, error) {
		client, err := openai.New(embedCfg)
		if err != nil {
			return nil, err
		}
		return client, nil
	}, embed.WithLogger(logger))
	if err != nil {
		return err
	}
	defer pool.Close()

	writer, err := ingest.NewWriter(store, c.Int("upsert-batch-size"))
	if err != nil {
		return err
	}

	p := &ingest.Pipeline{
		Source:        source,
		Dataset:       ds,
		Provisioner:   store,
		Embedder:      pool,
		Writer:        writer,
		Dimensions:    cfg.Embedding.Dimensions,
		Metric:        metric,
		ProgressEvery: c.Int("progress-every"),
		Logger:        logger,
	}
	n, err := p.Run(ctx)
	if err != nil {
		if n > 0 {
			logger.Warn("run aborted after partial ingest", "ingested", n)
		}
		return err
	}

	fmt.Fprintf(c.App.Writer, "Ingested %d samples from %s:%s into collection '%s'.\n",
		n, ds.DatasetName(), ds.DatasetSplit(), store.Collection())
	return nil
}
