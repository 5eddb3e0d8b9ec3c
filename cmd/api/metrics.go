package main

import (
	"context"
	"time"

	"github.com/WessleyAI/ragset/engine/domain"
	"github.com/WessleyAI/ragset/engine/pipeline"
	"github.com/WessleyAI/ragset/pkg/metrics"
)

var resultBuckets = []float64{0, 1, 5, 10, 25, 50, 100}

// instrumented records run outcomes, latency and publication results.
type instrumented struct {
	next     processor
	reg      *metrics.Registry
	inFlight *metrics.Gauge
	duration *metrics.Histogram
	results  *metrics.Histogram
}

func instrument(next processor, reg *metrics.Registry) *instrumented {
	return &instrumented{
		next:     next,
		reg:      reg,
		inFlight: reg.Gauge("ragset_pipeline_in_flight", "Pipeline runs in progress"),
		duration: reg.Histogram("ragset_pipeline_duration_seconds", "End-to-end pipeline run time", nil),
		results:  reg.Histogram("ragset_pipeline_results", "Search results per run", resultBuckets),
	}
}

func (i *instrumented) Run(ctx context.Context, req domain.ProcessRequest) (pipeline.Result, error) {
	i.inFlight.Inc()
	defer i.inFlight.Dec()
	start := time.Now()

	res, err := i.next.Run(ctx, req)
	i.duration.Since(start)

	outcome := "ok"
	if err != nil {
		outcome = domain.Classify(err).String()
	}
	i.reg.Counter("ragset_pipeline_runs_total", "Pipeline runs by outcome", "outcome", outcome).Inc()
	if err != nil {
		return res, err
	}

	i.results.Observe(float64(len(res.Results)))
	publication := "published"
	if _, ok := res.PublishedURL(); !ok {
		publication = res.Publication.Reason
	}
	i.reg.Counter("ragset_dataset_publications_total", "Publish step outcomes", "result", publication).Inc()
	return res, nil
}
