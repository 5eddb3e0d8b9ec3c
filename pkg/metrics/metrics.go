// Package metrics is a small Prometheus-compatible registry. Metrics are
// grouped into families; each label combination is its own series. The
// registry renders the text exposition format on /metrics.
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuckets are the default histogram buckets (in seconds).
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// Counter is a monotonically increasing value.
type Counter struct{ val atomic.Int64 }

func (c *Counter) Inc()         { c.val.Add(1) }
func (c *Counter) Add(n int64)  { c.val.Add(n) }
func (c *Counter) Value() int64 { return c.val.Load() }

// Gauge is a value that can go up and down.
type Gauge struct{ bits atomic.Uint64 }

func (g *Gauge) Set(v float64)  { g.bits.Store(math.Float64bits(v)) }
func (g *Gauge) Inc()           { g.Add(1) }
func (g *Gauge) Dec()           { g.Add(-1) }
func (g *Gauge) Value() float64 { return math.Float64frombits(g.bits.Load()) }

// Add adds d, which may be negative.
func (g *Gauge) Add(d float64) {
	for {
		old := g.bits.Load()
		if g.bits.CompareAndSwap(old, math.Float64bits(math.Float64frombits(old)+d)) {
			return
		}
	}
}

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64 // non-cumulative; one per bucket
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *Histogram {
	b := slices.Clone(buckets)
	slices.Sort(b)
	return &Histogram{buckets: b, counts: make([]uint64, len(b))}
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sum += v
	h.count++
	if i, _ := slices.BinarySearch(h.buckets, v); i < len(h.buckets) {
		h.counts[i]++
	}
}

// Since observes the seconds elapsed since t.
func (h *Histogram) Since(t time.Time) { h.Observe(time.Since(t).Seconds()) }

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

type kind string

const (
	kindCounter   kind = "counter"
	kindGauge     kind = "gauge"
	kindHistogram kind = "histogram"
)

type family struct {
	name    string
	help    string
	kind    kind
	buckets []float64
	series  map[string]any // rendered label set -> *Counter | *Gauge | *Histogram
}

// Registry holds metric families in registration order.
type Registry struct {
	mu       sync.Mutex
	families map[string]*family
	order    []string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{families: make(map[string]*family)}
}

// Counter returns the counter for name and the label pairs kv, creating it
// on first use.
func (r *Registry) Counter(name, help string, kv ...string) *Counter {
	return series(r, name, help, kindCounter, nil, kv, func([]float64) *Counter { return &Counter{} })
}

// Gauge returns the gauge for name and labels kv.
func (r *Registry) Gauge(name, help string, kv ...string) *Gauge {
	return series(r, name, help, kindGauge, nil, kv, func([]float64) *Gauge { return &Gauge{} })
}

// Histogram returns the histogram for name and labels kv. Nil buckets use
// DefaultBuckets; the first registration of a family fixes its buckets.
func (r *Registry) Histogram(name, help string, buckets []float64, kv ...string) *Histogram {
	if buckets == nil {
		buckets = DefaultBuckets
	}
	return series(r, name, help, kindHistogram, buckets, kv, newHistogram)
}

func series[M any](r *Registry, name, help string, k kind, buckets []float64, kv []string, mk func([]float64) *M) *M {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.families[name]
	if !ok {
		f = &family{name: name, help: help, kind: k, buckets: buckets, series: make(map[string]any)}
		r.families[name] = f
		r.order = append(r.order, name)
	}
	if f.kind != k {
		panic(fmt.Sprintf("metrics: %s registered as %s, requested as %s", name, f.kind, k))
	}
	key := labels(kv)
	if m, ok := f.series[key]; ok {
		return m.(*M)
	}
	m := mk(f.buckets)
	f.series[key] = m
	return m
}

// labels renders kv pairs as k1="v1",k2="v2". Odd trailing keys are dropped.
func labels(kv []string) string {
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", kv[i], kv[i+1])
	}
	return b.String()
}

func braced(l string) string {
	if l == "" {
		return ""
	}
	return "{" + l + "}"
}

// Render returns the Prometheus text exposition format output.
func (r *Registry) Render() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, name := range r.order {
		f := r.families[name]
		if f.help != "" {
			fmt.Fprintf(&b, "# HELP %s %s\n", name, f.help)
		}
		fmt.Fprintf(&b, "# TYPE %s %s\n", name, f.kind)

		keys := make([]string, 0, len(f.series))
		for k := range f.series {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		for _, l := range keys {
			switch m := f.series[l].(type) {
			case *Counter:
				fmt.Fprintf(&b, "%s%s %d\n", name, braced(l), m.Value())
			case *Gauge:
				fmt.Fprintf(&b, "%s%s %g\n", name, braced(l), m.Value())
			case *Histogram:
				renderHistogram(&b, name, l, m)
			}
		}
	}
	return b.String()
}

func renderHistogram(b *strings.Builder, name, l string, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()
	extra := ""
	if l != "" {
		extra = "," + l
	}
	var cumulative uint64
	for i, le := range h.buckets {
		cumulative += h.counts[i]
		fmt.Fprintf(b, "%s_bucket{le=\"%g\"%s} %d\n", name, le, extra, cumulative)
	}
	fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"%s} %d\n", name, extra, h.count)
	fmt.Fprintf(b, "%s_sum%s %g\n", name, braced(l), h.sum)
	fmt.Fprintf(b, "%s_count%s %d\n", name, braced(l), h.count)
}

// Handler serves the rendered registry.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(r.Render()))
	})
}
