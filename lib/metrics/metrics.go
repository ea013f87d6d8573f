// Package metrics provides simple metrics collection for rxpool.
// Supports Prometheus exposition format for monitoring integration.
//
// Metrics may carry constant labels so that several instances of the same
// component (the database pool and the cache pool, for example) expose
// separate series under one metric family.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLatencyBuckets are histogram buckets in seconds suited to
// connection acquisition and creation latencies.
var DefaultLatencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Labels is a set of constant label pairs attached to a metric.
type Labels map[string]string

// render formats labels as {k="v",...} with keys sorted. Empty labels render as "".
func (l Labels) render() string {
	if len(l) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(l[k])
		parts = append(parts, k+`="`+v+`"`)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Counter is a monotonically increasing counter.
type Counter struct {
	value  uint64
	name   string
	help   string
	labels string
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v uint64) {
	atomic.AddUint64(&c.value, v)
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 {
	return atomic.LoadUint64(&c.value)
}

func (c *Counter) family() (string, string, string) { return c.name, c.help, "counter" }

func (c *Counter) samples() string {
	return fmt.Sprintf("%s%s %d\n", c.name, c.labels, c.Value())
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	value  int64
	name   string
	help   string
	labels string
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) {
	atomic.StoreInt64(&g.value, v)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Add adds the given value to the gauge.
func (g *Gauge) Add(v int64) {
	atomic.AddInt64(&g.value, v)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

func (g *Gauge) family() (string, string, string) { return g.name, g.help, "gauge" }

func (g *Gauge) samples() string {
	return fmt.Sprintf("%s%s %d\n", g.name, g.labels, g.Value())
}

// Histogram tracks the distribution of values.
type Histogram struct {
	mu      sync.Mutex
	name    string
	help    string
	labels  Labels
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func (h *Histogram) family() (string, string, string) { return h.name, h.help, "histogram" }

// bucketLabels renders the histogram labels plus the le label.
func (h *Histogram) bucketLabels(le string) string {
	merged := Labels{"le": le}
	for k, v := range h.labels {
		merged[k] = v
	}
	return merged.render()
}

func (h *Histogram) samples() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var sb strings.Builder
	for i, b := range h.buckets {
		sb.WriteString(fmt.Sprintf("%s_bucket%s %d\n", h.name, h.bucketLabels(fmt.Sprintf("%g", b)), h.counts[i]))
	}
	sb.WriteString(fmt.Sprintf("%s_bucket%s %d\n", h.name, h.bucketLabels("+Inf"), h.count))
	sb.WriteString(fmt.Sprintf("%s_sum%s %g\n", h.name, h.labels.render(), h.sum))
	sb.WriteString(fmt.Sprintf("%s_count%s %d\n", h.name, h.labels.render(), h.count))
	return sb.String()
}

// metric is the interface for all metric types.
type metric interface {
	family() (name, help, typ string)
	samples() string
}

// Registry holds all registered metrics, keyed by series.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]metric
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]metric)}
}

// defaultRegistry is the global metric registry.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// register adds m under its series key. Registering the same series again
// replaces the earlier metric.
func (r *Registry) register(key string, m metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[key] = m
}

// NewCounter creates and registers a counter.
func (r *Registry) NewCounter(name, help string, labels Labels) *Counter {
	c := &Counter{name: name, help: help, labels: labels.render()}
	r.register(name+c.labels, c)
	return c
}

// NewGauge creates and registers a gauge.
func (r *Registry) NewGauge(name, help string, labels Labels) *Gauge {
	g := &Gauge{name: name, help: help, labels: labels.render()}
	r.register(name+g.labels, g)
	return g
}

// NewHistogram creates and registers a histogram.
func (r *Registry) NewHistogram(name, help string, buckets []float64, labels Labels) *Histogram {
	h := &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.register(name+labels.render(), h)
	return h
}

// Expose returns all metrics in Prometheus exposition format.
// HELP and TYPE lines are written once per metric family.
func (r *Registry) Expose() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	families := make(map[string][]string)
	for key, m := range r.metrics {
		name, _, _ := m.family()
		families[name] = append(families[name], key)
	}

	// Sort names for consistent output
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		keys := families[name]
		sort.Strings(keys)

		_, help, typ := r.metrics[keys[0]].family()
		sb.WriteString(fmt.Sprintf("# HELP %s %s\n", name, help))
		sb.WriteString(fmt.Sprintf("# TYPE %s %s\n", name, typ))
		for _, key := range keys {
			sb.WriteString(r.metrics[key].samples())
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Handler returns an http.Handler that exposes the registry.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(r.Expose()))
	})
}

// NewCounter creates a counter in the default registry.
func NewCounter(name, help string, labels Labels) *Counter {
	return defaultRegistry.NewCounter(name, help, labels)
}

// NewGauge creates a gauge in the default registry.
func NewGauge(name, help string, labels Labels) *Gauge {
	return defaultRegistry.NewGauge(name, help, labels)
}

// NewHistogram creates a histogram in the default registry.
func NewHistogram(name, help string, buckets []float64, labels Labels) *Histogram {
	return defaultRegistry.NewHistogram(name, help, buckets, labels)
}

// Handler returns an http.Handler that exposes the default registry.
func Handler() http.Handler {
	return defaultRegistry.Handler()
}

// Process metrics
var (
	// StartTime is the unix timestamp when the process started serving.
	StartTime = NewGauge("rxpool_start_time_seconds", "Unix timestamp when the process started", nil)
)

// RecordStartTime records the current time as the start time.
func RecordStartTime() {
	StartTime.Set(time.Now().Unix())
}
