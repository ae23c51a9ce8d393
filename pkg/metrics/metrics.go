// Package metrics provides the mcpd metric registry: counters, gauges,
// histograms, and meters with atomic updates, exposed in Prometheus text
// format. Transports, the dispatcher, the cache, and the rate limiter all
// register here.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrDuplicateMetric is returned when a name is registered twice.
var ErrDuplicateMetric = errors.New("duplicate metric name")

// atomicFloat64 stores float64 bits in a uint64 for lock-free updates.
type atomicFloat64 struct {
	bits atomic.Uint64
}

func (a *atomicFloat64) Load() float64 { return math.Float64frombits(a.bits.Load()) }

func (a *atomicFloat64) Store(v float64) { a.bits.Store(math.Float64bits(v)) }

func (a *atomicFloat64) Add(delta float64) {
	for {
		old := a.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if a.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Type identifies a metric kind.
type Type string

// Metric kinds.
const (
	TypeCounter   Type = "counter"
	TypeGauge     Type = "gauge"
	TypeHistogram Type = "histogram"
	TypeMeter     Type = "meter"
)

// Metric is implemented by every registered metric.
type Metric interface {
	Name() string
	Help() string
	Type() Type
	Collect() []Sample
}

// Sample is one exposition line.
type Sample struct {
	Name  string
	Value float64
}

// Counter is a monotonically increasing value.
type Counter struct {
	name, help string
	value      atomicFloat64
}

func (c *Counter) Name() string { return c.name }
func (c *Counter) Help() string { return c.help }
func (c *Counter) Type() Type   { return TypeCounter }

// Inc adds 1.
func (c *Counter) Inc() { c.value.Add(1) }

// Add increases the counter. Negative deltas are ignored; counters only
// go up.
func (c *Counter) Add(delta float64) {
	if delta > 0 {
		c.value.Add(delta)
	}
}

// Value returns the current count.
func (c *Counter) Value() float64 { return c.value.Load() }

// Collect implements Metric.
func (c *Counter) Collect() []Sample {
	return []Sample{{Name: c.name, Value: c.value.Load()}}
}

// Gauge is a value that can move in both directions.
type Gauge struct {
	name, help string
	value      atomicFloat64
}

func (g *Gauge) Name() string { return g.name }
func (g *Gauge) Help() string { return g.help }
func (g *Gauge) Type() Type   { return TypeGauge }

// Set stores the value.
func (g *Gauge) Set(v float64) { g.value.Store(v) }

// Inc adds 1.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec subtracts 1.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Add adjusts the gauge by delta.
func (g *Gauge) Add(delta float64) { g.value.Add(delta) }

// Value returns the current value.
func (g *Gauge) Value() float64 { return g.value.Load() }

// Collect implements Metric.
func (g *Gauge) Collect() []Sample {
	return []Sample{{Name: g.name, Value: g.value.Load()}}
}

// Histogram tracks a distribution over fixed buckets.
type Histogram struct {
	name, help string
	bounds     []float64 // sorted upper bounds, last is +Inf
	counts     []atomic.Uint64
	sum        atomicFloat64
	count      atomic.Uint64
}

func (h *Histogram) Name() string { return h.name }
func (h *Histogram) Help() string { return h.help }
func (h *Histogram) Type() Type   { return TypeHistogram }

// Observe records one value.
func (h *Histogram) Observe(v float64) {
	for i, bound := range h.bounds {
		if v <= bound {
			h.counts[i].Add(1)
			break
		}
	}
	h.sum.Add(v)
	h.count.Add(1)
}

// Count returns the number of observations.
func (h *Histogram) Count() uint64 { return h.count.Load() }

// Collect implements Metric. Bucket samples are cumulative, Prometheus
// style, followed by _sum and _count.
func (h *Histogram) Collect() []Sample {
	samples := make([]Sample, 0, len(h.bounds)+2)
	var cum uint64
	for i, bound := range h.bounds {
		cum += h.counts[i].Load()
		label := "+Inf"
		if !math.IsInf(bound, 1) {
			label = formatFloat(bound)
		}
		samples = append(samples, Sample{
			Name:  fmt.Sprintf("%s_bucket{le=%q}", h.name, label),
			Value: float64(cum),
		})
	}
	samples = append(samples,
		Sample{Name: h.name + "_sum", Value: h.sum.Load()},
		Sample{Name: h.name + "_count", Value: float64(h.count.Load())},
	)
	return samples
}

// Meter tracks an event rate: a total count plus a windowed
// events-per-second figure over the trailing interval.
type Meter struct {
	name, help string
	count      atomic.Uint64

	mu          sync.Mutex
	windowStart time.Time
	windowCount uint64
	lastRate    float64
	window      time.Duration
}

func (m *Meter) Name() string { return m.name }
func (m *Meter) Help() string { return m.help }
func (m *Meter) Type() Type   { return TypeMeter }

// Mark records n events.
func (m *Meter) Mark(n uint64) {
	m.count.Add(n)

	m.mu.Lock()
	now := time.Now()
	if elapsed := now.Sub(m.windowStart); elapsed >= m.window {
		m.lastRate = float64(m.windowCount) / elapsed.Seconds()
		m.windowCount = 0
		m.windowStart = now
	}
	m.windowCount += n
	m.mu.Unlock()
}

// Count returns the total event count.
func (m *Meter) Count() uint64 { return m.count.Load() }

// Rate returns events per second over the last completed window.
func (m *Meter) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRate
}

// Collect implements Metric.
func (m *Meter) Collect() []Sample {
	return []Sample{
		{Name: m.name + "_total", Value: float64(m.count.Load())},
		{Name: m.name + "_rate", Value: m.Rate()},
	}
}

// DefaultBuckets are request-duration buckets in seconds.
var DefaultBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// Registry owns registered metrics. Registration panics on duplicate
// names; duplicates produce invalid exposition output.
type Registry struct {
	mu      sync.RWMutex
	metrics []Metric
	names   map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{names: make(map[string]struct{})}
}

// NewCounter creates and registers a counter.
func (r *Registry) NewCounter(name, help string) *Counter {
	c := &Counter{name: name, help: help}
	r.register(c)
	return c
}

// NewGauge creates and registers a gauge.
func (r *Registry) NewGauge(name, help string) *Gauge {
	g := &Gauge{name: name, help: help}
	r.register(g)
	return g
}

// NewHistogram creates and registers a histogram. A missing +Inf bound is
// appended.
func (r *Registry) NewHistogram(name, help string, buckets []float64) *Histogram {
	bounds := make([]float64, len(buckets))
	copy(bounds, buckets)
	sort.Float64s(bounds)
	if len(bounds) == 0 || !math.IsInf(bounds[len(bounds)-1], 1) {
		bounds = append(bounds, math.Inf(1))
	}
	h := &Histogram{
		name:   name,
		help:   help,
		bounds: bounds,
		counts: make([]atomic.Uint64, len(bounds)),
	}
	r.register(h)
	return h
}

// NewMeter creates and registers a meter with a 10-second rate window.
func (r *Registry) NewMeter(name, help string) *Meter {
	m := &Meter{
		name:        name,
		help:        help,
		window:      10 * time.Second,
		windowStart: time.Now(),
	}
	r.register(m)
	return m
}

func (r *Registry) register(m Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.names[m.Name()]; dup {
		panic(fmt.Sprintf("%s: %s", ErrDuplicateMetric, m.Name()))
	}
	r.names[m.Name()] = struct{}{}
	r.metrics = append(r.metrics, m)
}

// Handler serves the registry in Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		r.mu.RLock()
		metrics := make([]Metric, len(r.metrics))
		copy(metrics, r.metrics)
		r.mu.RUnlock()

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		for _, m := range metrics {
			fmt.Fprintf(w, "# HELP %s %s\n", m.Name(), escapeHelp(m.Help()))
			fmt.Fprintf(w, "# TYPE %s %s\n", m.Name(), expositionType(m.Type()))
			for _, s := range m.Collect() {
				fmt.Fprintf(w, "%s %s\n", s.Name, formatFloat(s.Value))
			}
		}
	})
}

// expositionType maps mcpd metric kinds onto Prometheus types. Meters
// expose as untyped since Prometheus has no native meter.
func expositionType(t Type) string {
	if t == TypeMeter {
		return "untyped"
	}
	return string(t)
}

func formatFloat(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	s := fmt.Sprintf("%g", v)
	if v == math.Trunc(v) && !strings.ContainsAny(s, ".e") {
		return fmt.Sprintf("%.0f", v)
	}
	return s
}

func escapeHelp(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "\n", "\\n")
}
