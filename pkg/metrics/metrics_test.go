package metrics

import (
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

func TestCounter_MonotonicUnderConcurrency(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	c := r.NewCounter("mcpd_requests_total", "Requests handled.")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				c.Inc()
			}
		}()
	}
	wg.Wait()

	if c.Value() != 10000 {
		t.Fatalf("expected 10000, got %v", c.Value())
	}

	c.Add(-5)
	if c.Value() != 10000 {
		t.Fatal("counter must ignore negative deltas")
	}
}

func TestGauge_UpAndDown(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	g := r.NewGauge("mcpd_pending_requests", "In-flight requests.")

	g.Set(5)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 4 {
		t.Fatalf("expected 4, got %v", g.Value())
	}
}

func TestHistogram_BucketsCumulative(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	h := r.NewHistogram("mcpd_latency_seconds", "Latency.", []float64{0.1, 1})

	h.Observe(0.05)
	h.Observe(0.5)
	h.Observe(10) // lands in +Inf

	samples := h.Collect()
	// bounds: 0.1, 1, +Inf -> cumulative 1, 2, 3
	if samples[0].Value != 1 || samples[1].Value != 2 || samples[2].Value != 3 {
		t.Fatalf("bad cumulative buckets: %+v", samples)
	}
	if h.Count() != 3 {
		t.Fatalf("expected count 3, got %d", h.Count())
	}
}

func TestMeter_CountsEvents(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	m := r.NewMeter("mcpd_messages", "Messages seen.")

	m.Mark(3)
	m.Mark(2)
	if m.Count() != 5 {
		t.Fatalf("expected 5, got %d", m.Count())
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.NewCounter("dup", "")
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate name")
		}
	}()
	r.NewGauge("dup", "")
}

func TestHandler_PrometheusText(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	c := r.NewCounter("mcpd_errors_total", "Errors.")
	c.Add(2)
	r.NewMeter("mcpd_events", "Events.")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE mcpd_errors_total counter",
		"mcpd_errors_total 2",
		"# TYPE mcpd_events untyped",
		"mcpd_events_total 0",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing %q in exposition:\n%s", want, body)
		}
	}
}
