package authcore

import (
	"sync"
	"testing"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginFailure)

	if got := m.Get(MetricLoginSuccess); got != 2 {
		t.Fatalf("login success = %d, want 2", got)
	}
	if got := m.Get(MetricLoginFailure); got != 1 {
		t.Fatalf("login failure = %d, want 1", got)
	}

	snap := m.Snapshot()
	if snap.Counters[MetricLoginSuccess] != 2 {
		t.Fatalf("snapshot login success = %d, want 2", snap.Counters[MetricLoginSuccess])
	}
}

func TestMetricsDisabled(t *testing.T) {
	m := NewMetrics(MetricsConfig{})
	m.Inc(MetricLoginSuccess)
	if got := m.Get(MetricLoginSuccess); got != 0 {
		t.Fatalf("disabled metrics counted: %d", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricLoginSuccess)
	if got := m.Get(MetricLoginSuccess); got != 0 {
		t.Fatalf("nil metrics counted: %d", got)
	}
	if snap := m.Snapshot(); snap.Counters[MetricLoginSuccess] != 0 {
		t.Fatal("nil snapshot should be zero")
	}
}

func TestMetricsConcurrentIncrements(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 8
	const perGoroutine = 1000

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				m.Inc(MetricAPIKeyValidated)
			}
		}()
	}
	wg.Wait()

	if got := m.Get(MetricAPIKeyValidated); got != goroutines*perGoroutine {
		t.Fatalf("count = %d, want %d", got, goroutines*perGoroutine)
	}
}

func TestMetricNames(t *testing.T) {
	seen := make(map[string]bool)
	for _, id := range (MetricsSnapshot{}).IDs() {
		name := id.Name()
		if name == "" || name == "unknown" {
			t.Fatalf("metric %d has no name", id)
		}
		if seen[name] {
			t.Fatalf("duplicate metric name %q", name)
		}
		seen[name] = true
	}
}
