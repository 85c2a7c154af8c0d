package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestObserveAttempt verifies the counters move with the right labels.
func TestObserveAttempt(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("gcloud", reg)

	m.ObserveAttempt("storage", "ReadObject", true, 10*time.Millisecond)
	m.ObserveAttempt("storage", "ReadObject", false, 5*time.Millisecond)
	m.ObserveRetry("storage", "ReadObject")
	m.ObserveThrottled("storage", "ReadObject")

	if got := testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("storage", "ReadObject", "ok")); got != 1 {
		t.Errorf("ok attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.AttemptsTotal.WithLabelValues("storage", "ReadObject", "error")); got != 1 {
		t.Errorf("error attempts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RetriesTotal.WithLabelValues("storage", "ReadObject")); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ThrottledTotal.WithLabelValues("storage", "ReadObject")); got != 1 {
		t.Errorf("throttled = %v, want 1", got)
	}
}

// TestCallStarted verifies the in-flight gauge pairs increments with
// decrements.
func TestCallStarted(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("gcloud", reg)

	done := m.CallStarted()
	if got := testutil.ToFloat64(m.CallsInFlight); got != 1 {
		t.Errorf("in flight = %v, want 1", got)
	}
	done()
	if got := testutil.ToFloat64(m.CallsInFlight); got != 0 {
		t.Errorf("in flight after done = %v, want 0", got)
	}
}

// TestNilMetrics verifies the nil receiver is a no-op, so the pipeline
// can run without a registry.
func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveAttempt("s", "m", true, time.Millisecond)
	m.ObserveRetry("s", "m")
	m.ObserveThrottled("s", "m")
	m.ObserveCredentialFetch(true, time.Millisecond)
	m.CallStarted()()
}
