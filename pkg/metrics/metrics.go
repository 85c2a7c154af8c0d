// Package metrics exposes Prometheus metrics for the call pipeline:
// attempt counts, attempt latencies, retries, and throttled attempts,
// labeled by service and method; an unlabeled gauge of in-flight calls;
// and credential fetch latencies labeled by outcome.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the metric container shared by every client built from one
// registry.
type Metrics struct {
	AttemptsTotal   *prometheus.CounterVec
	AttemptDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	ThrottledTotal  *prometheus.CounterVec
	CallsInFlight   prometheus.Gauge
	CredentialFetch *prometheus.HistogramVec
}

// New builds and registers the metric set. Pass nil to register on the
// default registry.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := func(c prometheus.Collector) {
		reg.MustRegister(c)
	}
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "client_attempts_total",
				Help:      "Total number of RPC attempts, including retries",
			},
			[]string{"service", "method", "outcome"},
		),
		AttemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "client_attempt_duration_seconds",
				Help:      "Duration of individual RPC attempts",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"service", "method"},
		),
		RetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "client_retries_total",
				Help:      "Total number of retried attempts",
			},
			[]string{"service", "method"},
		),
		ThrottledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "client_throttled_attempts_total",
				Help:      "Retry attempts suppressed by the adaptive throttler",
			},
			[]string{"service", "method"},
		),
		CallsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "client_calls_in_flight",
				Help:      "Logical calls currently executing",
			},
		),
		CredentialFetch: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "client_credential_fetch_duration_seconds",
				Help:      "Time spent obtaining auth headers",
				Buckets:   []float64{.0001, .001, .01, .05, .1, .5, 1, 5},
			},
			[]string{"outcome"},
		),
	}
	factory(m.AttemptsTotal)
	factory(m.AttemptDuration)
	factory(m.RetriesTotal)
	factory(m.ThrottledTotal)
	factory(m.CallsInFlight)
	factory(m.CredentialFetch)
	return m
}

// ObserveAttempt records one finished attempt.
func (m *Metrics) ObserveAttempt(service, method string, ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(service, method, outcome(ok)).Inc()
	m.AttemptDuration.WithLabelValues(service, method).Observe(elapsed.Seconds())
}

// ObserveRetry records a retried attempt.
func (m *Metrics) ObserveRetry(service, method string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(service, method).Inc()
}

// ObserveThrottled records a retry suppressed by the throttler.
func (m *Metrics) ObserveThrottled(service, method string) {
	if m == nil {
		return
	}
	m.ThrottledTotal.WithLabelValues(service, method).Inc()
}

// ObserveCredentialFetch records one credential acquisition.
func (m *Metrics) ObserveCredentialFetch(ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.CredentialFetch.WithLabelValues(outcome(ok)).Observe(elapsed.Seconds())
}

// CallStarted marks a logical call as in flight; the returned func marks
// it done.
func (m *Metrics) CallStarted() func() {
	if m == nil {
		return func() {}
	}
	m.CallsInFlight.Inc()
	return m.CallsInFlight.Dec
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
