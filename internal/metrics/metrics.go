package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "consolegrid"

// Outcomes of a grid fetch
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// GridMetrics records grid fetches
type GridMetrics struct {
	fetches  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inflight *prometheus.GaugeVec
}

// NewGridMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewGridMetrics(reg prometheus.Registerer) *GridMetrics {
	m := &GridMetrics{
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grid_fetches_total",
			Help:      "Grid fetches by grid and outcome.",
		}, []string{"grid", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grid_fetch_duration_seconds",
			Help:      "Time spent serving a grid fetch, backend call included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"grid"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grid_fetches_in_flight",
			Help:      "Grid fetches currently waiting on the backend.",
		}, []string{"grid"}),
	}
	if reg != nil {
		reg.MustRegister(m.fetches, m.duration, m.inflight)
	}
	return m
}

// Begin marks a fetch as started; call the returned func with the outcome
func (m *GridMetrics) Begin(grid string) func(outcome string) {
	start := time.Now()
	m.inflight.WithLabelValues(grid).Inc()
	return func(outcome string) {
		m.inflight.WithLabelValues(grid).Dec()
		m.duration.WithLabelValues(grid).Observe(time.Since(start).Seconds())
		m.fetches.WithLabelValues(grid, outcome).Inc()
	}
}

// Fetches exposes the fetch counter for tests and dashboards
func (m *GridMetrics) Fetches() *prometheus.CounterVec {
	return m.fetches
}
