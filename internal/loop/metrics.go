package loop

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the loop's Prometheus instruments.
type Metrics struct {
	IterationsTotal   prometheus.Counter
	PatchFailures     *prometheus.CounterVec
	StopReasons       *prometheus.CounterVec
	LoopsActive       prometheus.Gauge
	IterationDuration prometheus.Histogram
}

// MustNewMetrics builds and registers the loop metrics on reg, panicking on
// duplicate registration.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IterationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "refinery",
			Subsystem: "loop",
			Name:      "iterations_total",
			Help:      "Total loop iterations executed across all tasks.",
		}),
		PatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refinery",
			Subsystem: "loop",
			Name:      "patch_failures_total",
			Help:      "Changeset application failures by failure type.",
		}, []string{"type"}),
		StopReasons: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "refinery",
			Subsystem: "loop",
			Name:      "stop_reasons_total",
			Help:      "Completed tasks by terminal stop reason.",
		}, []string{"reason"}),
		LoopsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "refinery",
			Subsystem: "loop",
			Name:      "loops_active",
			Help:      "Tasks currently executing.",
		}),
		IterationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "refinery",
			Subsystem: "loop",
			Name:      "iteration_duration_seconds",
			Help:      "Wall-clock duration of one generate-evaluate-refine iteration.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	reg.MustRegister(m.IterationsTotal, m.PatchFailures, m.StopReasons, m.LoopsActive, m.IterationDuration)
	return m
}

var (
	defaultMetricsOnce sync.Once
	defaultMetrics     *Metrics
)

// DefaultMetrics registers the loop metrics on the default Prometheus
// registry exactly once.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}
