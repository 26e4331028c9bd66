package runlog

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "forge"

// Metrics are the counters of one run, kept in a private registry so runs
// and tests never share state.
type Metrics struct {
	registry *prometheus.Registry

	Queries      *prometheus.CounterVec
	Builds       *prometheus.CounterVec
	Mutations    *prometheus.CounterVec
	BuildSeconds prometheus.Histogram
}

// NewMetrics creates and registers the run metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Queries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "llm",
				Name:      "queries_total",
				Help:      "Model queries by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		Builds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "build",
				Name:      "runs_total",
				Help:      "Build script runs by result",
			},
			[]string{"result"},
		),
		Mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "mutations",
				Name:      "applied_total",
				Help:      "Applied file mutations by change kind",
			},
			[]string{"kind"},
		),
		BuildSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "build",
				Name:      "duration_seconds",
				Help:      "Build script wall time in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 900},
			},
		),
	}
	m.registry.MustRegister(m.Queries, m.Builds, m.Mutations, m.BuildSeconds)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// WriteFile writes the metrics in Prometheus text format.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
