// Package metrics exposes allocation metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"codealloc/internal/core/code"
	"codealloc/internal/domain/allocation"
)

const namespace = "codealloc"

// Metrics owns a registry and the allocation collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	allocations *prometheus.CounterVec
	issued      *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

var _ allocation.Recorder = (*Metrics)(nil)

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "allocations_total",
			Help:      "Allocation calls by code kind and outcome.",
		}, []string{"kind", "outcome"}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "codes_issued_total",
			Help:      "Codes handed out by code kind.",
		}, []string{"kind"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "allocation_duration_seconds",
			Help:      "Latency of allocation calls including the sequence store round trip.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		m.allocations,
		m.issued,
		m.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveAllocation implements allocation.Recorder.
func (m *Metrics) ObserveAllocation(kind code.Kind, outcome string, codes int, elapsed time.Duration) {
	k := string(kind)
	if !kind.Valid() {
		k = "unknown"
	}
	m.allocations.WithLabelValues(k, outcome).Inc()
	if codes > 0 {
		m.issued.WithLabelValues(k).Add(float64(codes))
	}
	m.latency.WithLabelValues(k).Observe(elapsed.Seconds())
}

// Registry returns the underlying registry for extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
