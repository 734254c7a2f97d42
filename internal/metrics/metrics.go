// Package metrics exports the supervisor's Prometheus counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the supervisor and its adapters report
// to. All fields are safe for concurrent use, per the prometheus client's
// own guarantees.
type Metrics struct {
	registry *prometheus.Registry

	busOverflow       prometheus.Counter
	rateLimitDenied   *prometheus.CounterVec
	safetyShutdowns   prometheus.Counter
	adapterReconnects *prometheus.CounterVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		busOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sauna",
			Subsystem: "bus",
			Name:      "overflow_total",
			Help:      "Events dropped by the bus overflow policy.",
		}),
		rateLimitDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sauna",
			Subsystem: "notifications",
			Name:      "rate_limited_total",
			Help:      "Notifications suppressed by the per-kind cooldown.",
		}, []string{"kind"}),
		safetyShutdowns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sauna",
			Subsystem: "safety",
			Name:      "shutdowns_total",
			Help:      "Successful safety-triggered MCB shutdowns.",
		}),
		adapterReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sauna",
			Subsystem: "adapters",
			Name:      "reconnects_total",
			Help:      "Adapter reconnection attempts, by adapter name.",
		}, []string{"adapter"}),
	}

	registry.MustRegister(m.busOverflow, m.rateLimitDenied, m.safetyShutdowns, m.adapterReconnects)
	return m
}

// RecordBusOverflow implements bus.OverflowRecorder.
func (m *Metrics) RecordBusOverflow() {
	m.busOverflow.Inc()
}

// RecordRateLimitDenied implements supervisor.MetricsRecorder.
func (m *Metrics) RecordRateLimitDenied(kind string) {
	m.rateLimitDenied.WithLabelValues(kind).Inc()
}

// RecordSafetyShutdown implements supervisor.MetricsRecorder.
func (m *Metrics) RecordSafetyShutdown() {
	m.safetyShutdowns.Inc()
}

// RecordAdapterReconnect is called by adapters on every reconnect attempt.
func (m *Metrics) RecordAdapterReconnect(adapter string) {
	m.adapterReconnects.WithLabelValues(adapter).Inc()
}

// Handler exposes the registry for mounting under /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
