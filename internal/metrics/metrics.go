// Package metrics exposes process instrumentation for poll cycles.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors the scheduler and handlers feed.
type Metrics struct {
	registry *prometheus.Registry

	PollCycles    *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	InflightPolls prometheus.Gauge
	HTTPRequests  *prometheus.CounterVec
}

// New builds the collectors on a private registry so tests can run
// side by side.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		PollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "infrapulse",
			Name:      "poll_cycles_total",
			Help:      "Completed poll cycles by source family and outcome.",
		}, []string{"family", "status"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "infrapulse",
			Name:      "poll_cycle_duration_seconds",
			Help:      "Wall time of one poll cycle, fetch plus reconcile.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"family"}),
		InflightPolls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "infrapulse",
			Name:      "poll_inflight",
			Help:      "Poll cycles currently running.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "infrapulse",
			Name:      "http_requests_total",
			Help:      "API requests by method and status class.",
		}, []string{"method", "status"}),
	}
	reg.MustRegister(
		m.PollCycles,
		m.CycleDuration,
		m.InflightPolls,
		m.HTTPRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
