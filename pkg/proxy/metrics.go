package proxy

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus metrics for the egress proxy.
type Metrics struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	rateLimitedTotal *prometheus.CounterVec
	upstreamErrors   *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance with all proxy metrics registered on
// a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_requests_total",
				Help: "Total number of proxy requests by route and status code",
			},
			[]string{"route", "status"},
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "proxy_request_duration_seconds",
				Help:    "Proxy request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		rateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_rate_limited_total",
				Help: "Total number of requests rejected by the per-client quota",
			},
			[]string{"route"},
		),

		upstreamErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxy_upstream_errors_total",
				Help: "Total number of upstream calls that failed or returned non-2xx",
			},
			[]string{"route", "reason"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.rateLimitedTotal,
		m.upstreamErrors,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics in Prometheus format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
