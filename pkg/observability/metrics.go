package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Auth decision metrics; rejections labeled by stable error code
	AuthDecisionsTotal *prometheus.CounterVec

	// Quota decision metrics, labeled by tier
	QuotaDecisionsTotal *prometheus.CounterVec

	// Config errors are counted separately so a missing tier-limit row is
	// distinguishable in telemetry from client-caused rejections
	ConfigErrorsTotal *prometheus.CounterVec

	// External call latency to the identity provider and backing stores
	UpstreamCallDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tierguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierguard_auth_decisions_total",
				Help: "Authentication middleware outcomes by error code",
			},
			[]string{"outcome", "code"},
		),
		QuotaDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierguard_quota_decisions_total",
				Help: "Usage quota decisions by tier",
			},
			[]string{"tier", "allowed"},
		),
		ConfigErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tierguard_config_errors_total",
				Help: "Tier limit configuration errors by tier",
			},
			[]string{"tier"},
		),
		UpstreamCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tierguard_upstream_call_duration_seconds",
				Help:    "Latency of identity provider and store calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"target"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthDecisionsTotal,
		m.QuotaDecisionsTotal,
		m.ConfigErrorsTotal,
		m.UpstreamCallDuration,
	)

	return m
}

// Handler returns the HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRejection counts a middleware rejection by its stable code
func (m *Metrics) RecordRejection(code string) {
	m.AuthDecisionsTotal.WithLabelValues("rejected", code).Inc()
}

// RecordForwarded counts a request admitted to its handler
func (m *Metrics) RecordForwarded() {
	m.AuthDecisionsTotal.WithLabelValues("forwarded", "").Inc()
}
