// Package metrics exposes the Prometheus collectors scraped at /metrics,
// adapted from the teacher's infrastructure/metrics package and extended with
// the registry-node-specific domain gauges named in SPEC_FULL.md.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector this node exposes.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	InFlightRequests    prometheus.Gauge

	ProofsTotal            prometheus.Counter
	BatchesSealedTotal     prometheus.Counter
	AnchorsTotal           *prometheus.CounterVec
	ReputationDenialsTotal prometheus.Counter
	SyncFetchedTotal       *prometheus.CounterVec
}

// New registers and returns the node's collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pohw_http_requests_total",
			Help: "Total HTTP requests processed.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pohw_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		InFlightRequests: factory.NewGauge(prometheus.GaugeOpts{
			Name: "pohw_http_requests_in_flight",
			Help: "Number of HTTP requests currently being served.",
		}),
		ProofsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pohw_proofs_total",
			Help: "Total accepted proofs.",
		}),
		BatchesSealedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pohw_batches_sealed_total",
			Help: "Total batches sealed.",
		}),
		AnchorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pohw_anchors_total",
			Help: "Total anchor attempts by chain and outcome status.",
		}, []string{"chain", "status"}),
		ReputationDenialsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "pohw_reputation_denials_total",
			Help: "Total admission denials from the Reputation & Rate Engine.",
		}),
		SyncFetchedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pohw_sync_fetched_records_total",
			Help: "Total records fetched from peers during federation sync.",
		}, []string{"peer"}),
	}
}

// ObserveHTTPRequest records one completed HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, path, status string, d time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
