// Package metrics wires Prometheus counters for the few numbers worth
// alerting on in a single-board appliance: scan outcomes, decode
// failures, and the upload pipeline's backlog.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the appliance's Prometheus collectors and the registry
// they are bound to.
type Metrics struct {
	registry *prometheus.Registry

	ScansTotal     *prometheus.CounterVec
	DecodeFailures prometheus.Counter
	QueueDepth     prometheus.Gauge
	CacheSize      prometheus.Gauge
}

// New builds a fresh registry (rather than the global DefaultRegisterer,
// so tests can build multiple independent Metrics instances) and
// registers the appliance's collector set against it.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "accessd",
			Name:      "scans_total",
			Help:      "Total card scans processed, labeled by decision status.",
		}, []string{"status"}),
		DecodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "accessd",
			Name:      "wiegand_decode_failures_total",
			Help:      "Total Wiegand frames discarded for parity or length failure.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "accessd",
			Name:      "upload_queue_depth",
			Help:      "Number of transactions currently queued for upload.",
		}),
		CacheSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "accessd",
			Name:      "upload_cache_size",
			Help:      "Number of transactions currently held in the failed-upload retry cache.",
		}),
	}

	reg.MustRegister(m.ScansTotal, m.DecodeFailures, m.QueueDepth, m.CacheSize)
	return m
}

// Handler returns the Prometheus scrape handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordScan increments the scan counter for the given decision status
// (e.g. "Access Granted", "Access Denied", "Blocked").
func (m *Metrics) RecordScan(status string) {
	m.ScansTotal.WithLabelValues(status).Inc()
}

// Sample refreshes the queue-depth and cache-size gauges from the upload
// pipeline's live counters. Called periodically by the housekeeping
// monitor rather than on every request.
func (m *Metrics) Sample(queueDepth int, cacheSize int) {
	m.QueueDepth.Set(float64(queueDepth))
	m.CacheSize.Set(float64(cacheSize))
}
