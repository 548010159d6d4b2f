// Package metrics holds the Prometheus collectors for memlog. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Mapper tiers, in fallback order.
const (
	TierRawInputStr = "raw_input_str"
	TierRawInput    = "raw_input"
	TierFields      = "fields"
	TierFailed      = "failed"
)

// Metrics bundles every collector exported by the service.
type Metrics struct {
	registry *prometheus.Registry

	windowOps     *prometheus.CounterVec
	transitioned  *prometheus.CounterVec
	storeErrors   *prometheus.CounterVec
	mapperTiers   *prometheus.CounterVec
	recordsLogged prometheus.Counter
	archives      *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		windowOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memlog",
			Name:      "window_operations_total",
			Help:      "Accumulation window operations by operation and result.",
		}, []string{"op", "result"}),
		transitioned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memlog",
			Name:      "records_transitioned_total",
			Help:      "Records moved between sync states, by target state.",
		}, []string{"to"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memlog",
			Name:      "store_errors_total",
			Help:      "Storage failures surfaced to the window facade, by operation.",
		}, []string{"op"}),
		mapperTiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memlog",
			Name:      "mapper_conversions_total",
			Help:      "Record to message conversions by the tier that produced them.",
		}, []string{"tier"}),
		recordsLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memlog",
			Name:      "records_logged_total",
			Help:      "Records inserted at LOGGED by the listener.",
		}),
		archives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memlog",
			Name:      "archive_exports_total",
			Help:      "Group archive exports by result.",
		}, []string{"result"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.windowOps,
		m.transitioned,
		m.storeErrors,
		m.mapperTiers,
		m.recordsLogged,
		m.archives,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry, for tests and embedding in another exporter.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

// WindowOp counts one window operation; result is "ok" or "error".
func (m *Metrics) WindowOp(op, result string) {
	if m == nil {
		return
	}
	m.windowOps.WithLabelValues(op, result).Inc()
}

// Transitioned adds n records moved into state to.
func (m *Metrics) Transitioned(to string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.transitioned.WithLabelValues(to).Add(float64(n))
}

// StoreError counts a storage failure for op.
func (m *Metrics) StoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

// MapperTier counts one conversion resolved by tier.
func (m *Metrics) MapperTier(tier string) {
	if m == nil {
		return
	}
	m.mapperTiers.WithLabelValues(tier).Inc()
}

// RecordLogged counts one listener insert.
func (m *Metrics) RecordLogged() {
	if m == nil {
		return
	}
	m.recordsLogged.Inc()
}

// Archive counts one archive export; result is "ok" or "error".
func (m *Metrics) Archive(result string) {
	if m == nil {
		return
	}
	m.archives.WithLabelValues(result).Inc()
}
