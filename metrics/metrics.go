// Package metrics holds the prometheus collectors for the back-office core.
//
// Every recording method is safe on a nil *Metrics so components can run
// without a registry in tests.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "backoffice"

// Metrics holds all back-office metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Ledger metrics
	StockMovements  *prometheus.CounterVec
	AuditFailures   *prometheus.CounterVec
	TransientErrors *prometheus.CounterVec

	// Reconciliation metrics
	Discrepancies     *prometheus.GaugeVec
	ReconciliationRun *prometheus.CounterVec
}

// New creates a new Metrics instance backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{registry: registry}

	m.HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	m.StockMovements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stock_movements_total",
			Help:      "Committed stock movements by reason",
		},
		[]string{"reason"},
	)

	m.AuditFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_failures_total",
			Help:      "Audit entries that could not be written",
		},
		[]string{"action"},
	)

	m.TransientErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transient_errors_total",
			Help:      "Units of work rolled back on lock contention or timeout",
		},
		[]string{"op"},
	)

	m.Discrepancies = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconciliation_discrepancies",
			Help:      "Discrepancies found by the last reconciliation check",
		},
		[]string{"kind"},
	)

	m.ReconciliationRun = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_runs_total",
			Help:      "Reconciliation runs by outcome",
		},
		[]string{"status"},
	)

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StockMovements,
		m.AuditFailures,
		m.TransientErrors,
		m.Discrepancies,
		m.ReconciliationRun,
	)

	return m
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordMovement counts a committed stock movement.
func (m *Metrics) RecordMovement(reason string) {
	if m == nil {
		return
	}
	m.StockMovements.WithLabelValues(reason).Inc()
}

// RecordAuditFailure counts a suppressed audit write.
func (m *Metrics) RecordAuditFailure(action string) {
	if m == nil {
		return
	}
	m.AuditFailures.WithLabelValues(action).Inc()
}

// RecordTransientError counts a rolled-back unit that may be retried.
func (m *Metrics) RecordTransientError(op string) {
	if m == nil {
		return
	}
	m.TransientErrors.WithLabelValues(op).Inc()
}

// SetDiscrepancies publishes the per-kind discrepancy counts of a check.
func (m *Metrics) SetDiscrepancies(counts map[string]int) {
	if m == nil {
		return
	}
	m.Discrepancies.Reset()
	for kind, n := range counts {
		m.Discrepancies.WithLabelValues(kind).Set(float64(n))
	}
}

// RecordReconciliationRun counts a finished reconciliation run.
func (m *Metrics) RecordReconciliationRun(status string) {
	if m == nil {
		return
	}
	m.ReconciliationRun.WithLabelValues(status).Inc()
}
