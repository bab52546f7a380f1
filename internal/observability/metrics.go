package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting application metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Dispatch throughput and latency by canonical tool name and result kind
//   - Routing-index operations (index/reindex/remove) by status
//   - Live-wire watcher events by filesystem op and outcome
//   - Semantic router requests by selected routing mode
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordDispatch("notes.search", "ok", time.Since(start).Seconds())
type Metrics struct {
	// DispatchCounter counts execute_tool calls by canonical name and result kind.
	// Labels: canonical_name, result_kind (ok|error|timeout-idle|timeout-total)
	DispatchCounter *prometheus.CounterVec

	// DispatchDuration measures execute_tool latency in seconds.
	// Labels: canonical_name
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s, 120s
	DispatchDuration *prometheus.HistogramVec

	// IndexOperationCounter counts routing-index mutations by operation and status.
	// Labels: operation (index|reindex|remove), status (ok|error)
	IndexOperationCounter *prometheus.CounterVec

	// IndexOperationDuration measures routing-index mutation latency in seconds.
	// Labels: operation
	IndexOperationDuration *prometheus.HistogramVec

	// WatchEventCounter counts live-wire watcher events by filesystem op and outcome.
	// Labels: op (create|modify|remove), outcome (ok|error)
	WatchEventCounter *prometheus.CounterVec

	// RouteRequestCounter counts semantic-router requests by selected mode.
	// Labels: mode (single_skill|multi_skill|none)
	RouteRequestCounter *prometheus.CounterVec

	// RouteRequestDuration measures semantic-router request latency in seconds.
	RouteRequestDuration prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		DispatchCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillkernel_dispatch_total",
				Help: "Total number of execute_tool dispatches by canonical name and result kind",
			},
			[]string{"canonical_name", "result_kind"},
		),

		DispatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skillkernel_dispatch_duration_seconds",
				Help:    "Duration of execute_tool dispatches in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
			},
			[]string{"canonical_name"},
		),

		IndexOperationCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillkernel_index_operations_total",
				Help: "Total number of routing-index operations by kind and status",
			},
			[]string{"operation", "status"},
		),

		IndexOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "skillkernel_index_operation_duration_seconds",
				Help:    "Duration of routing-index operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),

		WatchEventCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillkernel_watch_events_total",
				Help: "Total number of live-wire watcher events by filesystem op and outcome",
			},
			[]string{"op", "outcome"},
		),

		RouteRequestCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillkernel_route_requests_total",
				Help: "Total number of semantic-router requests by selected mode",
			},
			[]string{"mode"},
		),

		RouteRequestDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "skillkernel_route_request_duration_seconds",
				Help:    "Duration of semantic-router requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
		),
	}
}

// RecordDispatch records the outcome of one execute_tool call.
//
// Example:
//
//	start := time.Now()
//	// ... execute_tool ...
//	metrics.RecordDispatch("notes.search", "ok", time.Since(start).Seconds())
func (m *Metrics) RecordDispatch(canonicalName, resultKind string, durationSeconds float64) {
	m.DispatchCounter.WithLabelValues(canonicalName, resultKind).Inc()
	m.DispatchDuration.WithLabelValues(canonicalName).Observe(durationSeconds)
}

// RecordIndexOperation records the outcome of one routing-index mutation.
//
// Example:
//
//	start := time.Now()
//	// ... IndexFile / ReindexFile / RemoveFile ...
//	metrics.RecordIndexOperation("reindex", "ok", time.Since(start).Seconds())
func (m *Metrics) RecordIndexOperation(operation, status string, durationSeconds float64) {
	m.IndexOperationCounter.WithLabelValues(operation, status).Inc()
	m.IndexOperationDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordWatchEvent records one coalesced filesystem event the live-wire
// watcher dispatched to its Handler.
//
// Example:
//
//	metrics.RecordWatchEvent("modify", "ok")
func (m *Metrics) RecordWatchEvent(op, outcome string) {
	m.WatchEventCounter.WithLabelValues(op, outcome).Inc()
}

// RecordRouteRequest records the selected mode and latency of one
// semantic-router request.
//
// Example:
//
//	start := time.Now()
//	// ... router.Route ...
//	metrics.RecordRouteRequest("single_skill", time.Since(start).Seconds())
func (m *Metrics) RecordRouteRequest(mode string, durationSeconds float64) {
	m.RouteRequestCounter.WithLabelValues(mode).Inc()
	m.RouteRequestDuration.Observe(durationSeconds)
}
