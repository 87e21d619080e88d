package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics describing noderes itself
var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noderes_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "noderes_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status_code"},
	)

	// Kubernetes API query metrics
	queryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noderes_query_attempts_total",
			Help: "Total number of cluster API query attempts",
		},
		[]string{"operation", "kind", "outcome"},
	)

	queryRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noderes_query_retries_total",
			Help: "Total number of retried cluster API queries",
		},
		[]string{"operation"},
	)

	queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "noderes_query_duration_seconds",
			Help:    "Cluster API query duration in seconds, including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation", "kind", "outcome"},
	)

	// Normalization metrics
	corruptedQuantitiesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noderes_corrupted_quantities_total",
			Help: "Total number of quantities classified as corrupted",
		},
		[]string{"resource", "field"},
	)

	fallbackRecomputationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noderes_fallback_recomputations_total",
			Help: "Total number of quantities recomputed from workload specs",
		},
		[]string{"resource", "bound"},
	)

	degradedNodesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "noderes_degraded_nodes_total",
			Help: "Total number of node records emitted with missing data",
		},
	)

	// Cycle metrics
	cycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "noderes_cycle_duration_seconds",
			Help:    "Duration of a full collection cycle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	cycleErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "noderes_cycle_errors_total",
			Help: "Total number of collection cycles aborted by a batch query failure",
		},
	)

	nodesCollected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "noderes_nodes_collected",
			Help: "Number of nodes in the last completed cycle",
		},
	)

	clusterCPURequestedCores = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "noderes_cluster_cpu_requested_cores",
			Help: "Sum of requested CPU across collected nodes",
		},
	)

	clusterMemoryRequestedGiB = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "noderes_cluster_memory_requested_gibibytes",
			Help: "Sum of requested memory across collected nodes",
		},
	)

	// WebSocket metrics
	websocketConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "noderes_websocket_connections_total",
			Help: "Total number of WebSocket connections",
		},
		[]string{"stream_type"},
	)

	websocketConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "noderes_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
		[]string{"stream_type"},
	)
)

// RecordHTTPRequest records metrics for HTTP requests
func RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	labels := prometheus.Labels{
		"method":      method,
		"path":        path,
		"status_code": strconv.Itoa(statusCode),
	}

	httpRequestsTotal.With(labels).Inc()
	httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// RecordQueryAttempt records a single attempt of a cluster API query
func RecordQueryAttempt(operation, kind string, err error) {
	queryAttemptsTotal.With(prometheus.Labels{
		"operation": operation,
		"kind":      kind,
		"outcome":   outcome(err),
	}).Inc()
}

// RecordQueryRetry records that a query is about to be retried
func RecordQueryRetry(operation string) {
	queryRetriesTotal.With(prometheus.Labels{"operation": operation}).Inc()
}

// RecordQuery records the final result of a query, including all retries
func RecordQuery(operation, kind string, err error, duration time.Duration) {
	queryDuration.With(prometheus.Labels{
		"operation": operation,
		"kind":      kind,
		"outcome":   outcome(err),
	}).Observe(duration.Seconds())
}

// RecordCorruptedQuantity records a quantity rejected by the normalizer
func RecordCorruptedQuantity(resource, field string) {
	corruptedQuantitiesTotal.With(prometheus.Labels{
		"resource": resource,
		"field":    field,
	}).Inc()
}

// RecordFallback records a recomputation from workload specs
func RecordFallback(resource, bound string) {
	fallbackRecomputationsTotal.With(prometheus.Labels{
		"resource": resource,
		"bound":    bound,
	}).Inc()
}

// RecordDegradedNode records a node emitted with missing data
func RecordDegradedNode() {
	degradedNodesTotal.Inc()
}

// RecordCycle records a completed collection cycle
func RecordCycle(duration time.Duration, nodes int, cpuRequested, memRequested float64) {
	cycleDuration.Observe(duration.Seconds())
	nodesCollected.Set(float64(nodes))
	clusterCPURequestedCores.Set(cpuRequested)
	clusterMemoryRequestedGiB.Set(memRequested)
}

// RecordCycleError records a cycle aborted before aggregation
func RecordCycleError() {
	cycleErrorsTotal.Inc()
}

// RecordWebSocketConnection records WebSocket connection metrics
func RecordWebSocketConnection(streamType string) {
	websocketConnectionsTotal.With(prometheus.Labels{"stream_type": streamType}).Inc()
	websocketConnectionsActive.With(prometheus.Labels{"stream_type": streamType}).Inc()
}

// RecordWebSocketDisconnection records WebSocket disconnection metrics
func RecordWebSocketDisconnection(streamType string) {
	websocketConnectionsActive.With(prometheus.Labels{"stream_type": streamType}).Dec()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
