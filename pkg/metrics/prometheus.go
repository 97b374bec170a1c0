// Package metrics provides Prometheus metrics for the normscope service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the normscope service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Curve store metrics
	curvesTotal        prometheus.Gauge
	curveUpserts       *prometheus.CounterVec
	functionCacheHits  prometheus.Counter
	functionCacheMiss  prometheus.Counter
	functionBuilds     *prometheus.CounterVec
	functionBuildTime  prometheus.Histogram
	degenerateModels   *prometheus.CounterVec
	curveValidateState *prometheus.GaugeVec

	// Ingestion metrics
	batchesReceived      *prometheus.CounterVec
	batchesDuplicate     prometheus.Counter
	rowsKept             prometheus.Counter
	rowsDiscarded        prometheus.Counter
	incompleteKeys       prometheus.Counter
	mergeWarnings        prometheus.Counter
	canonicalRoutes      prometheus.Gauge
	routeSnapshotRebuild prometheus.Histogram

	// Analysis metrics
	analyses          *prometheus.CounterVec
	analysisLatency   prometheus.Histogram
	recordsSkipped    *prometheus.CounterVec
	recordsByStatus   *prometheus.CounterVec
	resultCacheSize   prometheus.Gauge
	resultCacheEvicts prometheus.Counter

	// Persistence metrics
	persistenceOps *prometheus.CounterVec

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Queue Metrics - Message queue performance
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker Metrics - Processing performance
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerIdleCount         prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Error Metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "normscope",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels, Buckets: buckets,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	latencyBuckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000}

	m.curvesTotal = m.gauge("curves_total", "Number of norm curves held by the curve store")
	m.curveUpserts = m.counterVec("curve_upserts_total", "Curve upserts by outcome (added, updated, rejected)", "outcome")
	m.functionCacheHits = m.counter("function_cache_hits_total", "Interpolation function cache hits")
	m.functionCacheMiss = m.counter("function_cache_misses_total", "Interpolation function cache misses")
	m.functionBuilds = m.counterVec("function_builds_total", "Interpolation functions built, by model kind", "kind")
	m.functionBuildTime = m.histogram("function_build_milliseconds", "Interpolation function build time in milliseconds", latencyBuckets)
	m.degenerateModels = m.counterVec("degenerate_models_total", "Hyperbolic fits replaced by the linear fallback, by reason", "reason")
	m.curveValidateState = m.gaugeVec("curve_health", "Curves by diagnostic state from the last validation", "state")

	m.batchesReceived = m.counterVec("batches_received_total", "Ingestion batches received, by payload kind", "kind")
	m.batchesDuplicate = m.counter("batches_duplicate_total", "Ingestion batches ignored because their id was already seen")
	m.rowsKept = m.counter("rows_kept_total", "Observation rows kept as canonical by duplicate resolution")
	m.rowsDiscarded = m.counter("rows_discarded_total", "Observation rows discarded by duplicate resolution")
	m.incompleteKeys = m.counter("rows_incomplete_key_total", "Observation rows with an incomplete natural key")
	m.mergeWarnings = m.counter("merge_warnings_total", "Norm id conflicts found while merging repeated sections")
	m.canonicalRoutes = m.gauge("canonical_routes", "Canonical routes currently held")
	m.routeSnapshotRebuild = m.histogram("route_snapshot_rebuild_milliseconds", "Route index snapshot rebuild time in milliseconds", latencyBuckets)

	m.analyses = m.counterVec("analyses_total", "Analysis requests by outcome (computed, cache_hit, shared, error, cancelled)", "outcome")
	m.analysisLatency = m.histogram("analysis_latency_milliseconds", "Analysis computation time in milliseconds", latencyBuckets)
	m.recordsSkipped = m.counterVec("records_skipped_total", "Records skipped during analysis, by reason", "reason")
	m.recordsByStatus = m.counterVec("records_classified_total", "Analyzed records by deviation status", "status")
	m.resultCacheSize = m.gauge("result_cache_entries", "Entries in the analysis result cache")
	m.resultCacheEvicts = m.counter("result_cache_evictions_total", "Analysis results evicted from the cache")

	m.persistenceOps = m.counterVec("persistence_operations_total", "Persistence operations by kind and result", "op", "result")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        m.name("http_request_duration_milliseconds"),
			Help:        "HTTP request duration in milliseconds",
			ConstLabels: m.customLabels,
			Buckets:     m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.queueSize = m.gauge("queue_size", "Current number of batches waiting in the ingestion queue")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the ingestion queue")
	m.queueUtilization = m.gauge("queue_utilization", "Ingestion queue utilization ratio (0-1)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Batches enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Batches dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Batches rejected by the queue")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Time a batch spends queued in milliseconds", latencyBuckets)

	m.workerCount = m.gauge("worker_count", "Configured ingestion workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Ingestion workers currently applying a batch")
	m.workerIdleCount = m.gauge("worker_idle_count", "Ingestion workers waiting for a batch")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Batch apply time in milliseconds", latencyBuckets)
	m.workerErrorRate = m.counter("worker_errors_total", "Batches a worker failed to apply")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and error type", "component", "error_type")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by HTTP endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Curve store.

// UpdateCurvesTotal sets the number of stored curves.
func UpdateCurvesTotal(count int) {
	globalManager.curvesTotal.Set(float64(count))
}

// RecordCurveUpsert counts one curve upsert outcome.
func RecordCurveUpsert(outcome string) {
	globalManager.curveUpserts.WithLabelValues(outcome).Inc()
}

// RecordFunctionCacheHit counts a function cache hit.
func RecordFunctionCacheHit() {
	globalManager.functionCacheHits.Inc()
}

// RecordFunctionCacheMiss counts a function cache miss.
func RecordFunctionCacheMiss() {
	globalManager.functionCacheMiss.Inc()
}

// RecordFunctionBuild records one interpolation build.
func RecordFunctionBuild(kind string, latencyMs float64) {
	globalManager.functionBuilds.WithLabelValues(kind).Inc()
	globalManager.functionBuildTime.Observe(latencyMs)
}

// RecordDegenerateModel counts a fallback to linear interpolation.
func RecordDegenerateModel(reason string) {
	globalManager.degenerateModels.WithLabelValues(reason).Inc()
}

// UpdateCurveHealth sets the curve counts from the last validation.
func UpdateCurveHealth(healthy, broken, fallback int) {
	globalManager.curveValidateState.WithLabelValues("healthy").Set(float64(healthy))
	globalManager.curveValidateState.WithLabelValues("broken").Set(float64(broken))
	globalManager.curveValidateState.WithLabelValues("fallback").Set(float64(fallback))
}

// Ingestion.

// RecordBatchReceived counts an ingestion batch by payload kind.
func RecordBatchReceived(kind string) {
	globalManager.batchesReceived.WithLabelValues(kind).Inc()
}

// RecordBatchDuplicate counts a batch skipped by id.
func RecordBatchDuplicate() {
	globalManager.batchesDuplicate.Inc()
}

// RecordRowsResolved counts rows kept and discarded by duplicate resolution.
func RecordRowsResolved(kept, discarded, incomplete int) {
	globalManager.rowsKept.Add(float64(kept))
	globalManager.rowsDiscarded.Add(float64(discarded))
	globalManager.incompleteKeys.Add(float64(incomplete))
}

// RecordMergeWarnings counts norm id conflicts.
func RecordMergeWarnings(count int) {
	globalManager.mergeWarnings.Add(float64(count))
}

// UpdateCanonicalRoutes sets the number of canonical routes.
func UpdateCanonicalRoutes(count int) {
	globalManager.canonicalRoutes.Set(float64(count))
}

// RecordRouteSnapshotRebuild records the time to publish a route index.
func RecordRouteSnapshotRebuild(durationMs float64) {
	globalManager.routeSnapshotRebuild.Observe(durationMs)
}

// Analysis.

// RecordAnalysis counts an analysis request by outcome.
func RecordAnalysis(outcome string) {
	globalManager.analyses.WithLabelValues(outcome).Inc()
}

// RecordAnalysisLatency records computation time of one analysis.
func RecordAnalysisLatency(latencyMs float64) {
	globalManager.analysisLatency.Observe(latencyMs)
}

// RecordRecordsSkipped counts records skipped for reason.
func RecordRecordsSkipped(reason string, count int) {
	globalManager.recordsSkipped.WithLabelValues(reason).Add(float64(count))
}

// RecordRecordsClassified counts analyzed records with status.
func RecordRecordsClassified(status string, count int) {
	globalManager.recordsByStatus.WithLabelValues(status).Add(float64(count))
}

// UpdateResultCacheSize sets the number of cached analysis results.
func UpdateResultCacheSize(size int) {
	globalManager.resultCacheSize.Set(float64(size))
}

// RecordResultCacheEvictions counts evicted analysis results.
func RecordResultCacheEvictions(count int) {
	globalManager.resultCacheEvicts.Add(float64(count))
}

// Persistence.

// RecordPersistenceOp counts a persistence operation.
func RecordPersistenceOp(op, result string) {
	globalManager.persistenceOps.WithLabelValues(op, result).Inc()
}

// HTTP.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Queue.

// UpdateQueueSize updates the queue size gauge.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity updates the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization updates the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records how long a batch waited in the queue.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker.

// UpdateWorkerCount updates the worker count gauge.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount updates the active worker count.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// UpdateWorkerIdleCount updates the idle worker count.
func UpdateWorkerIdleCount(count int) {
	globalManager.workerIdleCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records batch apply time.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// Errors.

// RecordErrorByComponent records an error by component and type.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error by HTTP endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System.

// UpdateSystemMemoryUsage updates the memory usage gauge.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount updates the goroutine count.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records a GC pause.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom registry used by the global manager.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
