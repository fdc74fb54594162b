// Package metrics provides Prometheus metrics for the mjolnir throw service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Publishing
	throwsPublished *prometheus.CounterVec
	publishLatency  prometheus.Histogram
	publishFailures *prometheus.CounterVec
	frameBytes      prometheus.Counter
	catalogSize     prometheus.Gauge

	// Ingest queue and workers
	queueSize               prometheus.Gauge
	queueCapacity           prometheus.Gauge
	queueEnqueued           prometheus.Counter
	queueRejected           *prometheus.CounterVec
	ingestDuplicates        prometheus.Counter
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram

	// Live feed
	streamClients  prometheus.Gauge
	streamMessages prometheus.Counter
	streamDropped  prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "mjolnir",
		subsystem:        "throws",
		histogramBuckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

// RefreshInterval is how often gauges fed by polling should be refreshed.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// Enabled reports whether recording is active.
func (m *Manager) Enabled() bool { return m.enabled }

// Init replaces the global manager with one built from opts on a fresh
// registry. Call it once at startup, before anything records metrics.
func Init(opts ...Option) *Manager {
	customRegistry = prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(customRegistry))...)
	return globalManager
}

// RefreshInterval returns the refresh interval of the global manager.
func RefreshInterval() time.Duration { return globalManager.RefreshInterval() }

// Enabled reports whether the global manager records anything.
func Enabled() bool { return globalManager.Enabled() }
func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.customLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus collectors.
func (m *Manager) initializeMetrics() {
	m.throwsPublished = m.counterVec("published_total", "Throw results committed to storage, by source", "source")
	m.publishLatency = m.histogram("publish_latency_milliseconds", "Time from staging to commit of a throw result")
	m.publishFailures = m.counterVec("publish_failures_total", "Failed publish attempts by stage", "stage")
	m.frameBytes = m.counter("frame_bytes_total", "Bytes of frame images written")
	m.catalogSize = m.gauge("catalog_size", "Number of throws known to the catalog")

	m.queueSize = m.gauge("ingest_queue_size", "Current number of queued pipeline submissions")
	m.queueCapacity = m.gauge("ingest_queue_capacity", "Maximum number of queued pipeline submissions")
	m.queueEnqueued = m.counter("ingest_enqueued_total", "Pipeline submissions accepted into the queue")
	m.queueRejected = m.counterVec("ingest_rejected_total", "Pipeline submissions rejected by the queue", "reason")
	m.ingestDuplicates = m.counter("ingest_duplicates_total", "Pipeline submissions with an already seen throw id")
	m.workerCount = m.gauge("worker_count", "Number of publish workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Time a worker spends on one submission")

	m.streamClients = m.gauge("stream_clients", "Connected live-feed clients")
	m.streamMessages = m.counter("stream_messages_total", "Live-feed messages delivered")
	m.streamDropped = m.counter("stream_dropped_total", "Live-feed clients dropped for being slow or broken")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint, method and type", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of operations that ended in an error", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause in milliseconds")
}

// Publishing.

// RecordThrowPublished counts a committed throw from source ("dummy" or "pipeline").
func RecordThrowPublished(source string) {
	if globalManager.enabled {
		globalManager.throwsPublished.WithLabelValues(source).Inc()
	}
}

// RecordPublishLatency records publish latency in milliseconds.
func RecordPublishLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.publishLatency.Observe(latencyMs)
	}
}

// RecordPublishFailure counts a failed publish at stage.
func RecordPublishFailure(stage string) {
	if globalManager.enabled {
		globalManager.publishFailures.WithLabelValues(stage).Inc()
	}
}

// AddFrameBytes adds n written frame bytes.
func AddFrameBytes(n int64) {
	if globalManager.enabled && n > 0 {
		globalManager.frameBytes.Add(float64(n))
	}
}

// UpdateCatalogSize sets the catalog size.
func UpdateCatalogSize(n int) {
	if globalManager.enabled {
		globalManager.catalogSize.Set(float64(n))
	}
}

// Ingest.

// UpdateQueueSize sets the current ingest queue length.
func UpdateQueueSize(size int) {
	if globalManager.enabled {
		globalManager.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the ingest queue capacity.
func UpdateQueueCapacity(capacity int) {
	if globalManager.enabled {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// RecordQueueEnqueue counts an accepted submission.
func RecordQueueEnqueue() {
	if globalManager.enabled {
		globalManager.queueEnqueued.Inc()
	}
}

// RecordQueueRejected counts a submission the queue refused.
func RecordQueueRejected(reason string) {
	if globalManager.enabled {
		globalManager.queueRejected.WithLabelValues(reason).Inc()
	}
}

// RecordIngestDuplicate counts a duplicate submission.
func RecordIngestDuplicate() {
	if globalManager.enabled {
		globalManager.ingestDuplicates.Inc()
	}
}

// UpdateWorkerCount sets the number of publish workers.
func UpdateWorkerCount(count int) {
	if globalManager.enabled {
		globalManager.workerCount.Set(float64(count))
	}
}

// RecordWorkerProcessingLatency records worker latency in milliseconds.
func RecordWorkerProcessingLatency(latencyMs float64) {
	if globalManager.enabled {
		globalManager.workerProcessingLatency.Observe(latencyMs)
	}
}

// Live feed.

// UpdateStreamClients sets the number of connected live-feed clients.
func UpdateStreamClients(n int) {
	if globalManager.enabled {
		globalManager.streamClients.Set(float64(n))
	}
}

// RecordStreamMessage counts a delivered live-feed message.
func RecordStreamMessage() {
	if globalManager.enabled {
		globalManager.streamMessages.Inc()
	}
}

// RecordStreamDropped counts a dropped live-feed client.
func RecordStreamDropped() {
	if globalManager.enabled {
		globalManager.streamDropped.Inc()
	}
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
	}
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if globalManager.enabled {
		globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
	}
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	if globalManager.enabled {
		globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
	}
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if globalManager.enabled {
		globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	if globalManager.enabled {
		globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
	}
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if globalManager.enabled {
		globalManager.systemMemoryUsage.Set(float64(bytes))
	}
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if globalManager.enabled {
		globalManager.systemGoroutineCount.Set(float64(count))
	}
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	if globalManager.enabled {
		globalManager.systemGCPauseTime.Observe(pauseMs)
	}
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
