// Package metrics provides Prometheus metrics for the faultline event pipeline.
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

// Manager manages all Prometheus metrics for the faultline service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Pipeline outcome metrics
	eventsSubmitted *prometheus.CounterVec
	eventsProcessed prometheus.Counter
	eventsDiscarded *prometheus.CounterVec
	eventsErrored   *prometheus.CounterVec
	stageLatency    *prometheus.HistogramVec
	batchSize       prometheus.Histogram

	// Aggregation metrics
	stacksCreated     prometheus.Counter
	stackRegressions  prometheus.Counter
	duplicateRefs     prometheus.Counter
	throttleTrips     prometheus.Counter
	sessionsStarted   *prometheus.CounterVec
	sessionsEnded     *prometheus.CounterVec
	cacheErrors       *prometheus.CounterVec
	repositoryLatency *prometheus.HistogramVec
	repositoryRecords *prometheus.GaugeVec

	// Work queue metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueErrors *prometheus.CounterVec
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	workerActiveCount  prometheus.Gauge
	workerItems        *prometheus.CounterVec
	workerLatency      prometheus.Histogram

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "faultline",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
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

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.eventsSubmitted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "events_submitted_total",
		Help:        "Total number of events entering the pipeline by type",
		ConstLabels: m.customLabels,
	}, []string{"type"})

	m.eventsProcessed = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "events_processed_total",
		Help:        "Total number of events that survived the pipeline",
		ConstLabels: m.customLabels,
	})

	m.eventsDiscarded = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "events_discarded_total",
		Help:        "Total number of events deliberately dropped by policy",
		ConstLabels: m.customLabels,
	}, []string{"reason"})

	m.eventsErrored = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "events_errored_total",
		Help:        "Total number of events that failed in a stage",
		ConstLabels: m.customLabels,
	}, []string{"stage"})

	m.stageLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "stage_latency_milliseconds",
		Help:        "Latency of one stage hook over a batch in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"stage", "hook"})

	m.batchSize = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "batch_size",
		Help:        "Number of events per pipeline run",
		Buckets:     prometheus.ExponentialBuckets(1, 2, 10),
		ConstLabels: m.customLabels,
	})

	m.stacksCreated = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "stacks_created_total",
		Help:        "Total number of stacks created",
		ConstLabels: m.customLabels,
	})

	m.stackRegressions = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "stack_regressions_total",
		Help:        "Total number of fixed stacks that regressed",
		ConstLabels: m.customLabels,
	})

	m.duplicateRefs = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "duplicate_reference_ids_total",
		Help:        "Total number of events rejected for a duplicate reference id",
		ConstLabels: m.customLabels,
	})

	m.throttleTrips = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "bot_throttle_trips_total",
		Help:        "Total number of times an origin exceeded the bot throttle limit",
		ConstLabels: m.customLabels,
	})

	m.sessionsStarted = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "sessions_started_total",
		Help:        "Total number of sessions opened by mode and origin",
		ConstLabels: m.customLabels,
	}, []string{"mode", "origin"})

	m.sessionsEnded = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "sessions_ended_total",
		Help:        "Total number of sessions closed by mode and origin",
		ConstLabels: m.customLabels,
	}, []string{"mode", "origin"})

	m.cacheErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "cache_errors_total",
		Help:        "Total number of cache operation failures",
		ConstLabels: m.customLabels,
	}, []string{"operation"})

	m.repositoryLatency = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "repository_latency_milliseconds",
		Help:        "Repository operation latency in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"operation"})

	m.repositoryRecords = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "repository_records",
		Help:        "Current number of records held by each repository",
		ConstLabels: m.customLabels,
	}, []string{"store"})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "work_queue_size",
		Help:        "Current number of pending work items",
		ConstLabels: m.customLabels,
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "work_queue_capacity",
		Help:        "Maximum number of pending work items",
		ConstLabels: m.customLabels,
	})

	m.queueEnqueueErrors = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "work_queue_enqueue_errors_total",
		Help:        "Total number of rejected work items by reason",
		ConstLabels: m.customLabels,
	}, []string{"reason"})

	m.queueEnqueued = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "work_queue_enqueued_total",
		Help:        "Total number of enqueued work items",
		ConstLabels: m.customLabels,
	})

	m.queueDequeued = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "work_queue_dequeued_total",
		Help:        "Total number of dequeued work items",
		ConstLabels: m.customLabels,
	})

	m.workerActiveCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "worker_active_count",
		Help:        "Number of running work item workers",
		ConstLabels: m.customLabels,
	})

	m.workerItems = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "worker_items_total",
		Help:        "Total number of handled work items by type and result",
		ConstLabels: m.customLabels,
	}, []string{"type", "result"})

	m.workerLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "worker_latency_milliseconds",
		Help:        "Work item handling latency in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_requests_total",
		Help:        "Total number of HTTP requests by endpoint and method",
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.httpRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})
}

// Pipeline Metrics Functions.

// RecordEventSubmitted increments the submitted counter for an event type.
func RecordEventSubmitted(eventType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.eventsSubmitted.WithLabelValues(eventType).Inc()
}

// RecordEventProcessed increments the processed events counter.
func RecordEventProcessed() {
	if !globalManager.enabled {
		return
	}
	globalManager.eventsProcessed.Inc()
}

// RecordEventDiscarded records a policy drop with its reason.
func RecordEventDiscarded(reason string) {
	if !globalManager.enabled {
		return
	}
	globalManager.eventsDiscarded.WithLabelValues(reason).Inc()
}

// RecordEventErrored records a stage failure for one event.
func RecordEventErrored(stage string) {
	if !globalManager.enabled {
		return
	}
	globalManager.eventsErrored.WithLabelValues(stage).Inc()
}

// RecordStageLatency records how long one stage hook took over a batch.
func RecordStageLatency(stage, hook string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.stageLatency.WithLabelValues(stage, hook).Observe(latencyMs)
}

// RecordBatchSize records the number of contexts in one pipeline run.
func RecordBatchSize(size int) {
	if !globalManager.enabled {
		return
	}
	globalManager.batchSize.Observe(float64(size))
}

// Aggregation Metrics Functions.

// RecordStackCreated increments the stack creation counter.
func RecordStackCreated() {
	if !globalManager.enabled {
		return
	}
	globalManager.stacksCreated.Inc()
}

// RecordStackRegression increments the regression counter.
func RecordStackRegression() {
	if !globalManager.enabled {
		return
	}
	globalManager.stackRegressions.Inc()
}

// RecordDuplicateReference increments the duplicate reference id counter.
func RecordDuplicateReference() {
	if !globalManager.enabled {
		return
	}
	globalManager.duplicateRefs.Inc()
}

// RecordThrottleTrip increments the bot throttle trip counter.
func RecordThrottleTrip() {
	if !globalManager.enabled {
		return
	}
	globalManager.throttleTrips.Inc()
}

// RecordSessionStarted records an opened session.
func RecordSessionStarted(mode, origin string) {
	if !globalManager.enabled {
		return
	}
	globalManager.sessionsStarted.WithLabelValues(mode, origin).Inc()
}

// RecordSessionEnded records a closed session.
func RecordSessionEnded(mode, origin string) {
	if !globalManager.enabled {
		return
	}
	globalManager.sessionsEnded.WithLabelValues(mode, origin).Inc()
}

// RecordCacheError records a failed cache operation.
func RecordCacheError(operation string) {
	if !globalManager.enabled {
		return
	}
	globalManager.cacheErrors.WithLabelValues(operation).Inc()
}

// RecordRepositoryLatency records repository operation latency.
func RecordRepositoryLatency(operation string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.repositoryLatency.WithLabelValues(operation).Observe(latencyMs)
}

// UpdateRepositoryRecords sets the number of records held by a store.
func UpdateRepositoryRecords(store string, count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.repositoryRecords.WithLabelValues(store).Set(float64(count))
}

// Work Queue Metrics Functions.

// UpdateQueueSize sets the current number of pending work items.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the work queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError increments the rejected work item counter.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerItem records a handled work item.
func RecordWorkerItem(itemType, result string) {
	globalManager.workerItems.WithLabelValues(itemType, result).Inc()
}

// RecordWorkerLatency records work item handling latency.
func RecordWorkerLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// HTTP Metrics Functions.

// RecordHTTPRequest increments the HTTP request counter.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// SinceMillis returns the elapsed milliseconds since start.
func SinceMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
