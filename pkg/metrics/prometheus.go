// Package metrics provides Prometheus metrics for the datacup scoring service.
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

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Evaluation metrics
	evaluations       *prometheus.CounterVec
	evaluationLatency prometheus.Histogram
	referenceLoads    *prometheus.CounterVec

	// Ranking metrics
	submissions       *prometheus.CounterVec
	bestImprovements  prometheus.Counter
	totalParticipants prometheus.Gauge
	frozen            prometheus.Gauge

	// Store metrics
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// Queue and worker metrics
	queueSize         prometheus.Gauge
	queueCapacity     prometheus.Gauge
	queueRejections   prometheus.Counter
	workerCount       prometheus.Gauge
	workerBusy        prometheus.Gauge
	workerJobDuration prometheus.Histogram

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error metrics
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Init rebuilds the global manager on a fresh registry. Call it once at
// startup, before anything serves GetRegistry.
func Init(opts ...Option) {
	registry := prometheus.NewRegistry()
	globalManager = NewManager(append(opts, WithPrometheusRegistry(registry))...)
	customRegistry = registry
}

// Enabled reports whether recording is on.
func Enabled() bool {
	return globalManager.enabled
}

// RefreshInterval is how often gauges should be sampled.
func RefreshInterval() time.Duration {
	return globalManager.refreshInterval
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "datacup",
		subsystem:        "scoring",
		histogramBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) opts(n, help string) prometheus.Opts {
	return prometheus.Opts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      n,
		Help:      help,
	}
}

func (m *Manager) histOpts(n, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      n,
		Help:      help,
		Buckets:   m.histogramBuckets,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.evaluations = auto.NewCounterVec(prometheus.CounterOpts(m.opts(
		"evaluations_total", "Evaluations by outcome (ok or rejection kind)")),
		[]string{"outcome"})
	m.evaluationLatency = auto.NewHistogram(m.histOpts(
		"evaluation_latency_milliseconds", "Time spent aligning and scoring one submission"))
	m.referenceLoads = auto.NewCounterVec(prometheus.CounterOpts(m.opts(
		"reference_loads_total", "Reference table loads by result")),
		[]string{"result"})

	m.submissions = auto.NewCounterVec(prometheus.CounterOpts(m.opts(
		"submissions_total", "Submission recording attempts by result")),
		[]string{"result"})
	m.bestImprovements = auto.NewCounter(prometheus.CounterOpts(m.opts(
		"best_score_improvements_total", "Accepted submissions that lowered a participant's best score")))
	m.totalParticipants = auto.NewGauge(prometheus.GaugeOpts(m.opts(
		"participants", "Participants with a recorded score")))
	m.frozen = auto.NewGauge(prometheus.GaugeOpts(m.opts(
		"competition_frozen", "1 while the competition is frozen")))

	m.storeLatency = auto.NewHistogramVec(m.histOpts(
		"store_latency_milliseconds", "Store operation latency"),
		[]string{"op"})
	m.storeErrors = auto.NewCounterVec(prometheus.CounterOpts(m.opts(
		"store_errors_total", "Store operation failures")),
		[]string{"op", "error_type"})

	m.queueSize = auto.NewGauge(prometheus.GaugeOpts(m.opts(
		"queue_size", "Submissions waiting for a worker")))
	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts(m.opts(
		"queue_capacity", "Maximum number of queued submissions")))
	m.queueRejections = auto.NewCounter(prometheus.CounterOpts(m.opts(
		"queue_rejections_total", "Submissions refused because the queue was full or closed")))
	m.workerCount = auto.NewGauge(prometheus.GaugeOpts(m.opts(
		"worker_count", "Evaluation workers")))
	m.workerBusy = auto.NewGauge(prometheus.GaugeOpts(m.opts(
		"worker_busy", "Workers currently processing a submission")))
	m.workerJobDuration = auto.NewHistogram(m.histOpts(
		"worker_job_duration_milliseconds", "Evaluate plus record time per queued submission"))

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts(m.opts(
		"http_requests_total", "HTTP requests by endpoint, method and status")),
		[]string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histOpts(
		"http_request_duration_milliseconds", "HTTP request duration in milliseconds"),
		[]string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = auto.NewCounterVec(prometheus.CounterOpts(m.opts(
		"errors_by_component_total", "Errors by component")),
		[]string{"component", "error_type"})
	m.errorRateByEndpoint = auto.NewCounterVec(prometheus.CounterOpts(m.opts(
		"errors_by_endpoint_total", "Errors by endpoint")),
		[]string{"endpoint", "method", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts(m.opts(
		"system_memory_usage_bytes", "Heap bytes allocated")))
	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts(m.opts(
		"system_goroutine_count", "Number of goroutines")))
}

// RecordEvaluation counts one evaluation and observes its latency.
// outcome is "ok" or the rejection kind.
func RecordEvaluation(outcome string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.evaluations.WithLabelValues(outcome).Inc()
	globalManager.evaluationLatency.Observe(latencyMs)
}

// RecordReferenceLoad counts a reference table load ("ok", "shared" or "error").
func RecordReferenceLoad(result string) {
	if !globalManager.enabled {
		return
	}
	globalManager.referenceLoads.WithLabelValues(result).Inc()
}

// RecordSubmission counts a recording attempt ("accepted", "duplicate", "frozen", "error").
func RecordSubmission(result string) {
	if !globalManager.enabled {
		return
	}
	globalManager.submissions.WithLabelValues(result).Inc()
}

// RecordBestImprovement increments the improvements counter.
func RecordBestImprovement() {
	if !globalManager.enabled {
		return
	}
	globalManager.bestImprovements.Inc()
}

// UpdateTotalParticipants sets the scored participant gauge.
func UpdateTotalParticipants(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.totalParticipants.Set(float64(count))
}

// UpdateFrozen mirrors the freeze flag.
func UpdateFrozen(frozen bool) {
	if !globalManager.enabled {
		return
	}
	v := 0.0
	if frozen {
		v = 1
	}
	globalManager.frozen.Set(v)
}

// RecordStoreLatency observes the latency of a store operation.
func RecordStoreLatency(op string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.storeLatency.WithLabelValues(op).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(op, errorType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.storeErrors.WithLabelValues(op, errorType).Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	if !globalManager.enabled {
		return
	}
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	if !globalManager.enabled {
		return
	}
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueRejection increments the rejected enqueue counter.
func RecordQueueRejection() {
	if !globalManager.enabled {
		return
	}
	globalManager.queueRejections.Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.workerCount.Set(float64(count))
}

// AddWorkerBusy adjusts the busy worker gauge by delta.
func AddWorkerBusy(delta int) {
	if !globalManager.enabled {
		return
	}
	globalManager.workerBusy.Add(float64(delta))
}

// RecordWorkerJobDuration observes one worker job.
func RecordWorkerJobDuration(latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.workerJobDuration.Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if !globalManager.enabled {
		return
	}
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	if !globalManager.enabled {
		return
	}
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	if !globalManager.enabled {
		return
	}
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
