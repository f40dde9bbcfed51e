package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector manages all metrics for a service
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	// HTTP metrics for the ops surface
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ErrorsTotal     *prometheus.CounterVec
	StartTime       prometheus.Gauge

	// Pipeline metrics
	FilesProcessed      *prometheus.CounterVec
	RecordsReceived     *prometheus.CounterVec
	RecordsDistributed  *prometheus.CounterVec
	ExceptionsTotal     *prometheus.CounterVec
	RetriesTotal        *prometheus.CounterVec
	BatchDuration       *prometheus.HistogramVec
	DistributionLatency *prometheus.HistogramVec

	// Reconciliation metrics
	ReconciliationRuns     *prometheus.CounterVec
	ReconciliationExpected prometheus.Gauge
	ReconciliationActual   prometheus.Gauge

	// Dependency metrics
	DatabaseQueries   *prometheus.CounterVec
	DatabaseDuration  *prometheus.HistogramVec
	CacheOperations   *prometheus.CounterVec
	ExternalCalls     *prometheus.CounterVec
	MessagesSent      *prometheus.CounterVec
	MessagesReceived  *prometheus.CounterVec
	MessageProcessing *prometheus.HistogramVec
}

// NewCollector creates a new metrics collector on a private registry
func NewCollector(namespace string) *Collector {
	c := &Collector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
	}

	c.initializeMetrics()
	c.registerMetrics()

	return c
}

func (c *Collector) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      help,
	}, labels)
}

func (c *Collector) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

func (c *Collector) gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: c.namespace,
		Name:      name,
		Help:      help,
	})
}

func (c *Collector) initializeMetrics() {
	fast := []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10}
	slow := []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300}

	c.RequestsTotal = c.counterVec("http_requests_total", "Total number of HTTP requests",
		"method", "endpoint", "status_code")
	c.RequestDuration = c.histogramVec("http_request_duration_seconds", "HTTP request duration in seconds",
		fast, "method", "endpoint", "status_code")
	c.ErrorsTotal = c.counterVec("errors_total", "Total number of errors", "error_type", "component")
	c.StartTime = c.gauge("start_time_seconds", "Service start time in Unix seconds")

	c.FilesProcessed = c.counterVec("files_processed_total", "Bulk files handled by intake", "outcome")
	c.RecordsReceived = c.counterVec("records_received_total", "Intake records seen", "operation_kind")
	c.RecordsDistributed = c.counterVec("records_distributed_total", "Distribution rows written", "screening_service")
	c.ExceptionsTotal = c.counterVec("exceptions_total", "Exception store rows written", "category", "fatal", "rule")
	c.RetriesTotal = c.counterVec("retries_total", "Records resubmitted through the retry queue", "reason")
	c.BatchDuration = c.histogramVec("batch_duration_seconds", "Time to process one batch", slow, "component")
	c.DistributionLatency = c.histogramVec("distribution_duration_seconds", "Time to distribute one record",
		fast, "outcome")

	c.ReconciliationRuns = c.counterVec("reconciliation_runs_total", "Reconciliation runs", "result")
	c.ReconciliationExpected = c.gauge("reconciliation_expected_records", "Claimed record count in the last window")
	c.ReconciliationActual = c.gauge("reconciliation_actual_records", "Distributed plus excepted records in the last window")

	c.DatabaseQueries = c.counterVec("database_queries_total", "Total number of database queries",
		"operation", "table", "status")
	c.DatabaseDuration = c.histogramVec("database_query_duration_seconds", "Database query duration in seconds",
		fast, "operation", "table")
	c.CacheOperations = c.counterVec("cache_operations_total", "Total number of cache operations",
		"operation", "result")
	c.ExternalCalls = c.counterVec("external_calls_total", "Calls to external collaborator services",
		"service", "status")
	c.MessagesSent = c.counterVec("messages_sent_total", "Total number of messages sent", "topic", "status")
	c.MessagesReceived = c.counterVec("messages_received_total", "Total number of messages received",
		"topic", "status")
	c.MessageProcessing = c.histogramVec("message_processing_duration_seconds", "Message processing duration",
		fast, "topic")
}

func (c *Collector) registerMetrics() {
	c.registry.MustRegister(
		c.RequestsTotal,
		c.RequestDuration,
		c.ErrorsTotal,
		c.StartTime,
		c.FilesProcessed,
		c.RecordsReceived,
		c.RecordsDistributed,
		c.ExceptionsTotal,
		c.RetriesTotal,
		c.BatchDuration,
		c.DistributionLatency,
		c.ReconciliationRuns,
		c.ReconciliationExpected,
		c.ReconciliationActual,
		c.DatabaseQueries,
		c.DatabaseDuration,
		c.CacheOperations,
		c.ExternalCalls,
		c.MessagesSent,
		c.MessagesReceived,
		c.MessageProcessing,
	)

	c.StartTime.SetToCurrentTime()
}

// RecordHTTPRequest records HTTP request metrics
func (c *Collector) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	c.RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	c.RequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

// RecordError records error metrics
func (c *Collector) RecordError(errorType, component string) {
	c.ErrorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordFile records the terminal outcome of one bulk file
func (c *Collector) RecordFile(outcome string) {
	c.FilesProcessed.WithLabelValues(outcome).Inc()
}

// RecordReceived counts an intake record by operation kind
func (c *Collector) RecordReceived(operationKind string) {
	c.RecordsReceived.WithLabelValues(operationKind).Inc()
}

// RecordDistributed counts a written distribution row
func (c *Collector) RecordDistributed(screeningService string) {
	c.RecordsDistributed.WithLabelValues(screeningService).Inc()
}

// RecordException counts an exception store row
func (c *Collector) RecordException(category int, fatal bool, rule string) {
	c.ExceptionsTotal.WithLabelValues(strconv.Itoa(category), strconv.FormatBool(fatal), rule).Inc()
}

// RecordRetry counts a record pushed to the retry queue
func (c *Collector) RecordRetry(reason string) {
	c.RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordBatch observes batch processing time
func (c *Collector) RecordBatch(component string, duration time.Duration) {
	c.BatchDuration.WithLabelValues(component).Observe(duration.Seconds())
}

// RecordDistribution observes the time spent distributing one record
func (c *Collector) RecordDistribution(outcome string, duration time.Duration) {
	c.DistributionLatency.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordReconciliation stores the counts of the last reconciliation run
func (c *Collector) RecordReconciliation(result string, expected, actual int) {
	c.ReconciliationRuns.WithLabelValues(result).Inc()
	c.ReconciliationExpected.Set(float64(expected))
	c.ReconciliationActual.Set(float64(actual))
}

// RecordDatabaseQuery records database query metrics
func (c *Collector) RecordDatabaseQuery(operation, table, status string, duration time.Duration) {
	c.DatabaseQueries.WithLabelValues(operation, table, status).Inc()
	c.DatabaseDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordCacheOperation records cache operation metrics
func (c *Collector) RecordCacheOperation(operation, result string) {
	c.CacheOperations.WithLabelValues(operation, result).Inc()
}

// RecordExternalCall records a call to a collaborator service
func (c *Collector) RecordExternalCall(service, status string) {
	c.ExternalCalls.WithLabelValues(service, status).Inc()
}

// RecordMessageSent records message sent metrics
func (c *Collector) RecordMessageSent(topic, status string) {
	c.MessagesSent.WithLabelValues(topic, status).Inc()
}

// RecordMessageReceived records message received metrics
func (c *Collector) RecordMessageReceived(topic, status string) {
	c.MessagesReceived.WithLabelValues(topic, status).Inc()
}

// RecordMessageProcessing records message processing duration
func (c *Collector) RecordMessageProcessing(topic string, duration time.Duration) {
	c.MessageProcessing.WithLabelValues(topic).Observe(duration.Seconds())
}

// GetRegistry returns the prometheus registry
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}

// CreateHandler creates an HTTP handler for metrics
func (c *Collector) CreateHandler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// GinMiddleware records request metrics for the ops router
func (c *Collector) GinMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()

		endpoint := ctx.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		c.RecordHTTPRequest(ctx.Request.Method, endpoint, ctx.Writer.Status(), time.Since(start))
	}
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
