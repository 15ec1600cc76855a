// Package metrics provides Prometheus metrics collection for the CSE.
package metrics

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics emitted by the CSE.
type Metrics struct {
	// HTTP metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Dispatcher metrics (CRUDN pipeline)
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec

	// Notifier metrics
	NotificationsTotal    *prometheus.CounterVec
	NotificationDuration  *prometheus.HistogramVec
	BatchBufferDepth      prometheus.Gauge
	SubscriptionsActive   prometheus.Gauge

	// Storage metrics
	StorageOpsTotal    *prometheus.CounterVec
	StorageOpDuration  *prometheus.HistogramVec
	ResourcesStored    prometheus.Gauge

	// Scheduler metrics
	ScheduledTasksActive prometheus.Gauge
	ScheduledTaskRuns    *prometheus.CounterVec

	// Service health
	ServiceUptime prometheus.Gauge
	ServiceInfo   *prometheus.GaugeVec

	// Host resource usage (populated by internal/scheduler via gopsutil)
	HostCPUPercent    prometheus.Gauge
	HostMemoryPercent prometheus.Gauge
}

// New creates a new Metrics instance with all collectors registered.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "errors_total",
				Help: "Total number of errors",
			},
			[]string{"service", "type", "operation"},
		),

		DispatchTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cse_dispatch_total",
				Help: "Total number of CRUDN operations dispatched",
			},
			[]string{"op", "resource_type", "rsc"},
		),
		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cse_dispatch_duration_seconds",
				Help:    "Dispatcher pipeline duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"op", "resource_type"},
		),

		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cse_notifications_total",
				Help: "Total number of notifications sent",
			},
			[]string{"net", "status"},
		),
		NotificationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cse_notification_duration_seconds",
				Help:    "Notification delivery duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"net"},
		),
		BatchBufferDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cse_batch_buffer_depth",
				Help: "Total pending notifications across all batch buffers",
			},
		),
		SubscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cse_subscriptions_active",
				Help: "Current number of live subscription records",
			},
		),

		StorageOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cse_storage_ops_total",
				Help: "Total number of storage operations",
			},
			[]string{"table", "op", "status"},
		),
		StorageOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cse_storage_op_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5},
			},
			[]string{"table", "op"},
		),
		ResourcesStored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cse_resources_stored",
				Help: "Current number of live resources in storage",
			},
		),

		ScheduledTasksActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cse_scheduled_tasks_active",
				Help: "Current number of registered scheduler tasks",
			},
		),
		ScheduledTaskRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cse_scheduled_task_runs_total",
				Help: "Total number of scheduler task executions",
			},
			[]string{"task", "status"},
		),

		ServiceUptime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
		),
		ServiceInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_info",
				Help: "Service information",
			},
			[]string{"service", "version", "environment"},
		),

		HostCPUPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cse_host_cpu_percent",
				Help: "Host CPU utilization percentage, sampled by the scheduler",
			},
		),
		HostMemoryPercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cse_host_memory_percent",
				Help: "Host memory utilization percentage, sampled by the scheduler",
			},
		),
	}

	if registerer != nil {
		registerer.MustRegister(
			m.RequestsTotal,
			m.RequestDuration,
			m.RequestsInFlight,
			m.ErrorsTotal,
			m.DispatchTotal,
			m.DispatchDuration,
			m.NotificationsTotal,
			m.NotificationDuration,
			m.BatchBufferDepth,
			m.SubscriptionsActive,
			m.StorageOpsTotal,
			m.StorageOpDuration,
			m.ResourcesStored,
			m.ScheduledTasksActive,
			m.ScheduledTaskRuns,
			m.ServiceUptime,
			m.ServiceInfo,
			m.HostCPUPercent,
			m.HostMemoryPercent,
		)
	}

	m.ServiceInfo.WithLabelValues(serviceName, "1.0.0", getEnvironment()).Set(1)

	return m
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError records an error.
func (m *Metrics) RecordError(service, errorType, operation string) {
	m.ErrorsTotal.WithLabelValues(service, errorType, operation).Inc()
}

// RecordDispatch records the outcome of a dispatcher pipeline run.
func (m *Metrics) RecordDispatch(op, resourceType, rsc string, duration time.Duration) {
	m.DispatchTotal.WithLabelValues(op, resourceType, rsc).Inc()
	m.DispatchDuration.WithLabelValues(op, resourceType).Observe(duration.Seconds())
}

// RecordNotification records a notification delivery attempt.
func (m *Metrics) RecordNotification(net, status string, duration time.Duration) {
	m.NotificationsTotal.WithLabelValues(net, status).Inc()
	m.NotificationDuration.WithLabelValues(net).Observe(duration.Seconds())
}

// RecordStorageOp records a storage operation.
func (m *Metrics) RecordStorageOp(table, op, status string, duration time.Duration) {
	m.StorageOpsTotal.WithLabelValues(table, op, status).Inc()
	m.StorageOpDuration.WithLabelValues(table, op).Observe(duration.Seconds())
}

// RecordScheduledTaskRun records a scheduler task execution.
func (m *Metrics) RecordScheduledTaskRun(task, status string) {
	m.ScheduledTaskRuns.WithLabelValues(task, status).Inc()
}

// SetHostCPUPercent sets the sampled host CPU utilization gauge.
func (m *Metrics) SetHostCPUPercent(percent float64) {
	m.HostCPUPercent.Set(percent)
}

// SetHostMemoryPercent sets the sampled host memory utilization gauge.
func (m *Metrics) SetHostMemoryPercent(percent float64) {
	m.HostMemoryPercent.Set(percent)
}

// SetResourcesStored sets the current resource count gauge.
func (m *Metrics) SetResourcesStored(count int) {
	m.ResourcesStored.Set(float64(count))
}

// SetSubscriptionsActive sets the current subscription count gauge.
func (m *Metrics) SetSubscriptionsActive(count int) {
	m.SubscriptionsActive.Set(float64(count))
}

// SetBatchBufferDepth sets the aggregate batch buffer depth gauge.
func (m *Metrics) SetBatchBufferDepth(count int) {
	m.BatchBufferDepth.Set(float64(count))
}

// SetScheduledTasksActive sets the scheduler task count gauge.
func (m *Metrics) SetScheduledTasksActive(count int) {
	m.ScheduledTasksActive.Set(float64(count))
}

// UpdateUptime updates the service uptime.
func (m *Metrics) UpdateUptime(startTime time.Time) {
	m.ServiceUptime.Set(time.Since(startTime).Seconds())
}

// IncrementInFlight increments the in-flight requests counter.
func (m *Metrics) IncrementInFlight() {
	m.RequestsInFlight.Inc()
}

// DecrementInFlight decrements the in-flight requests counter.
func (m *Metrics) DecrementInFlight() {
	m.RequestsInFlight.Dec()
}

// Helper functions.

func getEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("CSE_ENV")))
	if env == "" {
		return "development"
	}
	return env
}

// Enabled returns whether Prometheus metrics should be exposed.
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return true
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Global metrics instance.
var (
	globalMetrics *Metrics
	globalMu      sync.Mutex
)

// Init initializes the global metrics instance.
func Init(serviceName string) *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New(serviceName)
	}
	return globalMetrics
}

// Global returns the global metrics instance.
func Global() *Metrics {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalMetrics == nil {
		globalMetrics = New("unknown")
	}
	return globalMetrics
}
