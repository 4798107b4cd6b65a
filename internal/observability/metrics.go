package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API, scheduler and batch
// execution flows. All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	batchesStartedTotal      *prometheus.CounterVec
	batchesFinishedTotal     *prometheus.CounterVec
	batchItemsTotal          *prometheus.CounterVec
	itemExecutionDuration    *prometheus.HistogramVec
	itemsInflight            prometheus.Gauge
	itemRetriesTotal         prometheus.Counter
	scheduleRegistrations    *prometheus.CounterVec
	scheduleRemovalsTotal    prometheus.Counter
	dynamicSchedules         prometheus.Gauge
	preferenceRefreshFailure prometheus.Counter
}

const namespace = "batch_orchestrator"

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		batchesStartedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_started_total",
				Help:      "Total number of batch runs started by batch type.",
			},
			[]string{"batch_type"},
		),
		batchesFinishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_finished_total",
				Help:      "Total number of batch runs that reached a terminal status.",
			},
			[]string{"batch_type", "status"},
		),
		batchItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batch_items_total",
				Help:      "Total number of executed items by result.",
			},
			[]string{"result"},
		),
		itemExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "item_execution_duration_seconds",
				Help:      "Item execution duration in seconds grouped by batch type.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"batch_type"},
		),
		itemsInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "items_inflight",
				Help:      "Current number of in-flight item executions.",
			},
		),
		itemRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "item_retries_total",
				Help:      "Total number of item executions retried after a transient error.",
			},
		),
		scheduleRegistrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schedule_registrations_total",
				Help:      "Total number of triggers registered by regime.",
			},
			[]string{"regime"},
		),
		scheduleRemovalsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schedule_removals_total",
				Help:      "Total number of dynamic schedules removed by reconciliation.",
			},
		),
		dynamicSchedules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dynamic_schedules",
				Help:      "Current number of registered preference group schedules.",
			},
		),
		preferenceRefreshFailure: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preference_refresh_failures_total",
				Help:      "Total number of failed preference refresh passes.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.batchesStartedTotal,
		m.batchesFinishedTotal,
		m.batchItemsTotal,
		m.itemExecutionDuration,
		m.itemsInflight,
		m.itemRetriesTotal,
		m.scheduleRegistrations,
		m.scheduleRemovalsTotal,
		m.dynamicSchedules,
		m.preferenceRefreshFailure,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncBatchStarted(batchType string) {
	if m == nil {
		return
	}
	m.batchesStartedTotal.WithLabelValues(normalizeLabel(batchType)).Inc()
}

func (m *Metrics) IncBatchFinished(batchType string, status string) {
	if m == nil {
		return
	}
	m.batchesFinishedTotal.WithLabelValues(normalizeLabel(batchType), normalizeLabel(status)).Inc()
}

func (m *Metrics) IncItemResult(success bool) {
	if m == nil {
		return
	}
	result := "failed"
	if success {
		result = "succeeded"
	}
	m.batchItemsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveItemDuration(batchType string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.itemExecutionDuration.WithLabelValues(normalizeLabel(batchType)).Observe(seconds)
}

func (m *Metrics) IncItemsInFlight() {
	if m == nil {
		return
	}
	m.itemsInflight.Inc()
}

func (m *Metrics) DecItemsInFlight() {
	if m == nil {
		return
	}
	m.itemsInflight.Dec()
}

func (m *Metrics) IncItemRetry() {
	if m == nil {
		return
	}
	m.itemRetriesTotal.Inc()
}

func (m *Metrics) IncScheduleRegistered(regime string) {
	if m == nil {
		return
	}
	m.scheduleRegistrations.WithLabelValues(normalizeLabel(regime)).Inc()
}

func (m *Metrics) IncScheduleRemoved() {
	if m == nil {
		return
	}
	m.scheduleRemovalsTotal.Inc()
}

func (m *Metrics) SetDynamicSchedules(n int) {
	if m == nil {
		return
	}
	m.dynamicSchedules.Set(float64(n))
}

func (m *Metrics) IncPreferenceRefreshFailure() {
	if m == nil {
		return
	}
	m.preferenceRefreshFailure.Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
