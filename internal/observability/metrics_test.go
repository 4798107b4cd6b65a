package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsBatchCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncBatchStarted("INDIVIDUAL_USERS")
	metrics.IncBatchFinished("INDIVIDUAL_USERS", "partial")
	metrics.IncItemResult(true)
	metrics.IncItemResult(true)
	metrics.IncItemResult(false)
	metrics.ObserveItemDuration("individual_users", 120*time.Millisecond)
	metrics.IncItemsInFlight()
	metrics.DecItemsInFlight()
	metrics.IncItemRetry()

	if got := testutil.ToFloat64(metrics.batchesStartedTotal.WithLabelValues("individual_users")); got != 1 {
		t.Fatalf("batches_started_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.batchesFinishedTotal.WithLabelValues("individual_users", "partial")); got != 1 {
		t.Fatalf("batches_finished_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.batchItemsTotal.WithLabelValues("succeeded")); got != 2 {
		t.Fatalf("batch_items_total{succeeded} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.batchItemsTotal.WithLabelValues("failed")); got != 1 {
		t.Fatalf("batch_items_total{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.itemsInflight); got != 0 {
		t.Fatalf("items_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.itemRetriesTotal); got != 1 {
		t.Fatalf("item_retries_total = %v, want 1", got)
	}
}

func TestMetricsSchedulerCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncScheduleRegistered("static")
	metrics.IncScheduleRegistered("dynamic")
	metrics.IncScheduleRegistered("dynamic")
	metrics.IncScheduleRemoved()
	metrics.SetDynamicSchedules(1)
	metrics.IncPreferenceRefreshFailure()

	if got := testutil.ToFloat64(metrics.scheduleRegistrations.WithLabelValues("dynamic")); got != 2 {
		t.Fatalf("schedule_registrations_total{dynamic} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.scheduleRemovalsTotal); got != 1 {
		t.Fatalf("schedule_removals_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.dynamicSchedules); got != 1 {
		t.Fatalf("dynamic_schedules = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.preferenceRefreshFailure); got != 1 {
		t.Fatalf("preference_refresh_failures_total = %v, want 1", got)
	}
}

func TestMetricsNilReceiver(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncBatchStarted("BATCH_USERS")
	metrics.IncItemResult(true)
	metrics.SetDynamicSchedules(3)
	if metrics.Handler() == nil {
		t.Fatal("nil metrics should still expose a handler")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
