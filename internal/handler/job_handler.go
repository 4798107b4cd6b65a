package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
	"github.com/kursadbilgin/batch-orchestrator/internal/service"
)

type SchedulerService interface {
	ListJobs() []service.JobInfo
	RunJobNow(ctx context.Context, jobID string) (string, error)
	CheckJobStatus(ctx context.Context, jobID string) (*service.JobStatus, error)
	Reload() (int, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Running() bool
	ListPreferenceSchedules() []domain.DynamicSchedule
	RefreshPreferenceSchedules(ctx context.Context) (service.RefreshResult, error)
}

// JobRunner starts a configured job with request-scoped overrides.
type JobRunner interface {
	ProcessJob(ctx context.Context, jobID string, overrides map[string]any) (string, error)
}

type JobHandler struct {
	scheduler SchedulerService
	runner    JobRunner
}

func NewJobHandler(scheduler SchedulerService, runner JobRunner) (*JobHandler, error) {
	if scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("job runner is required")
	}
	return &JobHandler{scheduler: scheduler, runner: runner}, nil
}

func RegisterJobRoutes(router fiber.Router, scheduler SchedulerService, runner JobRunner) error {
	h, err := NewJobHandler(scheduler, runner)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Get("/jobs", h.ListJobs)
	v1.Post("/jobs/reload", h.ReloadJobs)
	v1.Post("/jobs/:id/run", h.RunJob)
	v1.Get("/jobs/:id/status", h.GetJobStatus)
	v1.Get("/scheduler", h.GetScheduler)
	v1.Post("/scheduler/start", h.StartScheduler)
	v1.Post("/scheduler/stop", h.StopScheduler)
	v1.Post("/scheduler/refresh", h.RefreshSchedules)

	return nil
}

type runJobRequest struct {
	Overrides map[string]any `json:"overrides"`
}

type listJobsResponse struct {
	Data []service.JobInfo `json:"data"`
	Meta jobsMeta          `json:"meta"`
}

type jobsMeta struct {
	Total            int  `json:"total"`
	SchedulerRunning bool `json:"schedulerRunning"`
}

type schedulerResponse struct {
	Running   bool                     `json:"running"`
	Schedules []domain.DynamicSchedule `json:"schedules"`
}

func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	jobs := h.scheduler.ListJobs()
	return c.Status(fiber.StatusOK).JSON(listJobsResponse{
		Data: jobs,
		Meta: jobsMeta{Total: len(jobs), SchedulerRunning: h.scheduler.Running()},
	})
}

// RunJob starts a job immediately. An empty body runs the job as configured.
func (h *JobHandler) RunJob(c *fiber.Ctx) error {
	jobID := strings.TrimSpace(c.Params("id"))

	var req runJobRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
	}

	var (
		batchID string
		err     error
	)
	if len(req.Overrides) > 0 {
		batchID, err = h.runner.ProcessJob(c.Context(), jobID, req.Overrides)
	} else {
		batchID, err = h.scheduler.RunJobNow(c.Context(), jobID)
	}
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"jobId":   jobID,
		"batchId": batchID,
	})
}

func (h *JobHandler) GetJobStatus(c *fiber.Ctx) error {
	status, err := h.scheduler.CheckJobStatus(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(status)
}

func (h *JobHandler) ReloadJobs(c *fiber.Ctx) error {
	registered, err := h.scheduler.Reload()
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"registered": registered,
	})
}

func (h *JobHandler) GetScheduler(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(schedulerResponse{
		Running:   h.scheduler.Running(),
		Schedules: h.scheduler.ListPreferenceSchedules(),
	})
}

func (h *JobHandler) StartScheduler(c *fiber.Ctx) error {
	// The monitor outlives the request, so it must not inherit the request context.
	if err := h.scheduler.Start(c.UserContext()); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"running": h.scheduler.Running()})
}

func (h *JobHandler) StopScheduler(c *fiber.Ctx) error {
	if err := h.scheduler.Stop(c.Context()); err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"running": h.scheduler.Running()})
}

func (h *JobHandler) RefreshSchedules(c *fiber.Ctx) error {
	result, err := h.scheduler.RefreshPreferenceSchedules(c.Context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}
