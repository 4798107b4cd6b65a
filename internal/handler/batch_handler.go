package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
	"github.com/kursadbilgin/batch-orchestrator/internal/service"
	"github.com/kursadbilgin/batch-orchestrator/internal/transport"
)

const maxBatchItems = 10000

var requestValidator = validator.New()

type BatchService interface {
	ProcessBatch(
		ctx context.Context,
		batchType domain.BatchType,
		items []domain.Item,
		templateID string,
		metadata map[string]any,
	) (string, error)
	GetBatchStatus(ctx context.Context, batchID string) (*domain.BatchRun, error)
	CancelBatch(ctx context.Context, batchID string) bool
	GetBatchResultsByTenant(ctx context.Context, batchID string) (*service.TenantResults, error)
}

type BatchHandler struct {
	service BatchService
}

func NewBatchHandler(service BatchService) (*BatchHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("batch service is required")
	}
	return &BatchHandler{service: service}, nil
}

func RegisterBatchRoutes(router fiber.Router, service BatchService) error {
	h, err := NewBatchHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/batches", h.CreateBatch)
	v1.Get("/batches/:id", h.GetBatch)
	v1.Post("/batches/:id/cancel", h.CancelBatch)
	v1.Get("/batches/:id/tenants", h.GetTenantResults)

	return nil
}

type createBatchRequest struct {
	BatchType  string           `json:"batchType" validate:"required"`
	TemplateID string           `json:"templateId"`
	Items      []map[string]any `json:"items"`
	Metadata   map[string]any   `json:"metadata"`
}

type createBatchResponse struct {
	BatchID   string `json:"batchId"`
	BatchType string `json:"batchType"`
	Status    string `json:"status"`
	ItemCount int    `json:"itemCount"`
}

type batchResponse struct {
	ID                     string          `json:"id"`
	JobID                  string          `json:"jobId,omitempty"`
	BatchType              string          `json:"batchType"`
	TemplateID             string          `json:"templateId,omitempty"`
	Status                 string          `json:"status"`
	ItemCount              int             `json:"itemCount"`
	ValidItems             []string        `json:"validItems"`
	InvalidItems           []string        `json:"invalidItems"`
	ValidReferencedUsers   []string        `json:"validReferencedUsers,omitempty"`
	InvalidReferencedUsers []string        `json:"invalidReferencedUsers,omitempty"`
	Progress               domain.Progress `json:"progress"`
	Metadata               map[string]any  `json:"metadata,omitempty"`
	Error                  string          `json:"error,omitempty"`
	CreatedAt              time.Time       `json:"createdAt"`
	StartedAt              *time.Time      `json:"startedAt,omitempty"`
	CompletedAt            *time.Time      `json:"completedAt,omitempty"`
	CancelledAt            *time.Time      `json:"cancelledAt,omitempty"`
	UpdatedAt              time.Time       `json:"updatedAt"`
}

type tenantResultsResponse struct {
	BatchID         string                           `json:"batchId"`
	Status          string                           `json:"status"`
	PreferenceBatch bool                             `json:"preferenceBatch"`
	Tenants         map[string]service.TenantSummary `json:"tenants,omitempty"`
	Batch           *batchResponse                   `json:"batch,omitempty"`
}

func (h *BatchHandler) CreateBatch(c *fiber.Ctx) error {
	var req createBatchRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := requestValidator.Struct(&req); err != nil {
		return toHTTPError(fmt.Errorf("%w: %v", domain.ErrValidation, err))
	}
	if len(req.Items) > maxBatchItems {
		return toHTTPError(fmt.Errorf("%w: batch size exceeds %d", domain.ErrValidation, maxBatchItems))
	}

	batchType, err := domain.ParseBatchType(domain.NormalizeBatchType(req.BatchType))
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]domain.Item, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.Item(item))
	}

	batchID, err := h.service.ProcessBatch(c.Context(), batchType, items, strings.TrimSpace(req.TemplateID), req.Metadata)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(createBatchResponse{
		BatchID:   batchID,
		BatchType: batchType.String(),
		Status:    string(domain.BatchStatusCreated),
		ItemCount: len(items),
	})
}

func (h *BatchHandler) GetBatch(c *fiber.Ctx) error {
	run, err := h.service.GetBatchStatus(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusOK).JSON(toBatchResponse(run))
}

func (h *BatchHandler) CancelBatch(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("id"))
	if h.service.CancelBatch(c.Context(), batchID) {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"batchId":   batchID,
			"cancelled": true,
			"status":    string(domain.BatchStatusCancelled),
		})
	}

	run, err := h.service.GetBatchStatus(c.Context(), batchID)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(fiber.StatusConflict).JSON(fiber.Map{
		"batchId":   batchID,
		"cancelled": false,
		"status":    string(run.Status),
	})
}

func (h *BatchHandler) GetTenantResults(c *fiber.Ctx) error {
	results, err := h.service.GetBatchResultsByTenant(c.Context(), strings.TrimSpace(c.Params("id")))
	if err != nil {
		return toHTTPError(err)
	}

	resp := tenantResultsResponse{
		BatchID:         results.BatchID,
		Status:          string(results.Status),
		PreferenceBatch: results.Tenants != nil,
		Tenants:         results.Tenants,
	}
	if results.Batch != nil {
		batch := toBatchResponse(results.Batch)
		resp.Batch = &batch
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}

func toBatchResponse(run *domain.BatchRun) batchResponse {
	if run == nil {
		return batchResponse{}
	}

	return batchResponse{
		ID:                     run.ID,
		JobID:                  run.JobID,
		BatchType:              run.BatchType.String(),
		TemplateID:             run.TemplateID,
		Status:                 string(run.Status),
		ItemCount:              run.ItemCount,
		ValidItems:             nonNilStrings(run.ValidItems),
		InvalidItems:           nonNilStrings(run.InvalidItems),
		ValidReferencedUsers:   run.ValidReferencedUsers,
		InvalidReferencedUsers: run.InvalidReferencedUsers,
		Progress:               run.Progress,
		Metadata:               run.Metadata,
		Error:                  run.Error,
		CreatedAt:              run.CreatedAt,
		StartedAt:              run.StartedAt,
		CompletedAt:            run.CompletedAt,
		CancelledAt:            run.CancelledAt,
		UpdatedAt:              run.UpdatedAt,
	}
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func toHTTPError(err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe
	}

	code := transport.StatusFor(err)
	if code == fiber.StatusInternalServerError {
		return err
	}
	return fiber.NewError(code, err.Error())
}
