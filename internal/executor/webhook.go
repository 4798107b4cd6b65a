package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultWebhookTimeout = 10 * time.Second

type webhookRequest struct {
	BatchID    string         `json:"batch_id"`
	JobID      string         `json:"job_id,omitempty"`
	TemplateID string         `json:"template_id,omitempty"`
	BatchType  string         `json:"batch_type"`
	ItemID     string         `json:"item_id"`
	Item       map[string]any `json:"item"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Attempt    int            `json:"attempt"`
}

// WebhookExecutor posts each unit of work to an HTTP execution endpoint.
type WebhookExecutor struct {
	client   *resty.Client
	endpoint string
}

func NewWebhookExecutor(endpoint string) (*WebhookExecutor, error) {
	client := resty.New()
	client.SetTimeout(defaultWebhookTimeout)
	client.SetRetryCount(0)

	return NewWebhookExecutorWithClient(endpoint, client)
}

func NewWebhookExecutorWithClient(endpoint string, client *resty.Client) (*WebhookExecutor, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("execution endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid execution endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultWebhookTimeout)
	}
	client.SetRetryCount(0)

	return &WebhookExecutor{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (e *WebhookExecutor) Execute(ctx context.Context, req Request) (*Result, error) {
	if e == nil || e.client == nil {
		return nil, fmt.Errorf("executor is not initialized")
	}
	if strings.TrimSpace(req.BatchID) == "" {
		return nil, &ExecutionError{ItemID: req.ItemID, Message: "batch id is required"}
	}

	reqBody := webhookRequest{
		BatchID:    req.BatchID,
		JobID:      req.JobID,
		TemplateID: req.TemplateID,
		BatchType:  req.BatchType.String(),
		ItemID:     req.ItemID,
		Item:       req.Item,
		Metadata:   req.Metadata,
		Attempt:    req.Attempt,
	}

	response, err := e.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Idempotency-Key", req.BatchID+":"+req.ItemID).
		SetBody(reqBody).
		Post(e.endpoint)
	if err != nil {
		return nil, &ExecutionError{
			ItemID:    req.ItemID,
			Message:   "execution request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return nil, &ExecutionError{
			ItemID:    req.ItemID,
			Message:   "execution endpoint returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	responseBody := strings.TrimSpace(response.String())

	if statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices {
		return &Result{
			StatusCode: statusCode,
			RequestID:  requestID(response),
			Output:     decodeOutput(responseBody),
		}, nil
	}

	return nil, statusError(req.ItemID, statusCode, responseBody)
}

func executionErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("execution endpoint returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}

func decodeOutput(body string) map[string]any {
	if body == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return map[string]any{"body": body}
	}
	return out
}

func requestID(response *resty.Response) string {
	if response == nil {
		return ""
	}

	for _, key := range []string{"X-Request-ID", "X-Request-Id", "X-Correlation-ID", "X-Correlation-Id"} {
		if value := strings.TrimSpace(response.Header().Get(key)); value != "" {
			return value
		}
	}

	return ""
}
