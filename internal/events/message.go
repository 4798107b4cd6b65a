package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
)

type EventType string

const (
	EventBatchStarted   EventType = "started"
	EventBatchFinished  EventType = "finished"
	EventBatchCancelled EventType = "cancelled"
)

func (t EventType) IsValid() bool {
	switch t {
	case EventBatchStarted, EventBatchFinished, EventBatchCancelled:
		return true
	}
	return false
}

// BatchEvent is the broker payload announcing a batch lifecycle change.
type BatchEvent struct {
	EventID    string             `json:"eventId"`
	Type       EventType          `json:"type"`
	BatchID    string             `json:"batchId"`
	JobID      string             `json:"jobId,omitempty"`
	BatchType  string             `json:"batchType"`
	Status     domain.BatchStatus `json:"status"`
	Progress   domain.Progress    `json:"progress"`
	OccurredAt time.Time          `json:"occurredAt"`
}

func (e BatchEvent) Validate() error {
	if strings.TrimSpace(e.EventID) == "" {
		return fmt.Errorf("eventId is required")
	}
	if strings.TrimSpace(e.BatchID) == "" {
		return fmt.Errorf("batchId is required")
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("invalid event type %q", e.Type)
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid status %q", e.Status)
	}
	return nil
}

// TriggerMessage asks the orchestrator to run a configured job now.
type TriggerMessage struct {
	JobID       string         `json:"jobId"`
	Overrides   map[string]any `json:"overrides,omitempty"`
	RequestedBy string         `json:"requestedBy,omitempty"`
}

func (m TriggerMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	return nil
}
