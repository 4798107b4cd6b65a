package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// BatchStatus represents the lifecycle state of a batch run.
type BatchStatus string

const (
	BatchStatusCreated             BatchStatus = "created"
	BatchStatusInitializing        BatchStatus = "initializing"
	BatchStatusProcessing          BatchStatus = "processing"
	BatchStatusCompleted           BatchStatus = "completed"
	BatchStatusPartial             BatchStatus = "partial"
	BatchStatusFailed              BatchStatus = "failed"
	BatchStatusCompletedWithErrors BatchStatus = "completed_with_errors"
	BatchStatusCancelled           BatchStatus = "cancelled"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusCreated, BatchStatusInitializing, BatchStatusProcessing,
		BatchStatusCompleted, BatchStatusPartial, BatchStatusFailed,
		BatchStatusCompletedWithErrors, BatchStatusCancelled:
		return true
	}
	return false
}

func (s BatchStatus) IsTerminal() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusPartial, BatchStatusFailed,
		BatchStatusCompletedWithErrors, BatchStatusCancelled:
		return true
	}
	return false
}

func (s BatchStatus) IsCancellable() bool {
	switch s {
	case BatchStatusCreated, BatchStatusInitializing, BatchStatusProcessing:
		return true
	}
	return false
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	if s.IsTerminal() || !next.IsValid() {
		return false
	}
	if next == BatchStatusCancelled {
		return s.IsCancellable()
	}

	switch s {
	case BatchStatusCreated:
		return next == BatchStatusInitializing || next == BatchStatusProcessing || next.IsTerminal()
	case BatchStatusInitializing:
		return next == BatchStatusInitializing || next == BatchStatusProcessing || next.IsTerminal()
	case BatchStatusProcessing:
		return next == BatchStatusProcessing || next.IsTerminal()
	}
	return false
}

func ParseBatchStatusFromString(s string) (BatchStatus, error) {
	st := BatchStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid batch status %q", ErrValidation, s)
	}
	return st, nil
}

// DeriveTerminalStatus applies the three-way rule used at the end of an
// individually dispatched batch. partialLabel is either BatchStatusPartial or
// BatchStatusCompletedWithErrors depending on the caller.
func DeriveTerminalStatus(succeeded, failed int, partialLabel BatchStatus) BatchStatus {
	switch {
	case failed == 0:
		return BatchStatusCompleted
	case succeeded == 0:
		return BatchStatusFailed
	default:
		if partialLabel == "" {
			return BatchStatusPartial
		}
		return partialLabel
	}
}

// Progress is a point-in-time view of how far a batch has come.
// Processed is always Succeeded + Failed.
type Progress struct {
	Processed  int `json:"processed"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

func NewProgress(succeeded, failed, total int) Progress {
	processed := succeeded + failed
	return Progress{
		Processed:  processed,
		Succeeded:  succeeded,
		Failed:     failed,
		Total:      total,
		Percentage: Percentage(processed, total),
	}
}

// Percentage returns round(part/total*100), or 0 when total is 0.
func Percentage(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

// BatchRun is the batch context: the durable record of one triggered execution.
type BatchRun struct {
	ID                     string
	JobID                  string
	BatchType              BatchType
	TemplateID             string
	Status                 BatchStatus
	ItemCount              int
	ValidItems             []string
	InvalidItems           []string
	ValidReferencedUsers   []string
	InvalidReferencedUsers []string
	Progress               Progress
	Metadata               map[string]any
	Error                  string
	CreatedAt              time.Time
	StartedAt              *time.Time
	CompletedAt            *time.Time
	CancelledAt            *time.Time
	UpdatedAt              time.Time
}

// Clone returns a deep copy safe to hand to another goroutine.
func (b *BatchRun) Clone() *BatchRun {
	if b == nil {
		return nil
	}

	c := *b
	c.ValidItems = cloneStrings(b.ValidItems)
	c.InvalidItems = cloneStrings(b.InvalidItems)
	c.ValidReferencedUsers = cloneStrings(b.ValidReferencedUsers)
	c.InvalidReferencedUsers = cloneStrings(b.InvalidReferencedUsers)
	c.Metadata = CloneMap(b.Metadata)
	c.StartedAt = cloneTime(b.StartedAt)
	c.CompletedAt = cloneTime(b.CompletedAt)
	c.CancelledAt = cloneTime(b.CancelledAt)
	return &c
}

// BatchPatch is a partial update of a BatchRun. Nil fields are left unchanged;
// Metadata keys are merged.
type BatchPatch struct {
	Status                 *BatchStatus
	ItemCount              *int
	ValidItems             []string
	InvalidItems           []string
	ValidReferencedUsers   []string
	InvalidReferencedUsers []string
	Progress               *Progress
	Metadata               map[string]any
	Error                  *string
	StartedAt              *time.Time
	CompletedAt            *time.Time
	CancelledAt            *time.Time
}

// Apply mutates run in place. It returns ErrBatchTerminal when run is already
// terminal and ErrConflict when the status transition is not allowed; in both
// cases run is left untouched.
func (p BatchPatch) Apply(run *BatchRun, now time.Time) error {
	if run == nil {
		return ErrNotFound
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: batch %s is %s", ErrBatchTerminal, run.ID, run.Status)
	}
	if p.Status != nil && !run.Status.CanTransitionTo(*p.Status) {
		return fmt.Errorf("%w: batch %s cannot move from %s to %s", ErrConflict, run.ID, run.Status, *p.Status)
	}

	if p.Status != nil {
		run.Status = *p.Status
	}
	if p.ItemCount != nil {
		run.ItemCount = *p.ItemCount
	}
	if p.ValidItems != nil {
		run.ValidItems = cloneStrings(p.ValidItems)
	}
	if p.InvalidItems != nil {
		run.InvalidItems = cloneStrings(p.InvalidItems)
	}
	if p.ValidReferencedUsers != nil {
		run.ValidReferencedUsers = cloneStrings(p.ValidReferencedUsers)
	}
	if p.InvalidReferencedUsers != nil {
		run.InvalidReferencedUsers = cloneStrings(p.InvalidReferencedUsers)
	}
	if p.Progress != nil {
		run.Progress = *p.Progress
	}
	if len(p.Metadata) > 0 {
		if run.Metadata == nil {
			run.Metadata = make(map[string]any, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			run.Metadata[k] = v
		}
	}
	if p.Error != nil {
		run.Error = *p.Error
	}
	if p.StartedAt != nil {
		run.StartedAt = cloneTime(p.StartedAt)
	}
	if p.CompletedAt != nil {
		run.CompletedAt = cloneTime(p.CompletedAt)
	}
	if p.CancelledAt != nil {
		run.CancelledAt = cloneTime(p.CancelledAt)
	}
	run.UpdatedAt = now
	return nil
}

// StatusPtr is a small helper for building patches.
func StatusPtr(s BatchStatus) *BatchStatus { return &s }

// ItemResult is the outcome of executing one unit of work.
type ItemResult struct {
	ItemID  string         `json:"itemId"`
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// CloneMap copies the top level of m plus any nested maps and slices of maps.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return CloneMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = cloneValue(typed[i])
		}
		return out
	case []string:
		return cloneStrings(typed)
	default:
		return v
	}
}
