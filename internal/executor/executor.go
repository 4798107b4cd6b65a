package executor

import (
	"context"

	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
)

// ItemExecutor is the outbound port that performs the per-item business work.
// A BATCH-mode run issues exactly one Execute call whose Item wraps the full
// item set under the "items" key.
type ItemExecutor interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Request carries one unit of work and the batch it belongs to.
type Request struct {
	BatchID    string
	JobID      string
	TemplateID string
	BatchType  domain.BatchType
	ItemID     string
	Item       domain.Item
	Metadata   map[string]any
	Attempt    int
}

// Result stores the collaborator's response for the item result record.
type Result struct {
	StatusCode int
	RequestID  string
	Output     map[string]any
}
