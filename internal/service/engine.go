package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
	"github.com/kursadbilgin/batch-orchestrator/internal/executor"
	"github.com/kursadbilgin/batch-orchestrator/internal/observability"
	"github.com/kursadbilgin/batch-orchestrator/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxConcurrentItems = 5

	maxRetryDelay        = 60 * time.Second
	baseRetryDelay       = time.Second
	maxRetryJitterMillis = 250
)

// EngineConfig tunes the execution engine. Zero values mean defaults:
// MaxConcurrentItems 5, no item timeout, no retries.
type EngineConfig struct {
	MaxConcurrentItems int
	ItemTimeout        time.Duration
	MaxRetries         int
}

// ProgressSink receives the batch progress after every settled chunk.
// Returning domain.ErrBatchTerminal stops the batch before its next chunk.
type ProgressSink func(ctx context.Context, progress domain.Progress) error

// ExecutionPlan is a validated batch ready to run.
type ExecutionPlan struct {
	BatchID    string
	JobID      string
	TemplateID string
	BatchType  domain.BatchType
	Items      []domain.Item
	Metadata   map[string]any
	// PartialStatus labels a mixed outcome; empty means domain.BatchStatusPartial.
	PartialStatus domain.BatchStatus
	OnProgress    ProgressSink
}

// ExecutionOutcome is the aggregate result of one batch. When Cancelled is
// true Status is empty and Progress covers only the chunks that ran.
type ExecutionOutcome struct {
	Status    domain.BatchStatus
	Progress  domain.Progress
	Results   []domain.ItemResult
	Cancelled bool
}

type ExecutionEngine struct {
	executor      executor.ItemExecutor
	limiter       ratelimit.RateLimiter
	maxConcurrent int
	itemTimeout   time.Duration
	maxRetries    int
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
	randIntn      func(n int) int
}

func NewExecutionEngine(
	itemExecutor executor.ItemExecutor,
	limiter ratelimit.RateLimiter,
	cfg EngineConfig,
	logger *zap.Logger,
) (*ExecutionEngine, error) {
	if itemExecutor == nil {
		return nil, fmt.Errorf("item executor is required")
	}
	if cfg.MaxConcurrentItems < 1 {
		cfg.MaxConcurrentItems = DefaultMaxConcurrentItems
	}
	if cfg.ItemTimeout < 0 {
		cfg.ItemTimeout = 0
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ExecutionEngine{
		executor:      itemExecutor,
		limiter:       limiter,
		maxConcurrent: cfg.MaxConcurrentItems,
		itemTimeout:   cfg.ItemTimeout,
		maxRetries:    cfg.MaxRetries,
		logger:        logger,
		now:           time.Now,
		sleep:         sleepWithContext,
		randIntn:      rand.Intn,
	}, nil
}

func (e *ExecutionEngine) SetMetrics(metrics *observability.Metrics) {
	if e == nil {
		return
	}
	e.metrics = metrics
}

// Run executes the plan under its batch type's dispatch policy. ctx
// cancellation stops the batch before the next chunk; items already started
// run to completion.
func (e *ExecutionEngine) Run(ctx context.Context, plan ExecutionPlan) ExecutionOutcome {
	if plan.BatchType.ProcessingMethod() == domain.ProcessingBatch {
		return e.runGrouped(ctx, plan)
	}
	return e.runIndividual(ctx, plan)
}

func (e *ExecutionEngine) runGrouped(ctx context.Context, plan ExecutionPlan) ExecutionOutcome {
	total := len(plan.Items)
	if ctx.Err() != nil {
		return ExecutionOutcome{Progress: domain.NewProgress(0, 0, total), Cancelled: true}
	}
	if total == 0 {
		return ExecutionOutcome{Status: domain.BatchStatusCompleted}
	}

	wrapped := make([]any, len(plan.Items))
	for i := range plan.Items {
		wrapped[i] = map[string]any(plan.Items[i])
	}
	unit := domain.Item{
		"id":         plan.BatchID,
		"items":      wrapped,
		"item_count": total,
	}

	result := e.runItem(context.WithoutCancel(ctx), plan, unit, plan.BatchID)

	// One execution covers every item, so the whole set succeeds or fails together.
	progress := domain.NewProgress(total, 0, total)
	status := domain.BatchStatusCompleted
	if !result.Success {
		progress = domain.NewProgress(0, total, total)
		status = domain.BatchStatusFailed
	}

	if cancelled := e.pushProgress(ctx, plan, progress); cancelled {
		return ExecutionOutcome{Progress: progress, Results: []domain.ItemResult{result}, Cancelled: true}
	}
	return ExecutionOutcome{Status: status, Progress: progress, Results: []domain.ItemResult{result}}
}

func (e *ExecutionEngine) runIndividual(ctx context.Context, plan ExecutionPlan) ExecutionOutcome {
	total := len(plan.Items)
	results := make([]domain.ItemResult, total)
	source := plan.BatchType.DataSourceType()
	itemCtx := context.WithoutCancel(ctx)
	succeeded, failed := 0, 0

	if total == 0 && ctx.Err() != nil {
		return ExecutionOutcome{Progress: domain.NewProgress(0, 0, 0), Cancelled: true}
	}

	for start := 0; start < total; start += e.maxConcurrent {
		if ctx.Err() != nil {
			return ExecutionOutcome{
				Progress:  domain.NewProgress(succeeded, failed, total),
				Results:   results[:start],
				Cancelled: true,
			}
		}

		end := min(start+e.maxConcurrent, total)
		var g errgroup.Group
		for i := start; i < end; i++ {
			item := plan.Items[i]
			itemID, ok := item.ID(source)
			if !ok {
				itemID = strconv.Itoa(i)
			}
			g.Go(func() error {
				results[i] = e.runItem(itemCtx, plan, item, itemID)
				return nil
			})
		}
		_ = g.Wait()

		for i := start; i < end; i++ {
			if results[i].Success {
				succeeded++
			} else {
				failed++
			}
		}

		progress := domain.NewProgress(succeeded, failed, total)
		if cancelled := e.pushProgress(ctx, plan, progress); cancelled {
			return ExecutionOutcome{Progress: progress, Results: results[:end], Cancelled: true}
		}
	}

	return ExecutionOutcome{
		Status:   domain.DeriveTerminalStatus(succeeded, failed, plan.PartialStatus),
		Progress: domain.NewProgress(succeeded, failed, total),
		Results:  results,
	}
}

// pushProgress reports whether the batch went terminal underneath us.
func (e *ExecutionEngine) pushProgress(ctx context.Context, plan ExecutionPlan, progress domain.Progress) bool {
	if plan.OnProgress == nil {
		return false
	}
	err := plan.OnProgress(context.WithoutCancel(ctx), progress)
	if err == nil {
		return false
	}
	if errors.Is(err, domain.ErrBatchTerminal) {
		return true
	}
	e.logger.Warn("progress update failed",
		zap.String("batchId", plan.BatchID),
		zap.Int("processed", progress.Processed),
		zap.Error(err),
	)
	return false
}

// runItem executes one unit of work and never panics or returns an error;
// every failure becomes a failed ItemResult.
func (e *ExecutionEngine) runItem(ctx context.Context, plan ExecutionPlan, item domain.Item, itemID string) (result domain.ItemResult) {
	result.ItemID = itemID
	batchType := plan.BatchType.String()

	e.metrics.IncItemsInFlight()
	start := e.now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("item execution panicked",
				zap.String("batchId", plan.BatchID),
				zap.String("itemId", itemID),
				zap.Any("panic", r),
			)
			result = domain.ItemResult{ItemID: itemID, Error: fmt.Sprintf("panic: %v", r)}
		}
		e.metrics.DecItemsInFlight()
		e.metrics.ObserveItemDuration(batchType, e.now().Sub(start))
		e.metrics.IncItemResult(result.Success)
	}()

	for attempt := 1; ; attempt++ {
		res, err := e.executeOnce(ctx, plan, item, itemID, attempt)
		if err == nil {
			result.Success = true
			if res != nil {
				result.Result = res.Output
			}
			return result
		}

		if executor.IsTransient(err) && attempt <= e.maxRetries {
			e.metrics.IncItemRetry()
			delay := e.computeRetryDelay(attempt)
			e.logger.Info("retrying item after transient failure",
				zap.String("batchId", plan.BatchID),
				zap.String("itemId", itemID),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
			if sleepErr := e.sleep(ctx, delay); sleepErr != nil {
				result.Error = err.Error()
				return result
			}
			continue
		}

		e.logger.Warn("item execution failed",
			zap.String("batchId", plan.BatchID),
			zap.String("itemId", itemID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		result.Error = err.Error()
		return result
	}
}

func (e *ExecutionEngine) executeOnce(
	ctx context.Context,
	plan ExecutionPlan,
	item domain.Item,
	itemID string,
	attempt int,
) (*executor.Result, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, rateLimitScope(plan)); err != nil {
			return nil, fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	if e.itemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.itemTimeout)
		defer cancel()
	}

	return e.executor.Execute(ctx, executor.Request{
		BatchID:    plan.BatchID,
		JobID:      plan.JobID,
		TemplateID: plan.TemplateID,
		BatchType:  plan.BatchType,
		ItemID:     itemID,
		Item:       item,
		Metadata:   plan.Metadata,
		Attempt:    attempt,
	})
}

func rateLimitScope(plan ExecutionPlan) string {
	if plan.TemplateID != "" {
		return plan.TemplateID
	}
	return plan.BatchType.String()
}

func (e *ExecutionEngine) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if e.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = e.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
