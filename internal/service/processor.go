package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
	"github.com/kursadbilgin/batch-orchestrator/internal/events"
	"github.com/kursadbilgin/batch-orchestrator/internal/observability"
	"github.com/kursadbilgin/batch-orchestrator/internal/repository"
	"go.uber.org/zap"
)

const (
	metaBatchType           = "batch_type"
	metaEstimatedItems      = "estimated_items"
	metaEstimatedExecutions = "estimated_executions"
	metaPreferenceBatch     = "preference_batch"
	metaTenantUserCounts    = "tenant_user_counts"
	metaTenantResults       = "tenant_results"

	snapshotCapacity = 1024

	defaultSettleWindow = 5 * time.Second
)

// JobSource looks up configured jobs. config.JobCatalog implements it.
type JobSource interface {
	Get(jobID string) (domain.JobConfig, bool)
}

// ItemResolver turns a job's selection criteria into concrete items.
type ItemResolver interface {
	ResolveUsers(ctx context.Context, filters map[string]any) ([]domain.Item, error)
	ResolveCategories(ctx context.Context, categories []map[string]any, filters map[string]any) ([]domain.Item, error)
}

// TenantSummary is the per-tenant outcome of a preference batch.
type TenantSummary struct {
	Processed      int     `json:"processed"`
	Succeeded      int     `json:"succeeded"`
	Failed         int     `json:"failed"`
	UserCount      int     `json:"user_count"`
	SuccessRate    float64 `json:"success_rate"`
	FailureRate    float64 `json:"failure_rate"`
	CompletionRate float64 `json:"completion_rate"`
}

// TenantResults carries per-tenant summaries for preference batches. For any
// other batch Tenants is nil and Batch holds the plain status.
type TenantResults struct {
	BatchID string
	Status  domain.BatchStatus
	Tenants map[string]TenantSummary
	Batch   *domain.BatchRun
}

type runRequest struct {
	job          domain.JobConfig
	resolve      bool
	batchType    domain.BatchType
	items        []domain.Item
	metadata     map[string]any
	partialLabel domain.BatchStatus
	estimate     batchEstimate
}

// BatchProcessor owns every batch from creation to its terminal status.
type BatchProcessor struct {
	jobs      JobSource
	store     repository.BatchStore
	stats     repository.JobStatsRepository
	resolver  ItemResolver
	validator *ItemValidator
	engine    *ExecutionEngine
	publisher events.Publisher
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	newID     func() string

	baseCtx      context.Context
	stopIssuing  context.CancelFunc
	settleWindow time.Duration
	wg           sync.WaitGroup

	mu        sync.Mutex
	closing   bool
	active    map[string]context.CancelFunc
	snapshots *snapshotCache
}

func NewBatchProcessor(
	jobs JobSource,
	store repository.BatchStore,
	stats repository.JobStatsRepository,
	resolver ItemResolver,
	validator *ItemValidator,
	engine *ExecutionEngine,
	publisher events.Publisher,
	logger *zap.Logger,
) (*BatchProcessor, error) {
	if jobs == nil {
		return nil, fmt.Errorf("job source is required")
	}
	if store == nil {
		return nil, fmt.Errorf("batch store is required")
	}
	if validator == nil {
		return nil, fmt.Errorf("item validator is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("execution engine is required")
	}
	if stats == nil {
		stats = repository.NewMemoryJobStatsRepo()
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	baseCtx, stopIssuing := context.WithCancel(context.Background())
	return &BatchProcessor{
		jobs:        jobs,
		store:       store,
		stats:       stats,
		resolver:    resolver,
		validator:   validator,
		engine:      engine,
		publisher:   publisher,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
		baseCtx:      baseCtx,
		stopIssuing:  stopIssuing,
		settleWindow: defaultSettleWindow,
		active:       make(map[string]context.CancelFunc),
		snapshots:    newSnapshotCache(snapshotCapacity),
	}, nil
}

func (p *BatchProcessor) SetMetrics(metrics *observability.Metrics) {
	if p == nil {
		return
	}
	p.metrics = metrics
}

// ProcessJob starts an asynchronous run of a configured job with overrides
// merged over a copy of its config.
func (p *BatchProcessor) ProcessJob(ctx context.Context, jobID string, overrides map[string]any) (string, error) {
	job, ok := p.jobs.Get(jobID)
	if !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrConfigNotFound, jobID)
	}

	merged, err := job.WithOverrides(overrides)
	if err != nil {
		return "", err
	}
	return p.ProcessAdHocJob(ctx, merged)
}

// ProcessAdHocJob runs a job config that is not part of the catalog.
func (p *BatchProcessor) ProcessAdHocJob(ctx context.Context, job domain.JobConfig) (string, error) {
	bt := p.resolveBatchType(job)
	return p.launch(ctx, runRequest{
		job:          job,
		resolve:      true,
		batchType:    bt,
		metadata:     job.Metadata,
		partialLabel: partialLabelFor(job.Metadata),
		estimate:     estimateFor(bt, job),
	})
}

// ProcessBatch starts an asynchronous run over an explicit item list.
func (p *BatchProcessor) ProcessBatch(
	ctx context.Context,
	batchType domain.BatchType,
	items []domain.Item,
	templateID string,
	metadata map[string]any,
) (string, error) {
	if batchType.IsZero() {
		return "", fmt.Errorf("%w: batch type is required", domain.ErrInvalidBatchType)
	}

	cloned := make([]domain.Item, len(items))
	for i := range items {
		cloned[i] = items[i].Clone()
	}
	executions := len(cloned)
	if !batchType.IsIndividual() {
		executions = 1
	}

	return p.launch(ctx, runRequest{
		job:          domain.JobConfig{TemplateID: templateID},
		batchType:    batchType,
		items:        cloned,
		metadata:     metadata,
		partialLabel: partialLabelFor(metadata),
		estimate:     batchEstimate{Items: len(cloned), Executions: executions},
	})
}

// ProcessPreferenceBatch runs one preference group as an INDIVIDUAL_USERS batch
// with per-tenant attribution. Mixed outcomes end as completed_with_errors.
func (p *BatchProcessor) ProcessPreferenceBatch(ctx context.Context, schedule domain.DynamicSchedule) (string, error) {
	items := make([]domain.Item, 0, len(schedule.Subscribers))
	tenantCounts := make(map[string]any)
	for _, sub := range schedule.Subscribers {
		items = append(items, domain.Item{"id": sub.UserID, "tenant_id": sub.TenantID})
		tenantCounts[sub.TenantID] = toInt(tenantCounts[sub.TenantID]) + 1
	}

	return p.launch(ctx, runRequest{
		job: domain.JobConfig{
			JobID:      schedule.ScheduleID,
			TemplateID: schedule.FeatureType,
		},
		batchType: domain.DefaultBatchType,
		items:     items,
		metadata: map[string]any{
			metaPreferenceBatch:  true,
			"schedule_id":        schedule.ScheduleID,
			"feature_type":       schedule.FeatureType,
			"frequency":          schedule.Frequency.String(),
			"time_key":           schedule.TimeKey,
			metaTenantUserCounts: tenantCounts,
		},
		partialLabel: domain.BatchStatusCompletedWithErrors,
		estimate:     batchEstimate{Items: len(items), Executions: len(items)},
	})
}

// HandleTrigger runs a job requested over the trigger queue.
func (p *BatchProcessor) HandleTrigger(ctx context.Context, msg events.TriggerMessage) error {
	batchID, err := p.ProcessJob(ctx, msg.JobID, msg.Overrides)
	if err != nil {
		return err
	}
	p.logger.Info("triggered job from queue",
		zap.String("jobId", msg.JobID),
		zap.String("batchId", batchID),
		zap.String("requestedBy", msg.RequestedBy),
	)
	return nil
}

// GetBatchStatus returns the stored batch. When the store is unreachable the
// last snapshot seen by this process is returned instead.
func (p *BatchProcessor) GetBatchStatus(ctx context.Context, batchID string) (*domain.BatchRun, error) {
	run, err := p.store.GetByID(ctx, batchID)
	if err == nil {
		p.snapshots.put(run)
		return run, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if snapshot := p.snapshots.get(batchID); snapshot != nil {
		p.logger.Warn("batch store read failed, serving last snapshot",
			zap.String("batchId", batchID),
			zap.Error(err),
		)
		return snapshot, nil
	}
	return nil, err
}

// CancelBatch reports whether the batch was moved to cancelled. Terminal and
// unknown batches yield false.
func (p *BatchProcessor) CancelBatch(ctx context.Context, batchID string) bool {
	now := p.now().UTC()
	run, err := p.store.Update(ctx, batchID, domain.BatchPatch{
		Status:      domain.StatusPtr(domain.BatchStatusCancelled),
		CancelledAt: &now,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound),
			errors.Is(err, domain.ErrBatchTerminal),
			errors.Is(err, domain.ErrConflict):
			p.logger.Info("batch not cancellable", zap.String("batchId", batchID), zap.Error(err))
		default:
			p.logger.Error("batch store unavailable during cancel",
				zap.String("batchId", batchID),
				zap.Bool("alert", true),
				zap.Error(err),
			)
		}
		return false
	}

	p.snapshots.put(run)
	p.mu.Lock()
	if cancel, ok := p.active[batchID]; ok {
		cancel()
	}
	p.mu.Unlock()

	p.metrics.IncBatchFinished(run.BatchType.String(), string(domain.BatchStatusCancelled))
	p.publish(ctx, run)
	p.logger.Info("batch cancelled", zap.String("batchId", batchID))
	return true
}

// GetBatchResultsByTenant summarises a preference batch per tenant.
func (p *BatchProcessor) GetBatchResultsByTenant(ctx context.Context, batchID string) (*TenantResults, error) {
	run, err := p.GetBatchStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}

	results := &TenantResults{BatchID: run.ID, Status: run.Status}
	counts, ok := asMap(run.Metadata[metaTenantUserCounts])
	if !ok {
		results.Batch = run
		return results, nil
	}

	tally, _ := asMap(run.Metadata[metaTenantResults])
	results.Tenants = make(map[string]TenantSummary, len(counts))
	for tenant, rawCount := range counts {
		summary := TenantSummary{UserCount: toInt(rawCount)}
		if t, ok := asMap(tally[tenant]); ok {
			summary.Succeeded = toInt(t["succeeded"])
			summary.Failed = toInt(t["failed"])
			summary.Processed = summary.Succeeded + summary.Failed
		}
		summary.SuccessRate = rate(summary.Succeeded, summary.Processed)
		summary.FailureRate = rate(summary.Failed, summary.Processed)
		summary.CompletionRate = rate(summary.Processed, summary.UserCount)
		results.Tenants[tenant] = summary
	}
	return results, nil
}

// Shutdown stops accepting batches and waits for running ones. When ctx ends
// first, running batches stop before their next chunk and get a settle window
// to record themselves cancelled; runs still active after it are marked
// cancelled directly. ctx.Err() is returned in that case.
func (p *BatchProcessor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closing = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.stopIssuing()
		return nil
	case <-ctx.Done():
		p.stopIssuing()
		p.logger.Warn("shutdown grace period elapsed, stopping running batches", zap.Error(ctx.Err()))
	}

	timer := time.NewTimer(p.settleWindow)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		p.abandonActive()
	}
	return ctx.Err()
}

// abandonActive marks every run that is still executing as cancelled. Their
// goroutines keep running but later writes hit a terminal run and are skipped.
func (p *BatchProcessor) abandonActive() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	now := p.now().UTC()
	for _, id := range ids {
		run, err := p.store.Update(context.Background(), id, domain.BatchPatch{
			Status:      domain.StatusPtr(domain.BatchStatusCancelled),
			CancelledAt: &now,
		})
		if err != nil {
			if !halted(err) {
				p.logger.Error("failed to cancel batch at shutdown",
					zap.String("batchId", id),
					zap.Bool("alert", true),
					zap.Error(err),
				)
			}
			continue
		}

		p.snapshots.put(run)
		p.metrics.IncBatchFinished(run.BatchType.String(), string(domain.BatchStatusCancelled))
		p.publish(context.Background(), run)
		p.logger.Warn("batch cancelled at shutdown with items still in flight",
			zap.String("batchId", id),
			zap.Int("processed", run.Progress.Processed),
		)
	}
}

func (p *BatchProcessor) launch(ctx context.Context, req runRequest) (string, error) {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return "", fmt.Errorf("%w: processor is shutting down", domain.ErrSchedulerUnavailable)
	}
	p.wg.Add(1)
	p.mu.Unlock()

	now := p.now().UTC()
	metadata := domain.CloneMap(req.metadata)
	if metadata == nil {
		metadata = make(map[string]any)
	}
	metadata[metaBatchType] = req.batchType.String()
	metadata[metaEstimatedItems] = req.estimate.Items
	metadata[metaEstimatedExecutions] = req.estimate.Executions

	run := &domain.BatchRun{
		ID:         p.newID(),
		JobID:      req.job.JobID,
		BatchType:  req.batchType,
		TemplateID: req.job.TemplateID,
		Status:     domain.BatchStatusCreated,
		ItemCount:  len(req.items),
		Metadata:   metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.store.Create(ctx, run); err != nil {
		p.wg.Done()
		return "", fmt.Errorf("failed to create batch: %w", err)
	}
	p.snapshots.put(run)

	runCtx, cancel := context.WithCancel(p.baseCtx)
	runCtx = observability.WithBatchID(runCtx, run.ID)
	if run.JobID != "" {
		runCtx = observability.WithJobID(runCtx, run.JobID)
	}
	p.mu.Lock()
	p.active[run.ID] = cancel
	p.mu.Unlock()

	p.metrics.IncBatchStarted(req.batchType.String())
	p.logger.Info("batch created",
		zap.String("batchId", run.ID),
		zap.String("jobId", run.JobID),
		zap.String("batchType", req.batchType.String()),
		zap.Int("estimatedItems", req.estimate.Items),
	)

	go p.execute(runCtx, run.Clone(), req)
	return run.ID, nil
}

func (p *BatchProcessor) execute(ctx context.Context, run *domain.BatchRun, req runRequest) {
	logger := observability.WithContextLogger(p.logger, ctx)
	defer p.wg.Done()
	defer p.forget(run.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("batch execution panicked", zap.Any("panic", r))
			p.finish(ctx, run, req, domain.BatchStatusFailed, run.Progress, fmt.Sprintf("panic: %v", r), nil)
		}
	}()

	startedAt := p.now().UTC()
	if _, err := p.update(ctx, run.ID, domain.BatchPatch{
		Status:    domain.StatusPtr(domain.BatchStatusInitializing),
		StartedAt: &startedAt,
	}); halted(err) {
		return
	}

	items := req.items
	if req.resolve {
		resolved, err := p.resolveItems(ctx, req.job, req.batchType)
		if err != nil {
			logger.Error("failed to resolve batch items", zap.Error(err))
			p.finish(ctx, run, req, domain.BatchStatusFailed, domain.Progress{}, fmt.Sprintf("resolve items: %v", err), nil)
			return
		}
		items = resolved
	}
	if ctx.Err() != nil {
		p.finishCancelled(ctx, run, req, domain.Progress{}, nil)
		return
	}

	validation := p.validator.Validate(ctx, items, req.batchType.DataSourceType())
	if ctx.Err() != nil || validation.Interrupted {
		logger.Warn("batch stopped during validation", zap.Int("items", len(items)))
		p.finishCancelled(ctx, run, req, domain.Progress{}, nil)
		return
	}
	total := len(validation.Valid)
	progress := domain.NewProgress(0, 0, total)
	itemCount := len(items)
	processing, err := p.update(ctx, run.ID, domain.BatchPatch{
		Status:                 domain.StatusPtr(domain.BatchStatusProcessing),
		ItemCount:              &itemCount,
		ValidItems:             nonNil(validation.ValidIDs),
		InvalidItems:           nonNil(validation.InvalidIDs),
		ValidReferencedUsers:   nonNil(validation.ValidReferencedUsers),
		InvalidReferencedUsers: nonNil(validation.InvalidReferencedUsers),
		Progress:               &progress,
		Metadata: map[string]any{
			"valid_count":   len(validation.ValidIDs),
			"invalid_count": len(validation.InvalidIDs),
			"dropped_count": validation.Dropped,
		},
	})
	if halted(err) {
		return
	}
	if processing != nil {
		p.publish(ctx, processing)
	}
	logger.Info("batch validated",
		zap.Int("items", itemCount),
		zap.Int("valid", total),
		zap.Int("invalid", len(validation.InvalidIDs)),
		zap.Int("dropped", validation.Dropped),
	)

	if run.JobID != "" {
		if err := p.stats.RecordStart(ctx, run.JobID, run.ID, req.estimate.Items, startedAt); err != nil {
			logger.Warn("failed to record job start", zap.Error(err))
		}
	}

	outcome := p.engine.Run(ctx, ExecutionPlan{
		BatchID:       run.ID,
		JobID:         run.JobID,
		TemplateID:    run.TemplateID,
		BatchType:     req.batchType,
		Items:         validation.Valid,
		Metadata:      run.Metadata,
		PartialStatus: req.partialLabel,
		OnProgress: func(ctx context.Context, progress domain.Progress) error {
			_, err := p.update(ctx, run.ID, domain.BatchPatch{Progress: &progress})
			return err
		},
	})

	tally := tenantTally(req, validation.Valid, outcome.Results)
	if outcome.Cancelled {
		p.finishCancelled(ctx, run, req, outcome.Progress, tally)
		return
	}

	errMsg := ""
	if outcome.Status == domain.BatchStatusFailed {
		errMsg = firstError(outcome.Results)
	}
	p.finish(ctx, run, req, outcome.Status, outcome.Progress, errMsg, tally)
}

func (p *BatchProcessor) finish(
	ctx context.Context,
	run *domain.BatchRun,
	req runRequest,
	status domain.BatchStatus,
	progress domain.Progress,
	errMsg string,
	tally map[string]any,
) {
	completedAt := p.now().UTC()
	patch := domain.BatchPatch{
		Status:      domain.StatusPtr(status),
		Progress:    &progress,
		CompletedAt: &completedAt,
	}
	if errMsg != "" {
		patch.Error = &errMsg
	}
	if tally != nil {
		patch.Metadata = map[string]any{metaTenantResults: tally}
	}

	final, err := p.update(ctx, run.ID, patch)
	if run.JobID != "" {
		if statsErr := p.stats.RecordEnd(ctx, run.JobID, run.ID, status, progress, completedAt); statsErr != nil {
			p.logger.Warn("failed to record job end", zap.String("batchId", run.ID), zap.Error(statsErr))
		}
	}
	if err != nil {
		return
	}

	p.metrics.IncBatchFinished(req.batchType.String(), string(status))
	p.publish(ctx, final)
	p.logger.Info("batch finished",
		zap.String("batchId", run.ID),
		zap.String("status", string(status)),
		zap.Int("succeeded", progress.Succeeded),
		zap.Int("failed", progress.Failed),
		zap.Int("total", progress.Total),
	)
}

// finishCancelled records a run that stopped early. The status is usually
// already cancelled by CancelBatch; otherwise shutdown stopped it.
func (p *BatchProcessor) finishCancelled(
	ctx context.Context,
	run *domain.BatchRun,
	req runRequest,
	progress domain.Progress,
	tally map[string]any,
) {
	now := p.now().UTC()
	patch := domain.BatchPatch{
		Status:      domain.StatusPtr(domain.BatchStatusCancelled),
		Progress:    &progress,
		CancelledAt: &now,
	}
	if tally != nil {
		patch.Metadata = map[string]any{metaTenantResults: tally}
	}

	stopped, err := p.store.Update(context.WithoutCancel(ctx), run.ID, patch)
	if err == nil {
		p.snapshots.put(stopped)
		p.metrics.IncBatchFinished(req.batchType.String(), string(domain.BatchStatusCancelled))
		p.publish(ctx, stopped)
		p.logger.Warn("batch stopped before completion", zap.String("batchId", run.ID))
	}
	if run.JobID != "" {
		if statsErr := p.stats.RecordEnd(ctx, run.JobID, run.ID, domain.BatchStatusCancelled, progress, now); statsErr != nil {
			p.logger.Warn("failed to record job end", zap.String("batchId", run.ID), zap.Error(statsErr))
		}
	}
}

// update writes a patch and keeps the snapshot cache current. Writes to a
// terminal run are logged and skipped.
func (p *BatchProcessor) update(ctx context.Context, batchID string, patch domain.BatchPatch) (*domain.BatchRun, error) {
	run, err := p.store.Update(context.WithoutCancel(ctx), batchID, patch)
	switch {
	case err == nil:
		p.snapshots.put(run)
		return run, nil
	case errors.Is(err, domain.ErrBatchTerminal), errors.Is(err, domain.ErrConflict):
		p.logger.Warn("ignoring update to finished batch", zap.String("batchId", batchID), zap.Error(err))
	default:
		p.logger.Error("batch store update failed",
			zap.String("batchId", batchID),
			zap.Bool("alert", true),
			zap.Error(err),
		)
	}
	return nil, err
}

func (p *BatchProcessor) forget(batchID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cancel, ok := p.active[batchID]; ok {
		cancel()
		delete(p.active, batchID)
	}
}

func (p *BatchProcessor) publish(ctx context.Context, run *domain.BatchRun) {
	evt := events.BatchEvent{
		EventID:    uuid.NewString(),
		Type:       events.TypeForStatus(run.Status),
		BatchID:    run.ID,
		JobID:      run.JobID,
		BatchType:  run.BatchType.String(),
		Status:     run.Status,
		Progress:   run.Progress,
		OccurredAt: p.now().UTC(),
	}
	if err := p.publisher.Publish(context.WithoutCancel(ctx), evt); err != nil {
		p.logger.Warn("failed to publish batch event",
			zap.String("batchId", run.ID),
			zap.String("type", string(evt.Type)),
			zap.Error(err),
		)
	}
}

func (p *BatchProcessor) resolveBatchType(job domain.JobConfig) domain.BatchType {
	if job.BatchType.IsEmpty() {
		return domain.DefaultBatchType
	}
	bt, err := job.ResolveBatchType()
	if err != nil {
		p.logger.Warn("invalid batch type, falling back to default",
			zap.String("jobId", job.JobID),
			zap.String("configured", job.BatchType.String()),
			zap.String("fallback", domain.DefaultBatchType.String()),
			zap.Error(err),
		)
		return domain.DefaultBatchType
	}
	return bt
}

func (p *BatchProcessor) resolveItems(ctx context.Context, job domain.JobConfig, bt domain.BatchType) ([]domain.Item, error) {
	switch bt.DataSourceType() {
	case domain.SourceCategories:
		if p.resolver == nil {
			items := make([]domain.Item, len(job.Categories))
			for i := range job.Categories {
				items[i] = domain.Item(domain.CloneMap(job.Categories[i]))
			}
			return items, nil
		}
		return p.resolver.ResolveCategories(ctx, job.Categories, job.Filters)
	default:
		if p.resolver == nil {
			return nil, fmt.Errorf("no item resolver configured")
		}
		return p.resolver.ResolveUsers(ctx, job.Filters)
	}
}

func halted(err error) bool {
	return errors.Is(err, domain.ErrBatchTerminal) || errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrNotFound)
}

func partialLabelFor(metadata map[string]any) domain.BatchStatus {
	if v, _ := metadata[metaPreferenceBatch].(bool); v {
		return domain.BatchStatusCompletedWithErrors
	}
	return domain.BatchStatusPartial
}

func tenantTally(req runRequest, valid []domain.Item, results []domain.ItemResult) map[string]any {
	if _, ok := req.metadata[metaTenantUserCounts]; !ok {
		return nil
	}

	source := req.batchType.DataSourceType()
	tenantOf := make(map[string]string, len(valid))
	for _, item := range valid {
		if id, ok := item.ID(source); ok {
			tenantOf[id] = item.TenantID()
		}
	}

	type counts struct{ succeeded, failed int }
	perTenant := make(map[string]*counts)
	for _, res := range results {
		tenant := tenantOf[res.ItemID]
		c, ok := perTenant[tenant]
		if !ok {
			c = &counts{}
			perTenant[tenant] = c
		}
		if res.Success {
			c.succeeded++
		} else {
			c.failed++
		}
	}

	out := make(map[string]any, len(perTenant))
	for tenant, c := range perTenant {
		out[tenant] = map[string]any{
			"processed": c.succeeded + c.failed,
			"succeeded": c.succeeded,
			"failed":    c.failed,
		}
	}
	return out
}

func firstError(results []domain.ItemResult) string {
	for _, res := range results {
		if !res.Success && res.Error != "" {
			return res.Error
		}
	}
	return ""
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func rate(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*10000) / 100
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func toInt(v any) int {
	switch typed := v.(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	case json.Number:
		n, _ := typed.Int64()
		return int(n)
	}
	return 0
}

// snapshotCache keeps the most recent view of recently touched batches.
type snapshotCache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	runs     map[string]*domain.BatchRun
}

func newSnapshotCache(capacity int) *snapshotCache {
	return &snapshotCache{
		capacity: capacity,
		runs:     make(map[string]*domain.BatchRun, capacity),
	}
}

func (c *snapshotCache) put(run *domain.BatchRun) {
	if run == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.runs[run.ID]; !ok {
		c.order = append(c.order, run.ID)
		if len(c.order) > c.capacity {
			delete(c.runs, c.order[0])
			c.order = c.order[1:]
		}
	}
	c.runs[run.ID] = run.Clone()
}

func (c *snapshotCache) get(id string) *domain.BatchRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs[id].Clone()
}
