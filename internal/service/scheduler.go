package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
	"github.com/kursadbilgin/batch-orchestrator/internal/observability"
	"github.com/kursadbilgin/batch-orchestrator/internal/repository"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	DefaultPreferencePollInterval = 60 * time.Second

	regimeStatic  = "static"
	regimeDynamic = "dynamic"
)

// TriggerEngine is the subset of *cron.Cron the scheduler drives.
type TriggerEngine interface {
	AddFunc(spec string, cmd func()) (cron.EntryID, error)
	Remove(id cron.EntryID)
	Entry(id cron.EntryID) cron.Entry
	Start()
	Stop() context.Context
}

// JobCatalog is the reloadable set of configured jobs.
type JobCatalog interface {
	List() []domain.JobConfig
	Get(jobID string) (domain.JobConfig, bool)
	Reload() (int, error)
}

// JobProcessor is what the scheduler fires on trigger.
type JobProcessor interface {
	ProcessJob(ctx context.Context, jobID string, overrides map[string]any) (string, error)
	ProcessAdHocJob(ctx context.Context, job domain.JobConfig) (string, error)
}

// PreferenceBatchCapable is implemented by processors with a dedicated
// preference-group entry point.
type PreferenceBatchCapable interface {
	ProcessPreferenceBatch(ctx context.Context, schedule domain.DynamicSchedule) (string, error)
}

type SchedulerConfig struct {
	PollInterval     time.Duration
	Timezone         string
	StrictBatchTypes bool
}

// JobInfo describes one configured job and its static trigger.
type JobInfo struct {
	JobID          string     `json:"jobId"`
	Frequency      string     `json:"frequency"`
	Time           string     `json:"time,omitempty"`
	Day            string     `json:"day,omitempty"`
	BatchType      string     `json:"batchType"`
	TemplateID     string     `json:"templateId,omitempty"`
	CronSpec       string     `json:"cronSpec,omitempty"`
	SchedulerJobID string     `json:"schedulerJobId,omitempty"`
	Registered     bool       `json:"registered"`
	NextRun        *time.Time `json:"nextRun,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// JobStatus is JobInfo plus the job's run statistics.
type JobStatus struct {
	JobInfo
	SchedulerRunning bool             `json:"schedulerRunning"`
	Stats            *domain.JobStats `json:"stats,omitempty"`
}

// RefreshResult counts what one reconciliation pass changed.
type RefreshResult struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Removed int `json:"removed"`
}

func (r *RefreshResult) add(other RefreshResult) {
	r.Added += other.Added
	r.Updated += other.Updated
	r.Removed += other.Removed
}

type staticEntry struct {
	schedulerJobID string
	entryID        cron.EntryID
	spec           string
}

type dynamicEntry struct {
	schedule domain.DynamicSchedule
	entryID  cron.EntryID
}

// BatchScheduler registers static job triggers and keeps preference-group
// triggers in sync with the preference source.
type BatchScheduler struct {
	catalog     JobCatalog
	processor   JobProcessor
	preference  PreferenceBatchCapable
	preferences repository.PreferenceRepository
	stats       repository.JobStatsRepository
	engine      TriggerEngine
	engineErr   error
	interval    time.Duration
	strict      bool
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time

	mu            sync.Mutex
	running       bool
	monitorCancel context.CancelFunc
	monitorDone   chan struct{}
	static        map[string]staticEntry
	staticErrors  map[string]string

	scheduleMu   sync.Mutex
	dynamic      map[string]*dynamicEntry
	fingerprints map[string]uint64
}

// NewBatchScheduler never fails on a bad trigger-engine setup; the scheduler is
// returned in an unavailable state where every scheduling operation reports
// domain.ErrSchedulerUnavailable.
func NewBatchScheduler(
	catalog JobCatalog,
	processor JobProcessor,
	preferences repository.PreferenceRepository,
	stats repository.JobStatsRepository,
	cfg SchedulerConfig,
	logger *zap.Logger,
) (*BatchScheduler, error) {
	if catalog == nil {
		return nil, fmt.Errorf("job catalog is required")
	}
	if processor == nil {
		return nil, fmt.Errorf("job processor is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := newBatchScheduler(catalog, processor, preferences, stats, cfg, logger)

	location, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		s.engineErr = fmt.Errorf("%w: invalid timezone %q: %v", domain.ErrSchedulerUnavailable, cfg.Timezone, err)
		logger.Error("trigger engine unavailable", zap.Error(s.engineErr))
		return s, nil
	}

	cronLogger := observability.NewCronLogger(logger)
	s.engine = cron.New(
		cron.WithLocation(location),
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger)),
	)
	return s, nil
}

func newBatchScheduler(
	catalog JobCatalog,
	processor JobProcessor,
	preferences repository.PreferenceRepository,
	stats repository.JobStatsRepository,
	cfg SchedulerConfig,
	logger *zap.Logger,
) *BatchScheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPreferencePollInterval
	}
	if stats == nil {
		stats = repository.NewMemoryJobStatsRepo()
	}

	s := &BatchScheduler{
		catalog:      catalog,
		processor:    processor,
		preferences:  preferences,
		stats:        stats,
		interval:     cfg.PollInterval,
		strict:       cfg.StrictBatchTypes,
		logger:       logger,
		now:          time.Now,
		static:       make(map[string]staticEntry),
		staticErrors: make(map[string]string),
		dynamic:      make(map[string]*dynamicEntry),
		fingerprints: make(map[string]uint64),
	}
	if capable, ok := processor.(PreferenceBatchCapable); ok {
		s.preference = capable
	}
	return s
}

func (s *BatchScheduler) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Start registers static triggers, reconciles preference schedules once, and
// starts the trigger engine and the preference monitor. Calling Start on a
// running scheduler only logs a warning.
func (s *BatchScheduler) Start(ctx context.Context) error {
	if s.engineErr != nil {
		return s.engineErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("scheduler already running")
		return nil
	}

	registered := s.registerStaticLocked()
	s.logger.Info("static jobs registered", zap.Int("registered", registered))

	if s.preferences != nil {
		if result, err := s.RefreshPreferenceSchedules(ctx); err != nil {
			s.metrics.IncPreferenceRefreshFailure()
			s.logger.Error("initial preference refresh failed", zap.Error(err))
		} else {
			s.logger.Info("preference schedules reconciled",
				zap.Int("added", result.Added),
				zap.Int("updated", result.Updated),
				zap.Int("removed", result.Removed),
			)
		}

		monitorCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.monitorCancel = cancel
		s.monitorDone = make(chan struct{})
		go s.monitor(monitorCtx, s.monitorDone)
	}

	s.engine.Start()
	s.running = true
	s.logger.Info("scheduler started", zap.Duration("pollInterval", s.interval))
	return nil
}

// Stop cancels the preference monitor and stops the trigger engine, waiting
// for running trigger callbacks until ctx ends.
func (s *BatchScheduler) Stop(ctx context.Context) error {
	if s.engineErr != nil {
		return s.engineErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.logger.Warn("scheduler not running")
		return nil
	}

	if s.monitorCancel != nil {
		s.monitorCancel()
		<-s.monitorDone
		s.monitorCancel = nil
		s.monitorDone = nil
	}

	stopped := s.engine.Stop()
	s.running = false

	select {
	case <-stopped.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out waiting for triggers", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (s *BatchScheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Reload re-reads the job catalog and re-registers static triggers. Dynamic
// schedules are left untouched.
func (s *BatchScheduler) Reload() (int, error) {
	if s.engineErr != nil {
		return 0, s.engineErr
	}

	if _, err := s.catalog.Reload(); err != nil {
		return 0, fmt.Errorf("failed to reload job catalog: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	registered := s.registerStaticLocked()
	s.logger.Info("static jobs reloaded", zap.Int("registered", registered))
	return registered, nil
}

// RunJobNow starts a job immediately, bypassing its trigger.
func (s *BatchScheduler) RunJobNow(ctx context.Context, jobID string) (string, error) {
	batchID, err := s.processor.ProcessJob(ctx, jobID, nil)
	if err != nil {
		return "", err
	}
	s.logger.Info("job run requested", zap.String("jobId", jobID), zap.String("batchId", batchID))
	return batchID, nil
}

// ListJobs describes every configured job, ordered by job id.
func (s *BatchScheduler) ListJobs() []JobInfo {
	jobs := s.catalog.List()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, s.jobInfoLocked(job))
	}
	return out
}

func (s *BatchScheduler) CheckJobStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	job, ok := s.catalog.Get(jobID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, jobID)
	}

	s.mu.Lock()
	status := &JobStatus{JobInfo: s.jobInfoLocked(job), SchedulerRunning: s.running}
	s.mu.Unlock()

	stats, err := s.stats.Get(ctx, jobID)
	switch {
	case err == nil:
		status.Stats = stats
	case errors.Is(err, domain.ErrNotFound):
	default:
		s.logger.Warn("failed to load job stats", zap.String("jobId", jobID), zap.Error(err))
	}
	return status, nil
}

// ListPreferenceSchedules returns the dynamic schedules ordered by id.
func (s *BatchScheduler) ListPreferenceSchedules() []domain.DynamicSchedule {
	s.scheduleMu.Lock()
	defer s.scheduleMu.Unlock()

	out := make([]domain.DynamicSchedule, 0, len(s.dynamic))
	for _, entry := range s.dynamic {
		sched := entry.schedule
		sched.Subscribers = nil
		out = append(out, sched)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleID < out[j].ScheduleID })
	return out
}

// RefreshPreferenceSchedules reconciles every feature type against the
// preference source. A failure on one feature type does not stop the others.
func (s *BatchScheduler) RefreshPreferenceSchedules(ctx context.Context) (RefreshResult, error) {
	return s.refresh(ctx, false)
}

func (s *BatchScheduler) refresh(ctx context.Context, onlyChanged bool) (RefreshResult, error) {
	var total RefreshResult
	if s.engineErr != nil {
		return total, s.engineErr
	}
	if s.preferences == nil {
		return total, nil
	}

	featureTypes, err := s.preferences.ListFeatureTypes(ctx)
	if err != nil {
		return total, fmt.Errorf("failed to list feature types: %w", err)
	}

	current := make(map[string]struct{}, len(featureTypes))
	var failed []error
	for _, featureType := range featureTypes {
		current[featureType] = struct{}{}

		groups, err := s.preferences.FrequencyGroups(ctx, featureType)
		if err != nil {
			s.metrics.IncPreferenceRefreshFailure()
			s.logger.Error("failed to load frequency groups",
				zap.String("featureType", featureType),
				zap.Error(err),
			)
			failed = append(failed, err)
			continue
		}

		fp := fingerprintGroups(groups)
		if onlyChanged && s.fingerprintMatches(featureType, fp) {
			continue
		}
		total.add(s.reconcile(featureType, groups))
		s.setFingerprint(featureType, fp)
	}

	for _, featureType := range s.knownFeatureTypes() {
		if _, ok := current[featureType]; ok {
			continue
		}
		total.add(s.reconcile(featureType, nil))
		s.setFingerprint(featureType, 0)
	}

	if len(failed) > 0 {
		return total, errors.Join(failed...)
	}
	return total, nil
}

// reconcile diffs one feature type's groups against the schedule table:
// existing schedules get their subscribers refreshed, new groups are
// registered and schedules whose group vanished are removed.
func (s *BatchScheduler) reconcile(featureType string, groups map[domain.FrequencyGroup][]domain.Subscriber) RefreshResult {
	var result RefreshResult

	s.scheduleMu.Lock()
	defer s.scheduleMu.Unlock()

	keys := make([]domain.FrequencyGroup, 0, len(groups))
	for group := range groups {
		keys = append(keys, group)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Frequency != keys[j].Frequency {
			return keys[i].Frequency < keys[j].Frequency
		}
		return keys[i].TimeKey < keys[j].TimeKey
	})

	seen := make(map[string]struct{}, len(keys))
	for _, group := range keys {
		subscribers := append([]domain.Subscriber(nil), groups[group]...)
		scheduleID := domain.ScheduleIDFor(featureType, group.Frequency, group.TimeKey)

		if existing, ok := s.dynamic[scheduleID]; ok {
			if existing.schedule.FeatureType != featureType {
				s.logger.Error("preference schedule id already owned by another feature type",
					zap.String("scheduleId", scheduleID),
					zap.String("featureType", featureType),
					zap.String("owner", existing.schedule.FeatureType),
					zap.Bool("alert", true),
				)
				continue
			}
			seen[scheduleID] = struct{}{}
			if existing.schedule.UserCount != len(subscribers) {
				result.Updated++
			}
			existing.schedule.UserCount = len(subscribers)
			existing.schedule.Subscribers = subscribers
			continue
		}

		spec, err := domain.ScheduleFromTimeKey(group.Frequency, group.TimeKey).CronSpec()
		if err != nil {
			s.logger.Warn("skipping preference group with invalid schedule",
				zap.String("scheduleId", scheduleID),
				zap.Error(err),
			)
			continue
		}

		entryID, err := s.engine.AddFunc(spec, s.preferenceTrigger(scheduleID))
		if err != nil {
			s.logger.Warn("failed to register preference schedule",
				zap.String("scheduleId", scheduleID),
				zap.String("cronSpec", spec),
				zap.Error(err),
			)
			continue
		}

		s.dynamic[scheduleID] = &dynamicEntry{
			schedule: domain.DynamicSchedule{
				ScheduleID:  scheduleID,
				FeatureType: featureType,
				Frequency:   group.Frequency,
				TimeKey:     group.TimeKey,
				UserCount:   len(subscribers),
				Subscribers: subscribers,
			},
			entryID: entryID,
		}
		seen[scheduleID] = struct{}{}
		result.Added++
		s.metrics.IncScheduleRegistered(regimeDynamic)
		s.logger.Info("preference schedule registered",
			zap.String("scheduleId", scheduleID),
			zap.String("cronSpec", spec),
			zap.Int("userCount", len(subscribers)),
		)
	}

	for scheduleID, entry := range s.dynamic {
		if entry.schedule.FeatureType != featureType {
			continue
		}
		if _, ok := seen[scheduleID]; ok {
			continue
		}
		s.engine.Remove(entry.entryID)
		delete(s.dynamic, scheduleID)
		result.Removed++
		s.metrics.IncScheduleRemoved()
		s.logger.Info("preference schedule removed", zap.String("scheduleId", scheduleID))
	}

	s.metrics.SetDynamicSchedules(len(s.dynamic))
	return result
}

func (s *BatchScheduler) preferenceTrigger(scheduleID string) func() {
	return func() {
		s.scheduleMu.Lock()
		entry, ok := s.dynamic[scheduleID]
		var schedule domain.DynamicSchedule
		if ok {
			schedule = entry.schedule
			schedule.Subscribers = append([]domain.Subscriber(nil), entry.schedule.Subscribers...)
		}
		s.scheduleMu.Unlock()

		if !ok {
			return
		}

		ctx := context.Background()
		var (
			batchID string
			err     error
		)
		if s.preference != nil {
			batchID, err = s.preference.ProcessPreferenceBatch(ctx, schedule)
		} else {
			batchID, err = s.processor.ProcessAdHocJob(ctx, adHocPreferenceJob(schedule))
		}
		if err != nil {
			s.logger.Error("preference batch trigger failed",
				zap.String("scheduleId", scheduleID),
				zap.Error(err),
			)
			return
		}
		s.logger.Info("preference batch triggered",
			zap.String("scheduleId", scheduleID),
			zap.String("batchId", batchID),
			zap.Int("userCount", schedule.UserCount),
		)
	}
}

// adHocPreferenceJob scopes an INDIVIDUAL_USERS job to exactly the schedule's
// subscribers.
func adHocPreferenceJob(schedule domain.DynamicSchedule) domain.JobConfig {
	userIDs := make([]any, 0, len(schedule.Subscribers))
	tenantCounts := make(map[string]any)
	for _, sub := range schedule.Subscribers {
		userIDs = append(userIDs, sub.UserID)
		tenantCounts[sub.TenantID] = toInt(tenantCounts[sub.TenantID]) + 1
	}

	return domain.JobConfig{
		JobID:      schedule.ScheduleID,
		Schedule:   domain.ScheduleFromTimeKey(schedule.Frequency, schedule.TimeKey),
		BatchType:  domain.BatchTypeConfigFrom(domain.DefaultBatchType),
		TemplateID: schedule.FeatureType,
		Filters:    map[string]any{"user_ids": userIDs},
		Metadata: map[string]any{
			metaPreferenceBatch:  true,
			"schedule_id":        schedule.ScheduleID,
			"feature_type":       schedule.FeatureType,
			"frequency":          schedule.Frequency.String(),
			"time_key":           schedule.TimeKey,
			metaTenantUserCounts: tenantCounts,
		},
	}
}

func (s *BatchScheduler) monitor(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

func (s *BatchScheduler) pollOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.IncPreferenceRefreshFailure()
			s.logger.Error("preference refresh panicked", zap.Any("panic", r))
		}
	}()

	result, err := s.refresh(ctx, true)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.metrics.IncPreferenceRefreshFailure()
		s.logger.Error("preference refresh failed", zap.Error(err))
	}
	if result.Added > 0 || result.Updated > 0 || result.Removed > 0 {
		s.logger.Info("preference schedules reconciled",
			zap.Int("added", result.Added),
			zap.Int("updated", result.Updated),
			zap.Int("removed", result.Removed),
		)
	}
}

// registerStaticLocked replaces every static trigger with one per catalog job.
// A job with a bad schedule is skipped and recorded. s.mu must be held.
func (s *BatchScheduler) registerStaticLocked() int {
	for jobID, entry := range s.static {
		s.engine.Remove(entry.entryID)
		delete(s.static, jobID)
	}
	s.staticErrors = make(map[string]string)

	registered := 0
	for _, job := range s.catalog.List() {
		if err := s.registerStaticJobLocked(job); err != nil {
			s.staticErrors[job.JobID] = err.Error()
			s.logger.Warn("skipping job with invalid configuration",
				zap.String("jobId", job.JobID),
				zap.Error(err),
			)
			continue
		}
		registered++
	}
	return registered
}

func (s *BatchScheduler) registerStaticJobLocked(job domain.JobConfig) error {
	if s.strict && !job.BatchType.IsEmpty() {
		if _, err := job.ResolveBatchType(); err != nil {
			return &domain.ConfigError{JobID: job.JobID, Field: "batch_type", Reason: err.Error()}
		}
	}

	spec, err := job.Schedule.CronSpec()
	if err != nil {
		return &domain.ConfigError{JobID: job.JobID, Field: "schedule", Reason: err.Error()}
	}

	jobID := job.JobID
	schedulerJobID := "batch_job_" + jobID + "_" + strconv.FormatInt(s.now().UnixNano(), 10)
	entryID, err := s.engine.AddFunc(spec, func() {
		batchID, err := s.processor.ProcessJob(context.Background(), jobID, nil)
		if err != nil {
			s.logger.Error("scheduled job failed to start",
				zap.String("jobId", jobID),
				zap.String("schedulerJobId", schedulerJobID),
				zap.Error(err),
			)
			return
		}
		s.logger.Info("scheduled job started",
			zap.String("jobId", jobID),
			zap.String("schedulerJobId", schedulerJobID),
			zap.String("batchId", batchID),
		)
	})
	if err != nil {
		return &domain.ConfigError{JobID: job.JobID, Field: "schedule", Reason: err.Error()}
	}

	s.static[jobID] = staticEntry{schedulerJobID: schedulerJobID, entryID: entryID, spec: spec}
	s.metrics.IncScheduleRegistered(regimeStatic)
	s.logger.Info("job scheduled",
		zap.String("jobId", jobID),
		zap.String("schedulerJobId", schedulerJobID),
		zap.String("cronSpec", spec),
	)
	return nil
}

func (s *BatchScheduler) jobInfoLocked(job domain.JobConfig) JobInfo {
	info := JobInfo{
		JobID:      job.JobID,
		Frequency:  job.Schedule.Frequency,
		Time:       job.Schedule.Time,
		Day:        job.Schedule.Day,
		BatchType:  job.BatchType.String(),
		TemplateID: job.TemplateID,
		Error:      s.staticErrors[job.JobID],
	}
	if job.BatchType.IsEmpty() {
		info.BatchType = domain.DefaultBatchType.String()
	}

	entry, ok := s.static[job.JobID]
	if !ok {
		return info
	}
	info.Registered = true
	info.CronSpec = entry.spec
	info.SchedulerJobID = entry.schedulerJobID
	if s.engine != nil {
		if next := s.engine.Entry(entry.entryID).Next; !next.IsZero() {
			info.NextRun = &next
		}
	}
	return info
}

func (s *BatchScheduler) knownFeatureTypes() []string {
	s.scheduleMu.Lock()
	defer s.scheduleMu.Unlock()

	set := make(map[string]struct{})
	for _, entry := range s.dynamic {
		set[entry.schedule.FeatureType] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for featureType := range set {
		out = append(out, featureType)
	}
	sort.Strings(out)
	return out
}

func (s *BatchScheduler) fingerprintMatches(featureType string, fp uint64) bool {
	s.scheduleMu.Lock()
	defer s.scheduleMu.Unlock()
	prev, ok := s.fingerprints[featureType]
	return ok && prev == fp
}

func (s *BatchScheduler) setFingerprint(featureType string, fp uint64) {
	s.scheduleMu.Lock()
	defer s.scheduleMu.Unlock()
	if fp == 0 {
		delete(s.fingerprints, featureType)
		return
	}
	s.fingerprints[featureType] = fp
}

// fingerprintGroups hashes the groups in a canonical order so an unchanged
// upstream yields the same value.
func fingerprintGroups(groups map[domain.FrequencyGroup][]domain.Subscriber) uint64 {
	keys := make([]domain.FrequencyGroup, 0, len(groups))
	for group := range groups {
		keys = append(keys, group)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Frequency != keys[j].Frequency {
			return keys[i].Frequency < keys[j].Frequency
		}
		return keys[i].TimeKey < keys[j].TimeKey
	})

	d := xxhash.New()
	for _, group := range keys {
		_, _ = d.WriteString(group.Frequency.String())
		_, _ = d.WriteString("|")
		_, _ = d.WriteString(group.TimeKey)
		_, _ = d.WriteString("|")

		subs := append([]domain.Subscriber(nil), groups[group]...)
		sort.Slice(subs, func(i, j int) bool {
			if subs[i].UserID != subs[j].UserID {
				return subs[i].UserID < subs[j].UserID
			}
			return subs[i].TenantID < subs[j].TenantID
		})
		for _, sub := range subs {
			_, _ = d.WriteString(sub.UserID)
			_, _ = d.WriteString(":")
			_, _ = d.WriteString(sub.TenantID)
			_, _ = d.WriteString(",")
		}
		_, _ = d.WriteString(";")
	}
	return d.Sum64()
}
