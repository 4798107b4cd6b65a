package service

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kursadbilgin/batch-orchestrator/internal/config"
	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
	"github.com/kursadbilgin/batch-orchestrator/internal/observability"
	"github.com/kursadbilgin/batch-orchestrator/internal/repository"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakePreferenceRepo struct {
	listFn   func(ctx context.Context) ([]string, error)
	groupsFn func(ctx context.Context, featureType string) (map[domain.FrequencyGroup][]domain.Subscriber, error)
}

func (f *fakePreferenceRepo) ListFeatureTypes(ctx context.Context) ([]string, error) {
	if f.listFn != nil {
		return f.listFn(ctx)
	}
	return nil, nil
}

func (f *fakePreferenceRepo) FrequencyGroups(ctx context.Context, featureType string) (map[domain.FrequencyGroup][]domain.Subscriber, error) {
	if f.groupsFn != nil {
		return f.groupsFn(ctx, featureType)
	}
	return nil, nil
}

func newTestScheduler(
	t *testing.T,
	catalog JobCatalog,
	processor JobProcessor,
	preferences repository.PreferenceRepository,
	cfg SchedulerConfig,
	logger *zap.Logger,
) (*BatchScheduler, *fakeTriggerEngine) {
	t.Helper()
	if logger == nil {
		logger = zap.NewNop()
	}
	engine := newFakeTriggerEngine()
	s := newBatchScheduler(catalog, processor, preferences, nil, cfg, logger)
	s.engine = engine
	s.SetMetrics(observability.NewMetrics())
	return s, engine
}

func (f *fakeTriggerEngine) cmdFor(id cron.EntryID) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[id].cmd
}

func dynamicEntryID(t *testing.T, s *BatchScheduler, scheduleID string) cron.EntryID {
	t.Helper()
	s.scheduleMu.Lock()
	defer s.scheduleMu.Unlock()
	entry, ok := s.dynamic[scheduleID]
	if !ok {
		t.Fatalf("schedule %s not registered", scheduleID)
	}
	return entry.entryID
}

func TestSchedulerRegistersStaticJobs(t *testing.T) {
	t.Parallel()

	catalog := config.NewStaticJobCatalog(
		domain.JobConfig{JobID: "hourly-sync", Schedule: domain.Schedule{Frequency: "hourly"}},
		domain.JobConfig{JobID: "daily-digest", Schedule: domain.Schedule{Frequency: "daily", Time: "09:00"}},
		domain.JobConfig{JobID: "weekly-report", Schedule: domain.Schedule{Frequency: "weekly", Time: "06:30", Day: "friday"}},
		domain.JobConfig{JobID: "monthly-close", Schedule: domain.Schedule{Frequency: "monthly", Time: "23:15", Day: "28"}},
		domain.JobConfig{JobID: "biweekly-payroll", Schedule: domain.Schedule{Frequency: "biweekly", Time: "08:00"}},
		domain.JobConfig{JobID: "broken", Schedule: domain.Schedule{Frequency: "fortnightly"}},
	)
	core, logs := observer.New(zap.WarnLevel)
	s, engine := newTestScheduler(t, catalog, &fakeJobProcessor{}, nil, SchedulerConfig{}, zap.New(core))

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	want := []string{"0 * * * *", "0 8 1,15 * *", "0 9 * * *", "15 23 28 * *", "30 6 * * 5"}
	if got := engine.specs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("specs = %v, want %v", got, want)
	}
	if logs.FilterMessage("skipping job with invalid configuration").Len() != 1 {
		t.Fatal("expected one skipped job warning")
	}

	jobs := s.ListJobs()
	if len(jobs) != 6 {
		t.Fatalf("ListJobs() len = %d, want 6", len(jobs))
	}
	for _, info := range jobs {
		if info.JobID == "broken" {
			if info.Registered || info.Error == "" {
				t.Fatalf("broken job info = %+v", info)
			}
			continue
		}
		if !info.Registered || info.NextRun == nil {
			t.Fatalf("job info = %+v, want registered with next run", info)
		}
		if !strings.HasPrefix(info.SchedulerJobID, "batch_job_"+info.JobID+"_") {
			t.Fatalf("SchedulerJobID = %s", info.SchedulerJobID)
		}
		if info.BatchType != domain.DefaultBatchType.String() {
			t.Fatalf("BatchType = %s, want default", info.BatchType)
		}
	}
}

func TestSchedulerStaticTriggerRunsJob(t *testing.T) {
	t.Parallel()

	catalog := config.NewStaticJobCatalog(
		domain.JobConfig{JobID: "daily-digest", Schedule: domain.Schedule{Frequency: "daily", Time: "09:00"}},
	)
	processor := &fakeJobProcessor{}
	s, engine := newTestScheduler(t, catalog, processor, nil, SchedulerConfig{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	if !engine.fire(s.static["daily-digest"].entryID) {
		t.Fatal("static trigger not registered")
	}
	if !reflect.DeepEqual(processor.jobCalls, []string{"daily-digest"}) {
		t.Fatalf("jobCalls = %v", processor.jobCalls)
	}
}

func TestSchedulerStrictBatchTypes(t *testing.T) {
	t.Parallel()

	jobs := []domain.JobConfig{
		{
			JobID:     "bad-type",
			Schedule:  domain.Schedule{Frequency: "daily", Time: "09:00"},
			BatchType: domain.BatchTypeConfig{ProcessingMethod: "SOMETIMES", DataSourceType: "USERS"},
		},
		{
			JobID:    "no-type",
			Schedule: domain.Schedule{Frequency: "daily", Time: "10:00"},
		},
	}

	tests := []struct {
		name   string
		strict bool
		want   int
	}{
		{name: "permissive registers both", strict: false, want: 2},
		{name: "strict rejects malformed type", strict: true, want: 1},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, engine := newTestScheduler(t, config.NewStaticJobCatalog(jobs...), &fakeJobProcessor{}, nil,
				SchedulerConfig{StrictBatchTypes: tt.strict}, nil)
			if err := s.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			t.Cleanup(func() { _ = s.Stop(context.Background()) })

			if engine.count() != tt.want {
				t.Fatalf("registered = %d, want %d", engine.count(), tt.want)
			}
		})
	}
}

func TestSchedulerReconcileIsIdempotent(t *testing.T) {
	t.Parallel()

	prefs := repository.NewMemoryPreferenceRepo()
	prefs.Set("digest", map[domain.FrequencyGroup][]domain.Subscriber{
		{Frequency: domain.FrequencyDaily, TimeKey: "09:00"}:         subscribers("acme", 3),
		{Frequency: domain.FrequencyWeekly, TimeKey: "monday@08:00"}: subscribers("globex", 2),
		{Frequency: domain.FrequencyMonthly, TimeKey: "15@07:30"}:    subscribers("acme", 1),
	})
	prefs.Set("alerts", map[domain.FrequencyGroup][]domain.Subscriber{
		{Frequency: domain.FrequencyHourly, TimeKey: ""}: subscribers("initech", 4),
	})

	s, engine := newTestScheduler(t, config.NewStaticJobCatalog(), &fakePreferenceProcessor{}, prefs, SchedulerConfig{}, nil)

	first, err := s.RefreshPreferenceSchedules(context.Background())
	if err != nil {
		t.Fatalf("first refresh error = %v", err)
	}
	if first != (RefreshResult{Added: 4}) {
		t.Fatalf("first refresh = %+v, want 4 added", first)
	}

	second, err := s.RefreshPreferenceSchedules(context.Background())
	if err != nil {
		t.Fatalf("second refresh error = %v", err)
	}
	if second != (RefreshResult{}) {
		t.Fatalf("second refresh = %+v, want no changes", second)
	}
	if engine.count() != 4 {
		t.Fatalf("engine entries = %d, want 4", engine.count())
	}

	want := []string{"0 * * * *", "0 8 * * 1", "0 9 * * *", "30 7 15 * *"}
	if got := engine.specs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("specs = %v, want %v", got, want)
	}

	schedules := s.ListPreferenceSchedules()
	if len(schedules) != 4 {
		t.Fatalf("ListPreferenceSchedules() len = %d", len(schedules))
	}
	for _, sched := range schedules {
		if sched.ScheduleID != domain.ScheduleIDFor(sched.FeatureType, sched.Frequency, sched.TimeKey) {
			t.Fatalf("schedule id %s not derived from its group", sched.ScheduleID)
		}
		if sched.Subscribers != nil {
			t.Fatal("listed schedules must not expose subscribers")
		}
	}
}

func TestSchedulerReconcileUpdatesSubscriberCounts(t *testing.T) {
	t.Parallel()

	group := domain.FrequencyGroup{Frequency: domain.FrequencyDaily, TimeKey: "09:00"}
	prefs := repository.NewMemoryPreferenceRepo()
	prefs.Set("digest", map[domain.FrequencyGroup][]domain.Subscriber{group: subscribers("acme", 2)})

	processor := &fakePreferenceProcessor{}
	s, engine := newTestScheduler(t, config.NewStaticJobCatalog(), processor, prefs, SchedulerConfig{}, nil)
	if _, err := s.RefreshPreferenceSchedules(context.Background()); err != nil {
		t.Fatalf("refresh error = %v", err)
	}

	prefs.Set("digest", map[domain.FrequencyGroup][]domain.Subscriber{group: subscribers("acme", 5)})
	result, err := s.RefreshPreferenceSchedules(context.Background())
	if err != nil {
		t.Fatalf("refresh error = %v", err)
	}
	if result != (RefreshResult{Updated: 1}) {
		t.Fatalf("refresh = %+v, want 1 updated", result)
	}

	scheduleID := domain.ScheduleIDFor("digest", domain.FrequencyDaily, "09:00")
	engine.fire(dynamicEntryID(t, s, scheduleID))

	if len(processor.preferenceCalls) != 1 {
		t.Fatalf("preference calls = %d, want 1", len(processor.preferenceCalls))
	}
	call := processor.preferenceCalls[0]
	if call.UserCount != 5 || len(call.Subscribers) != 5 {
		t.Fatalf("fired schedule = %+v, want refreshed subscribers", call)
	}
}

func TestSchedulerKeepsFeatureTypesWithSimilarNamesApart(t *testing.T) {
	t.Parallel()

	group := domain.FrequencyGroup{Frequency: domain.FrequencyDaily, TimeKey: "09:00"}
	prefs := repository.NewMemoryPreferenceRepo()
	prefs.Set("email.digest", map[domain.FrequencyGroup][]domain.Subscriber{group: subscribers("acme", 3)})
	prefs.Set("email_digest", map[domain.FrequencyGroup][]domain.Subscriber{group: subscribers("globex", 7)})

	processor := &fakePreferenceProcessor{}
	s, engine := newTestScheduler(t, config.NewStaticJobCatalog(), processor, prefs, SchedulerConfig{}, nil)

	result, err := s.RefreshPreferenceSchedules(context.Background())
	if err != nil {
		t.Fatalf("refresh error = %v", err)
	}
	if result != (RefreshResult{Added: 2}) {
		t.Fatalf("refresh = %+v, want 2 added", result)
	}
	if engine.count() != 2 {
		t.Fatalf("engine entries = %d, want 2", engine.count())
	}

	counts := map[string]int{}
	for _, sched := range s.ListPreferenceSchedules() {
		counts[sched.FeatureType] = sched.UserCount
	}
	want := map[string]int{"email.digest": 3, "email_digest": 7}
	if !reflect.DeepEqual(counts, want) {
		t.Fatalf("user counts = %v, want %v", counts, want)
	}

	engine.fire(dynamicEntryID(t, s, domain.ScheduleIDFor("email.digest", domain.FrequencyDaily, "09:00")))
	if len(processor.preferenceCalls) != 1 {
		t.Fatalf("preference calls = %d, want 1", len(processor.preferenceCalls))
	}
	if call := processor.preferenceCalls[0]; call.FeatureType != "email.digest" || len(call.Subscribers) != 3 {
		t.Fatalf("fired schedule = %+v, want email.digest with 3 subscribers", call)
	}
}

func TestSchedulerReconcileRefusesScheduleOwnedByAnotherFeatureType(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.ErrorLevel)
	group := domain.FrequencyGroup{Frequency: domain.FrequencyDaily, TimeKey: "09:00"}
	s, _ := newTestScheduler(t, config.NewStaticJobCatalog(), &fakePreferenceProcessor{}, repository.NewMemoryPreferenceRepo(), SchedulerConfig{}, zap.New(core))

	scheduleID := domain.ScheduleIDFor("beta", group.Frequency, group.TimeKey)
	s.scheduleMu.Lock()
	s.dynamic[scheduleID] = &dynamicEntry{
		schedule: domain.DynamicSchedule{
			ScheduleID:  scheduleID,
			FeatureType: "alpha",
			Frequency:   group.Frequency,
			TimeKey:     group.TimeKey,
			UserCount:   3,
			Subscribers: subscribers("acme", 3),
		},
	}
	s.scheduleMu.Unlock()

	result := s.reconcile("beta", map[domain.FrequencyGroup][]domain.Subscriber{group: subscribers("globex", 7)})
	if result != (RefreshResult{}) {
		t.Fatalf("reconcile = %+v, want no changes", result)
	}

	s.scheduleMu.Lock()
	owned := s.dynamic[scheduleID].schedule
	s.scheduleMu.Unlock()
	if owned.FeatureType != "alpha" || owned.UserCount != 3 {
		t.Fatalf("schedule = %+v, want alpha entry untouched", owned)
	}
	if logs.FilterMessage("preference schedule id already owned by another feature type").Len() != 1 {
		t.Fatal("expected conflict to be logged")
	}
}

func TestSchedulerRemovedGroupNeverFires(t *testing.T) {
	t.Parallel()

	group := domain.FrequencyGroup{Frequency: domain.FrequencyDaily, TimeKey: "09:00"}
	prefs := repository.NewMemoryPreferenceRepo()
	prefs.Set("digest", map[domain.FrequencyGroup][]domain.Subscriber{group: subscribers("acme", 10)})

	processor := &fakePreferenceProcessor{}
	s, engine := newTestScheduler(t, config.NewStaticJobCatalog(), processor, prefs, SchedulerConfig{}, nil)
	if _, err := s.RefreshPreferenceSchedules(context.Background()); err != nil {
		t.Fatalf("refresh error = %v", err)
	}

	scheduleID := domain.ScheduleIDFor("digest", domain.FrequencyDaily, "09:00")
	entryID := dynamicEntryID(t, s, scheduleID)
	staleCmd := engine.cmdFor(entryID)

	prefs.Set("digest", map[domain.FrequencyGroup][]domain.Subscriber{
		{Frequency: domain.FrequencyDaily, TimeKey: "18:00"}: subscribers("acme", 1),
	})
	result, err := s.RefreshPreferenceSchedules(context.Background())
	if err != nil {
		t.Fatalf("refresh error = %v", err)
	}
	if result != (RefreshResult{Added: 1, Removed: 1}) {
		t.Fatalf("refresh = %+v, want 1 added 1 removed", result)
	}
	if engine.fire(entryID) {
		t.Fatal("removed schedule is still registered with the engine")
	}

	staleCmd()
	if len(processor.preferenceCalls) != 0 {
		t.Fatalf("preference calls = %d, want 0 for a removed schedule", len(processor.preferenceCalls))
	}
}

func TestSchedulerFeatureTypeVanishes(t *testing.T) {
	t.Parallel()

	prefs := repository.NewMemoryPreferenceRepo()
	prefs.Set("digest", map[domain.FrequencyGroup][]domain.Subscriber{
		{Frequency: domain.FrequencyDaily, TimeKey: "09:00"}: subscribers("acme", 2),
		{Frequency: domain.FrequencyDaily, TimeKey: "18:00"}: subscribers("acme", 1),
	})
	prefs.Set("alerts", map[domain.FrequencyGroup][]domain.Subscriber{
		{Frequency: domain.FrequencyHourly}: subscribers("acme", 1),
	})

	s, engine := newTestScheduler(t, config.NewStaticJobCatalog(), &fakePreferenceProcessor{}, prefs, SchedulerConfig{}, nil)
	if _, err := s.RefreshPreferenceSchedules(context.Background()); err != nil {
		t.Fatalf("refresh error = %v", err)
	}

	prefs.Set("digest", nil)
	result, err := s.RefreshPreferenceSchedules(context.Background())
	if err != nil {
		t.Fatalf("refresh error = %v", err)
	}
	if result != (RefreshResult{Removed: 2}) {
		t.Fatalf("refresh = %+v, want 2 removed", result)
	}
	if engine.count() != 1 {
		t.Fatalf("engine entries = %d, want 1", engine.count())
	}
}

func TestSchedulerOneFeatureTypeFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	prefs := &fakePreferenceRepo{
		listFn: func(ctx context.Context) ([]string, error) {
			return []string{"alerts", "digest"}, nil
		},
		groupsFn: func(ctx context.Context, featureType string) (map[domain.FrequencyGroup][]domain.Subscriber, error) {
			if featureType == "alerts" {
				return nil, errors.New("query timeout")
			}
			return map[domain.FrequencyGroup][]domain.Subscriber{
				{Frequency: domain.FrequencyDaily, TimeKey: "09:00"}: subscribers("acme", 1),
			}, nil
		},
	}

	s, _ := newTestScheduler(t, config.NewStaticJobCatalog(), &fakePreferenceProcessor{}, prefs, SchedulerConfig{}, nil)
	result, err := s.RefreshPreferenceSchedules(context.Background())
	if err == nil {
		t.Fatal("expected joined error for the failing feature type")
	}
	if result.Added != 1 {
		t.Fatalf("Added = %d, want 1", result.Added)
	}
}

func TestSchedulerFallsBackToAdHocJob(t *testing.T) {
	t.Parallel()

	prefs := repository.NewMemoryPreferenceRepo()
	prefs.Set("digest", map[domain.FrequencyGroup][]domain.Subscriber{
		{Frequency: domain.FrequencyWeekly, TimeKey: "friday@17:00"}: append(subscribers("acme", 2), subscribers("globex", 1)...),
	})

	processor := &fakeJobProcessor{}
	s, engine := newTestScheduler(t, config.NewStaticJobCatalog(), processor, prefs, SchedulerConfig{}, nil)
	if _, err := s.RefreshPreferenceSchedules(context.Background()); err != nil {
		t.Fatalf("refresh error = %v", err)
	}

	scheduleID := domain.ScheduleIDFor("digest", domain.FrequencyWeekly, "friday@17:00")
	engine.fire(dynamicEntryID(t, s, scheduleID))

	if len(processor.adHocCalls) != 1 {
		t.Fatalf("ad hoc calls = %d, want 1", len(processor.adHocCalls))
	}
	job := processor.adHocCalls[0]
	if job.JobID != scheduleID || job.TemplateID != "digest" {
		t.Fatalf("job = %+v", job)
	}
	if ids, _ := job.Filters["user_ids"].([]any); len(ids) != 3 {
		t.Fatalf("user_ids = %v, want 3 ids", job.Filters["user_ids"])
	}
	counts, _ := job.Metadata[metaTenantUserCounts].(map[string]any)
	if toInt(counts["acme"]) != 2 || toInt(counts["globex"]) != 1 {
		t.Fatalf("tenant counts = %v", counts)
	}
	if job.Metadata[metaPreferenceBatch] != true {
		t.Fatal("ad hoc preference job must be flagged as a preference batch")
	}
}

func TestSchedulerUnavailable(t *testing.T) {
	t.Parallel()

	s, err := NewBatchScheduler(config.NewStaticJobCatalog(), &fakeJobProcessor{}, nil, nil,
		SchedulerConfig{Timezone: "Mars/Olympus_Mons"}, nil)
	if err != nil {
		t.Fatalf("NewBatchScheduler() error = %v", err)
	}

	if err := s.Start(context.Background()); !errors.Is(err, domain.ErrSchedulerUnavailable) {
		t.Fatalf("Start() error = %v, want ErrSchedulerUnavailable", err)
	}
	if err := s.Stop(context.Background()); !errors.Is(err, domain.ErrSchedulerUnavailable) {
		t.Fatalf("Stop() error = %v, want ErrSchedulerUnavailable", err)
	}
	if _, err := s.Reload(); !errors.Is(err, domain.ErrSchedulerUnavailable) {
		t.Fatalf("Reload() error = %v, want ErrSchedulerUnavailable", err)
	}
	if _, err := s.RefreshPreferenceSchedules(context.Background()); !errors.Is(err, domain.ErrSchedulerUnavailable) {
		t.Fatalf("RefreshPreferenceSchedules() error = %v, want ErrSchedulerUnavailable", err)
	}
	if s.Running() {
		t.Fatal("unavailable scheduler reports running")
	}
}

func TestNewBatchSchedulerUsesCron(t *testing.T) {
	t.Parallel()

	s, err := NewBatchScheduler(config.NewStaticJobCatalog(
		domain.JobConfig{JobID: "daily-digest", Schedule: domain.Schedule{Frequency: "daily", Time: "09:00"}},
	), &fakeJobProcessor{}, nil, nil, SchedulerConfig{Timezone: "Europe/Istanbul"}, nil)
	if err != nil {
		t.Fatalf("NewBatchScheduler() error = %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() { _ = s.Stop(context.Background()) }()

	jobs := s.ListJobs()
	if len(jobs) != 1 || jobs[0].NextRun == nil {
		t.Fatalf("jobs = %+v, want next run from cron", jobs)
	}
	if jobs[0].NextRun.Location().String() != "Europe/Istanbul" {
		t.Fatalf("next run location = %s", jobs[0].NextRun.Location())
	}
}

func TestSchedulerStartStopIdempotent(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	s, engine := newTestScheduler(t, config.NewStaticJobCatalog(), &fakeJobProcessor{}, repository.NewMemoryPreferenceRepo(),
		SchedulerConfig{PollInterval: time.Hour}, zap.New(core))

	for i := 0; i < 2; i++ {
		if err := s.Start(context.Background()); err != nil {
			t.Fatalf("Start() #%d error = %v", i+1, err)
		}
	}
	if !s.Running() || engine.started != 1 {
		t.Fatalf("running = %v, started = %d", s.Running(), engine.started)
	}

	for i := 0; i < 2; i++ {
		if err := s.Stop(context.Background()); err != nil {
			t.Fatalf("Stop() #%d error = %v", i+1, err)
		}
	}
	if s.Running() || engine.stopped != 1 {
		t.Fatalf("running = %v, stopped = %d", s.Running(), engine.stopped)
	}
	if logs.FilterMessage("scheduler already running").Len() != 1 || logs.FilterMessage("scheduler not running").Len() != 1 {
		t.Fatal("expected idempotency warnings")
	}
}

type reloadingCatalog struct {
	*config.JobCatalog
	next    []domain.JobConfig
	reloads int
}

func (c *reloadingCatalog) Reload() (int, error) {
	c.reloads++
	c.Replace(c.next)
	return len(c.next), nil
}

func TestSchedulerReloadReplacesStaticTriggers(t *testing.T) {
	t.Parallel()

	catalog := &reloadingCatalog{
		JobCatalog: config.NewStaticJobCatalog(
			domain.JobConfig{JobID: "daily-digest", Schedule: domain.Schedule{Frequency: "daily", Time: "09:00"}},
		),
		next: []domain.JobConfig{
			{JobID: "daily-digest", Schedule: domain.Schedule{Frequency: "daily", Time: "10:00"}},
			{JobID: "hourly-sync", Schedule: domain.Schedule{Frequency: "hourly"}},
		},
	}
	s, engine := newTestScheduler(t, catalog, &fakeJobProcessor{}, nil, SchedulerConfig{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	registered, err := s.Reload()
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if registered != 2 || catalog.reloads != 1 {
		t.Fatalf("registered = %d, reloads = %d", registered, catalog.reloads)
	}
	want := []string{"0 * * * *", "0 10 * * *"}
	if got := engine.specs(); !reflect.DeepEqual(got, want) {
		t.Fatalf("specs = %v, want %v", got, want)
	}
}

func TestSchedulerCheckJobStatus(t *testing.T) {
	t.Parallel()

	catalog := config.NewStaticJobCatalog(
		domain.JobConfig{JobID: "daily-digest", Schedule: domain.Schedule{Frequency: "daily", Time: "09:00"}, TemplateID: "digest-v1"},
	)
	stats := repository.NewMemoryJobStatsRepo()
	s := newBatchScheduler(catalog, &fakeJobProcessor{}, nil, stats, SchedulerConfig{}, zap.NewNop())
	s.engine = newFakeTriggerEngine()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	status, err := s.CheckJobStatus(context.Background(), "daily-digest")
	if err != nil {
		t.Fatalf("CheckJobStatus() error = %v", err)
	}
	if status.Stats != nil || !status.SchedulerRunning || !status.Registered {
		t.Fatalf("status = %+v, want running and no stats yet", status)
	}

	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	_ = stats.RecordStart(context.Background(), "daily-digest", "b-1", 3, at)
	_ = stats.RecordEnd(context.Background(), "daily-digest", "b-1", domain.BatchStatusCompleted,
		domain.NewProgress(3, 0, 3), at.Add(time.Minute))

	status, err = s.CheckJobStatus(context.Background(), "daily-digest")
	if err != nil {
		t.Fatalf("CheckJobStatus() error = %v", err)
	}
	if status.Stats == nil || status.Stats.Runs != 1 || status.Stats.LastBatchID != "b-1" {
		t.Fatalf("stats = %+v", status.Stats)
	}

	if _, err := s.CheckJobStatus(context.Background(), "missing"); !errors.Is(err, domain.ErrConfigNotFound) {
		t.Fatalf("CheckJobStatus() error = %v, want ErrConfigNotFound", err)
	}
}

func TestSchedulerRunJobNow(t *testing.T) {
	t.Parallel()

	processor := &fakeJobProcessor{
		processJobFn: func(ctx context.Context, jobID string, overrides map[string]any) (string, error) {
			if jobID == "missing" {
				return "", domain.ErrConfigNotFound
			}
			return "batch-1", nil
		},
	}
	s, _ := newTestScheduler(t, config.NewStaticJobCatalog(), processor, nil, SchedulerConfig{}, nil)

	batchID, err := s.RunJobNow(context.Background(), "daily-digest")
	if err != nil || batchID != "batch-1" {
		t.Fatalf("RunJobNow() = %q, %v", batchID, err)
	}
	if _, err := s.RunJobNow(context.Background(), "missing"); !errors.Is(err, domain.ErrConfigNotFound) {
		t.Fatalf("RunJobNow() error = %v, want ErrConfigNotFound", err)
	}
}

func TestSchedulerJobWithoutFrequencyStillRunsOnDemand(t *testing.T) {
	t.Parallel()

	jobs, rejected, err := config.ParseJobs([]byte(`{"batch_processing_jobs": [
		{"job_id": "daily-digest", "schedule": {"frequency": "daily", "time": "09:00"}},
		{"job_id": "manual-only", "schedule": {"time": "09:00"}}
	]}`))
	if err != nil || len(rejected) != 0 {
		t.Fatalf("ParseJobs() = %v, rejected %v", err, rejected)
	}
	catalog := config.NewStaticJobCatalog(jobs...)

	processor := &fakeJobProcessor{
		processJobFn: func(ctx context.Context, jobID string, overrides map[string]any) (string, error) {
			if _, ok := catalog.Get(jobID); !ok {
				return "", domain.ErrConfigNotFound
			}
			return "batch-" + jobID, nil
		},
	}
	s, engine := newTestScheduler(t, catalog, processor, nil, SchedulerConfig{}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	if engine.count() != 1 {
		t.Fatalf("engine entries = %d, want 1", engine.count())
	}

	status, err := s.CheckJobStatus(context.Background(), "manual-only")
	if err != nil {
		t.Fatalf("CheckJobStatus() error = %v", err)
	}
	if status.Registered || !strings.Contains(status.Error, "schedule") {
		t.Fatalf("status = %+v, want unregistered with schedule error", status.JobInfo)
	}

	batchID, err := s.RunJobNow(context.Background(), "manual-only")
	if err != nil || batchID != "batch-manual-only" {
		t.Fatalf("RunJobNow() = %q, %v", batchID, err)
	}
}

func TestSchedulerMonitorSurvivesFailures(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	prefs := &fakePreferenceRepo{
		listFn: func(ctx context.Context) ([]string, error) {
			switch polls.Add(1) {
			case 1:
				return nil, errors.New("connection refused")
			case 2:
				panic("driver bug")
			}
			return []string{"digest"}, nil
		},
		groupsFn: func(ctx context.Context, featureType string) (map[domain.FrequencyGroup][]domain.Subscriber, error) {
			return map[domain.FrequencyGroup][]domain.Subscriber{
				{Frequency: domain.FrequencyDaily, TimeKey: "09:00"}: subscribers("acme", 1),
			}, nil
		},
	}

	core, logs := observer.New(zap.ErrorLevel)
	s, engine := newTestScheduler(t, config.NewStaticJobCatalog(), &fakePreferenceProcessor{}, prefs,
		SchedulerConfig{PollInterval: 5 * time.Millisecond}, zap.New(core))

	// The initial refresh in Start consumes the first failure.
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Stop(context.Background()) })

	deadline := time.Now().Add(5 * time.Second)
	for engine.count() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("monitor never recovered, polls = %d", polls.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if logs.FilterMessage("initial preference refresh failed").Len() != 1 {
		t.Fatal("expected initial refresh failure to be logged")
	}
	if logs.FilterMessage("preference refresh panicked").Len() != 1 {
		t.Fatal("expected the panicking poll to be recovered and logged")
	}
}

func TestFingerprintGroupsIgnoresOrder(t *testing.T) {
	t.Parallel()

	group := domain.FrequencyGroup{Frequency: domain.FrequencyDaily, TimeKey: "09:00"}
	a := map[domain.FrequencyGroup][]domain.Subscriber{
		group: {{UserID: "u1", TenantID: "t"}, {UserID: "u2", TenantID: "t"}},
	}
	b := map[domain.FrequencyGroup][]domain.Subscriber{
		group: {{UserID: "u2", TenantID: "t"}, {UserID: "u1", TenantID: "t"}},
	}
	c := map[domain.FrequencyGroup][]domain.Subscriber{
		group: {{UserID: "u1", TenantID: "t"}},
	}

	if fingerprintGroups(a) != fingerprintGroups(b) {
		t.Fatal("fingerprint depends on subscriber order")
	}
	if fingerprintGroups(a) == fingerprintGroups(c) {
		t.Fatal("fingerprint ignores membership change")
	}
}
