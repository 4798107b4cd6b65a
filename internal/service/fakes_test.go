package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
	"github.com/kursadbilgin/batch-orchestrator/internal/events"
	"github.com/kursadbilgin/batch-orchestrator/internal/executor"
	"github.com/robfig/cron/v3"
)

type fakeExecutor struct {
	executeFn func(ctx context.Context, req executor.Request) (*executor.Result, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, req executor.Request) (*executor.Result, error) {
	if f.executeFn != nil {
		return f.executeFn(ctx, req)
	}
	return &executor.Result{StatusCode: 200}, nil
}

type fakeChecker struct {
	existsFn func(ctx context.Context, kind domain.DataSourceType, id string) (bool, error)
}

func (f *fakeChecker) Exists(ctx context.Context, kind domain.DataSourceType, id string) (bool, error) {
	if f.existsFn != nil {
		return f.existsFn(ctx, kind, id)
	}
	return true, nil
}

type fakeResolver struct {
	resolveUsersFn      func(ctx context.Context, filters map[string]any) ([]domain.Item, error)
	resolveCategoriesFn func(ctx context.Context, categories []map[string]any, filters map[string]any) ([]domain.Item, error)
}

func (f *fakeResolver) ResolveUsers(ctx context.Context, filters map[string]any) ([]domain.Item, error) {
	if f.resolveUsersFn != nil {
		return f.resolveUsersFn(ctx, filters)
	}
	return nil, nil
}

func (f *fakeResolver) ResolveCategories(ctx context.Context, categories []map[string]any, filters map[string]any) ([]domain.Item, error) {
	if f.resolveCategoriesFn != nil {
		return f.resolveCategoriesFn(ctx, categories, filters)
	}
	items := make([]domain.Item, len(categories))
	for i := range categories {
		items[i] = domain.Item(categories[i])
	}
	return items, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.BatchEvent
}

func (f *fakePublisher) Publish(_ context.Context, evt events.BatchEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, evt)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) types() []events.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.EventType, len(f.events))
	for i := range f.events {
		out[i] = f.events[i].Type
	}
	return out
}

func (f *fakePublisher) hasType(want events.EventType) bool {
	for _, got := range f.types() {
		if got == want {
			return true
		}
	}
	return false
}

type fakeLimiter struct {
	waitFn func(ctx context.Context, scope string) error
}

func (f *fakeLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (f *fakeLimiter) Wait(ctx context.Context, scope string) error {
	if f.waitFn != nil {
		return f.waitFn(ctx, scope)
	}
	return nil
}

type fakeEntry struct {
	spec string
	cmd  func()
}

type fakeTriggerEngine struct {
	mu      sync.Mutex
	nextID  cron.EntryID
	entries map[cron.EntryID]fakeEntry
	started int
	stopped int
}

func newFakeTriggerEngine() *fakeTriggerEngine {
	return &fakeTriggerEngine{entries: make(map[cron.EntryID]fakeEntry)}
}

func (f *fakeTriggerEngine) AddFunc(spec string, cmd func()) (cron.EntryID, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.entries[f.nextID] = fakeEntry{spec: spec, cmd: cmd}
	return f.nextID, nil
}

func (f *fakeTriggerEngine) Remove(id cron.EntryID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, id)
}

func (f *fakeTriggerEngine) Entry(id cron.EntryID) cron.Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[id]; !ok {
		return cron.Entry{}
	}
	return cron.Entry{ID: id, Next: time.Date(2030, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (f *fakeTriggerEngine) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
}

func (f *fakeTriggerEngine) Stop() context.Context {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

func (f *fakeTriggerEngine) specs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.spec)
	}
	sort.Strings(out)
	return out
}

func (f *fakeTriggerEngine) fire(id cron.EntryID) bool {
	f.mu.Lock()
	entry, ok := f.entries[id]
	f.mu.Unlock()
	if !ok {
		return false
	}
	entry.cmd()
	return true
}

func (f *fakeTriggerEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

type fakeJobProcessor struct {
	mu             sync.Mutex
	processJobFn   func(ctx context.Context, jobID string, overrides map[string]any) (string, error)
	processAdHocFn func(ctx context.Context, job domain.JobConfig) (string, error)
	jobCalls       []string
	adHocCalls     []domain.JobConfig
}

func (f *fakeJobProcessor) ProcessJob(ctx context.Context, jobID string, overrides map[string]any) (string, error) {
	f.mu.Lock()
	f.jobCalls = append(f.jobCalls, jobID)
	f.mu.Unlock()
	if f.processJobFn != nil {
		return f.processJobFn(ctx, jobID, overrides)
	}
	return "batch-" + jobID, nil
}

func (f *fakeJobProcessor) ProcessAdHocJob(ctx context.Context, job domain.JobConfig) (string, error) {
	f.mu.Lock()
	f.adHocCalls = append(f.adHocCalls, job)
	f.mu.Unlock()
	if f.processAdHocFn != nil {
		return f.processAdHocFn(ctx, job)
	}
	return "batch-" + job.JobID, nil
}

type fakePreferenceProcessor struct {
	fakeJobProcessor
	preferenceCalls []domain.DynamicSchedule
}

func (f *fakePreferenceProcessor) ProcessPreferenceBatch(_ context.Context, schedule domain.DynamicSchedule) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.preferenceCalls = append(f.preferenceCalls, schedule)
	return "batch-" + schedule.ScheduleID, nil
}

func users(ids ...string) []domain.Item {
	items := make([]domain.Item, len(ids))
	for i, id := range ids {
		items[i] = domain.Item{"id": id, "tenant_id": "tenant-a"}
	}
	return items
}

func mustParseBatchType(t *testing.T, s string) domain.BatchType {
	t.Helper()
	bt, err := domain.ParseBatchType(s)
	if err != nil {
		t.Fatalf("ParseBatchType(%q) error = %v", s, err)
	}
	return bt
}

func subscribers(tenant string, n int) []domain.Subscriber {
	out := make([]domain.Subscriber, n)
	for i := range out {
		out[i] = domain.Subscriber{UserID: fmt.Sprintf("%s-u%d", tenant, i+1), TenantID: tenant}
	}
	return out
}
