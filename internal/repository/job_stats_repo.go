package repository

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kursadbilgin/batch-orchestrator/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const jobStatsKeyPrefix = "jobstats:"

type JobStatsRepository interface {
	RecordStart(ctx context.Context, jobID, batchID string, expectedItems int, at time.Time) error
	RecordEnd(ctx context.Context, jobID, batchID string, status domain.BatchStatus, progress domain.Progress, at time.Time) error
	Get(ctx context.Context, jobID string) (*domain.JobStats, error)
}

// RedisJobStatsRepo stores one hash per job so statistics survive restarts
// and are shared across instances.
type RedisJobStatsRepo struct {
	client *goredis.Client
}

func NewRedisJobStatsRepo(client *goredis.Client) (*RedisJobStatsRepo, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisJobStatsRepo{client: client}, nil
}

func (r *RedisJobStatsRepo) RecordStart(ctx context.Context, jobID, batchID string, expectedItems int, at time.Time) error {
	key := jobStatsKeyPrefix + jobID
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "runs", 1)
		pipe.HIncrBy(ctx, key, "expected_items", int64(expectedItems))
		pipe.HSet(ctx, key,
			"last_batch_id", batchID,
			"last_status", string(domain.BatchStatusProcessing),
			"last_started_at", at.UTC().UnixNano(),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record job start: %w", err)
	}
	return nil
}

func (r *RedisJobStatsRepo) RecordEnd(
	ctx context.Context,
	jobID, batchID string,
	status domain.BatchStatus,
	progress domain.Progress,
	at time.Time,
) error {
	key := jobStatsKeyPrefix + jobID
	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HIncrBy(ctx, key, "processed", int64(progress.Processed))
		pipe.HIncrBy(ctx, key, "succeeded", int64(progress.Succeeded))
		pipe.HIncrBy(ctx, key, "failed", int64(progress.Failed))
		pipe.HSet(ctx, key,
			"last_batch_id", batchID,
			"last_status", string(status),
			"last_completed_at", at.UTC().UnixNano(),
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record job end: %w", err)
	}
	return nil
}

func (r *RedisJobStatsRepo) Get(ctx context.Context, jobID string) (*domain.JobStats, error) {
	fields, err := r.client.HGetAll(ctx, jobStatsKeyPrefix+jobID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read job stats: %w", err)
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}

	stats := &domain.JobStats{
		JobID:         jobID,
		Runs:          parseInt64(fields["runs"]),
		LastBatchID:   fields["last_batch_id"],
		LastStatus:    domain.BatchStatus(fields["last_status"]),
		ExpectedItems: parseInt64(fields["expected_items"]),
		Processed:     parseInt64(fields["processed"]),
		Succeeded:     parseInt64(fields["succeeded"]),
		Failed:        parseInt64(fields["failed"]),
	}
	stats.LastStartedAt = parseUnixNano(fields["last_started_at"])
	stats.LastCompletedAt = parseUnixNano(fields["last_completed_at"])
	return stats, nil
}

func parseInt64(raw string) int64 {
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func parseUnixNano(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	t := time.Unix(0, n).UTC()
	return &t
}

// MemoryJobStatsRepo is the process-local JobStatsRepository used when no
// Redis is configured.
type MemoryJobStatsRepo struct {
	mu    sync.Mutex
	stats map[string]*domain.JobStats
}

func NewMemoryJobStatsRepo() *MemoryJobStatsRepo {
	return &MemoryJobStatsRepo{stats: make(map[string]*domain.JobStats)}
}

func (r *MemoryJobStatsRepo) RecordStart(_ context.Context, jobID, batchID string, expectedItems int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.entry(jobID)
	startedAt := at.UTC()
	s.Runs++
	s.ExpectedItems += int64(expectedItems)
	s.LastBatchID = batchID
	s.LastStatus = domain.BatchStatusProcessing
	s.LastStartedAt = &startedAt
	return nil
}

func (r *MemoryJobStatsRepo) RecordEnd(
	_ context.Context,
	jobID, batchID string,
	status domain.BatchStatus,
	progress domain.Progress,
	at time.Time,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.entry(jobID)
	completedAt := at.UTC()
	s.Processed += int64(progress.Processed)
	s.Succeeded += int64(progress.Succeeded)
	s.Failed += int64(progress.Failed)
	s.LastBatchID = batchID
	s.LastStatus = status
	s.LastCompletedAt = &completedAt
	return nil
}

func (r *MemoryJobStatsRepo) Get(_ context.Context, jobID string) (*domain.JobStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.stats[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *s
	return &out, nil
}

func (r *MemoryJobStatsRepo) entry(jobID string) *domain.JobStats {
	s, ok := r.stats[jobID]
	if !ok {
		s = &domain.JobStats{JobID: jobID}
		r.stats[jobID] = s
	}
	return s
}
