package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/batch-orchestrator/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerWindow int64 = 100
	defaultWindow               = time.Second
	keyPrefix                   = "batch:ratelimit"
)

// admitScript counts one execution in the window key and returns the count.
// The key expires together with its window.
var admitScript = goredis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps item executions per scope across every orchestrator
// instance using fixed windows stored in Redis.
type RedisRateLimiter struct {
	client *goredis.Client
	limit  int64
	window time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), defaultWindow, time.Now, sleepCtx)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limit int64,
	window time.Duration,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 {
		limit = defaultLimitPerWindow
	}
	if window < time.Millisecond {
		window = defaultWindow
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepCtx
	}

	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		now:    nowFn,
		sleep:  sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, scope string) (bool, error) {
	delay, err := r.reserve(ctx, scope)
	if err != nil {
		return false, err
	}
	return delay == 0, nil
}

// Wait blocks until an execution slot for scope is granted or ctx is done.
func (r *RedisRateLimiter) Wait(ctx context.Context, scope string) error {
	for {
		delay, err := r.reserve(ctx, scope)
		if err != nil {
			return err
		}
		if delay == 0 {
			return nil
		}
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// reserve tries to take a slot in the current window. It returns zero when
// the slot was granted, otherwise the time left until the window rolls over.
func (r *RedisRateLimiter) reserve(ctx context.Context, scope string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}

	key := ratelimit.NormalizeScope(scope)
	if key == "" {
		return 0, fmt.Errorf("scope is required")
	}

	windowMs := r.window.Milliseconds()
	nowMs := r.now().UnixMilli()
	slot := nowMs / windowMs

	count, err := admitScript.Run(ctx, r.client,
		[]string{fmt.Sprintf("%s:%s:%d", keyPrefix, key, slot)},
		windowMs,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit for %q: %w", key, err)
	}
	if count <= r.limit {
		return 0, nil
	}

	return time.Duration((slot+1)*windowMs-nowMs) * time.Millisecond, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
