package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter throttles item executions per scope. A scope is usually the
// template the items are executed against.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}

const defaultBurst = 10

var _ RateLimiter = (*LocalRateLimiter)(nil)

// LocalRateLimiter is a process-local token bucket per scope.
type LocalRateLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewLocalRateLimiter(limitPerSec, burst int) *LocalRateLimiter {
	if limitPerSec <= 0 {
		limitPerSec = 100
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &LocalRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(limitPerSec),
		burst:    burst,
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, scope string) (bool, error) {
	limiter, err := l.limiterFor(scope)
	if err != nil {
		return false, err
	}
	return limiter.Allow(), nil
}

func (l *LocalRateLimiter) Wait(ctx context.Context, scope string) error {
	limiter, err := l.limiterFor(scope)
	if err != nil {
		return err
	}
	return limiter.Wait(ctx)
}

func (l *LocalRateLimiter) limiterFor(scope string) (*rate.Limiter, error) {
	key := NormalizeScope(scope)
	if key == "" {
		return nil, fmt.Errorf("scope is required")
	}

	l.mu.RLock()
	limiter, ok := l.limiters[key]
	l.mu.RUnlock()
	if ok {
		return limiter, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[key]; ok {
		return limiter, nil
	}
	limiter = rate.NewLimiter(l.limit, l.burst)
	l.limiters[key] = limiter
	return limiter, nil
}

func NormalizeScope(scope string) string {
	return strings.ToLower(strings.TrimSpace(scope))
}
