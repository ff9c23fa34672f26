package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a mutex-guarded sliding-window counter. Windows are
// lazily reset on the first call after they elapse. Suitable for a
// single instance; use the Redis limiter when running more than one.
type MemoryLimiter struct {
	mu      sync.Mutex
	limit   int
	limits  map[string]int // per-operation overrides
	window  time.Duration
	entries map[string]*windowEntry

	now func() time.Time // overridable for tests
}

type windowEntry struct {
	count int
	reset time.Time
}

// NewMemoryLimiter creates a limiter admitting limit calls per window.
func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:   limit,
		limits:  make(map[string]int),
		window:  window,
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// SetOperationLimit overrides the admitted call count for one operation.
func (l *MemoryLimiter) SetOperationLimit(operation string, limit int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[operation] = limit
}

func (l *MemoryLimiter) Allow(_ context.Context, principalID, operation string) (bool, time.Duration, error) {
	key := limiterKey(principalID, operation)
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	limit := l.limit
	if override, ok := l.limits[operation]; ok {
		limit = override
	}

	e, ok := l.entries[key]
	if !ok || now.After(e.reset) {
		l.entries[key] = &windowEntry{count: 1, reset: now.Add(l.window)}
		return true, 0, nil
	}

	if e.count >= limit {
		return false, e.reset.Sub(now), nil
	}
	e.count++
	return true, 0, nil
}

// SetClock replaces the limiter's time source. Test hook.
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}
