package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Limiter is a sliding-window admission counter over a shared window
// store. The read-prune-compare-append sequence for one key runs under a
// per-key in-process mutex so concurrent handlers cannot double-admit
// through the same store entry.
type Limiter struct {
	store  WindowStore
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	// now is swappable for tests.
	now func() time.Time
}

// NewLimiter creates a sliding-window limiter backed by the given store.
func NewLimiter(store WindowStore, logger *zap.Logger) *Limiter {
	return &Limiter{
		store:  store,
		logger: logger.Named("ratelimit"),
		locks:  make(map[string]*sync.Mutex),
		now:    time.Now,
	}
}

func (l *Limiter) keyLock(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	return lock
}

// Allow reports whether a request for key is admitted under limit requests
// per window. A rejection does not mutate the stored window; retryAfter is
// the time until the oldest stored entry leaves the window.
func (l *Limiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	lock := l.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	stamps, err := l.store.Get(ctx, key)
	if err != nil {
		return false, 0, err
	}

	// Drop entries older than the trailing window.
	recent := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= limit {
		retryAfter := recent[0].Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		l.logger.Warn("Rate limit exceeded",
			zap.String("key", key),
			zap.Int("limit", limit),
			zap.Duration("retry_after", retryAfter),
		)
		return false, retryAfter, nil
	}

	recent = append(recent, now)
	if err := l.store.Set(ctx, key, recent, window); err != nil {
		return false, 0, err
	}
	return true, 0, nil
}
