package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucketKey struct {
	scope  string
	client string
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// LocalLimiter is an in-process token bucket per scope and client. Each
// bucket refills at budget per window and bursts up to the full budget.
type LocalLimiter struct {
	config Config
	now    func() time.Time

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
}

// NewLocal creates a [LocalLimiter]. A nil now uses time.Now.
func NewLocal(cfg Config, now func() time.Time) *LocalLimiter {
	if now == nil {
		now = time.Now
	}
	return &LocalLimiter{
		config:  cfg,
		now:     now,
		buckets: make(map[bucketKey]*bucket),
	}
}

// Allow implements [Limiter].
func (l *LocalLimiter) Allow(_ context.Context, scope string, client string) error {
	limit := l.config.budget(scope)
	if limit <= 0 {
		return nil
	}

	now := l.now()
	k := bucketKey{scope: scope, client: client}

	l.mu.Lock()
	b, ok := l.buckets[k]
	if !ok {
		every := l.config.window() / time.Duration(limit)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(every), limit)}
		l.buckets[k] = b
	}
	b.lastSeen = now
	allowed := b.limiter.AllowN(now, 1)
	l.mu.Unlock()

	if !allowed {
		return ErrRateLimited
	}
	return nil
}

// Prune drops buckets idle for longer than idle and returns how many it
// removed. A bucket idle for a full window has refilled, so dropping it does
// not change any decision.
func (l *LocalLimiter) Prune(idle time.Duration) int {
	if idle < l.config.window() {
		idle = l.config.window()
	}
	cutoff := l.now().Add(-idle)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked buckets.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
