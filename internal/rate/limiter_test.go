package rate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedis(rdb, Config{SessionPerMinute: 3, RespondPerMinute: 10})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Allow(ctx, ScopeSession, "203.0.113.1"); err != nil {
			t.Fatalf("hit %d: unexpected error %v", i, err)
		}
	}
	if err := l.Allow(ctx, ScopeSession, "203.0.113.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// other clients and scopes have their own budget
	if err := l.Allow(ctx, ScopeSession, "203.0.113.2"); err != nil {
		t.Fatalf("other client limited: %v", err)
	}
	if err := l.Allow(ctx, ScopeRespond, "203.0.113.1"); err != nil {
		t.Fatalf("other scope limited: %v", err)
	}

	mr.FastForward(time.Minute + time.Second)
	if err := l.Allow(ctx, ScopeSession, "203.0.113.1"); err != nil {
		t.Fatalf("expected new window to admit, got %v", err)
	}
}

func TestRedisLimiterHashesClientKey(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedis(rdb, Config{SessionPerMinute: 1, Prefix: "test"})

	if err := l.Allow(context.Background(), ScopeSession, "198.51.100.7"); err != nil {
		t.Fatalf("Allow failed: %v", err)
	}

	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one key, got %v", keys)
	}
	if !strings.HasPrefix(keys[0], "test:rl:session:") {
		t.Fatalf("unexpected key layout %q", keys[0])
	}
	if strings.Contains(keys[0], "198.51.100.7") {
		t.Fatal("raw client address stored in key")
	}
	if ttl := mr.TTL(keys[0]); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected window ttl, got %s", ttl)
	}

	n, err := l.Count(context.Background(), ScopeSession, "198.51.100.7")
	if err != nil || n != 1 {
		t.Fatalf("Count = %d, %v", n, err)
	}
}

func TestRedisLimiterZeroBudgetDisables(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedis(rdb, Config{})

	for i := 0; i < 50; i++ {
		if err := l.Allow(context.Background(), ScopeRespond, "c"); err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if len(mr.Keys()) != 0 {
		t.Fatal("disabled scope must not touch redis")
	}
}

func TestRedisLimiterUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedis(rdb, Config{RespondPerMinute: 5})
	mr.Close()

	err := l.Allow(context.Background(), ScopeRespond, "c")
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestRedisLimiterConcurrentHitsShareBudget(t *testing.T) {
	_, rdb := newTestRedis(t)
	const limit = 20
	l := NewRedis(rdb, Config{RespondPerMinute: limit})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Allow(context.Background(), ScopeRespond, "c"); err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Fatalf("expected %d admitted, got %d", limit, allowed)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestLocalLimiterBurstAndRefill(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := NewLocal(Config{SessionPerMinute: 6}, clock.Now)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if err := l.Allow(ctx, ScopeSession, "a"); err != nil {
			t.Fatalf("hit %d: %v", i, err)
		}
	}
	if err := l.Allow(ctx, ScopeSession, "a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.Allow(ctx, ScopeSession, "b"); err != nil {
		t.Fatalf("independent client limited: %v", err)
	}

	// one token every 10s
	clock.Advance(10 * time.Second)
	if err := l.Allow(ctx, ScopeSession, "a"); err != nil {
		t.Fatalf("expected refill, got %v", err)
	}
	if err := l.Allow(ctx, ScopeSession, "a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after single refill, got %v", err)
	}
}

func TestLocalLimiterPrune(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := NewLocal(Config{RespondPerMinute: 2}, clock.Now)

	_ = l.Allow(context.Background(), ScopeRespond, "a")
	clock.Advance(30 * time.Second)
	_ = l.Allow(context.Background(), ScopeRespond, "b")
	clock.Advance(45 * time.Second)

	if n := l.Prune(time.Minute); n != 1 {
		t.Fatalf("expected 1 pruned bucket, got %d", n)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 remaining bucket, got %d", l.Len())
	}
}

func TestLimiterImplementations(t *testing.T) {
	var _ Limiter = (*RedisLimiter)(nil)
	var _ Limiter = (*LocalLimiter)(nil)
}
