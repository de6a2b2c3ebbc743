package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/paradox/internal"
	"github.com/redis/go-redis/v9"
)

// Scopes name the rate-limited operations.
const (
	ScopeSession = "session"
	ScopeRespond = "respond"
)

// Config holds per-scope budgets.
type Config struct {
	SessionPerMinute int
	RespondPerMinute int
	// Window defaults to one minute.
	Window time.Duration
	// Prefix namespaces Redis keys.
	Prefix string
}

func (c Config) window() time.Duration {
	if c.Window <= 0 {
		return time.Minute
	}
	return c.Window
}

func (c Config) budget(scope string) int {
	switch scope {
	case ScopeSession:
		return c.SessionPerMinute
	case ScopeRespond:
		return c.RespondPerMinute
	default:
		return 0
	}
}

// Limiter admits or refuses one request for client within scope. It returns
// [ErrRateLimited] when the budget is spent. A budget of zero disables
// limiting for that scope.
type Limiter interface {
	Allow(ctx context.Context, scope string, client string) error
}

// RedisLimiter keeps fixed-window counters in Redis so every node shares one
// budget per client.
type RedisLimiter struct {
	redis  redis.UniversalClient
	config Config
}

// NewRedis creates a [RedisLimiter] backed by the given client.
func NewRedis(redisClient redis.UniversalClient, cfg Config) *RedisLimiter {
	return &RedisLimiter{
		redis:  redisClient,
		config: cfg,
	}
}

// Allow implements [Limiter].
func (l *RedisLimiter) Allow(ctx context.Context, scope string, client string) error {
	limit := l.config.budget(scope)
	if limit <= 0 {
		return nil
	}

	count, err := l.incrementWithTTL(ctx, l.key(scope, client), l.config.window())
	if err != nil {
		return err
	}
	if count > int64(limit) {
		return ErrRateLimited
	}
	return nil
}

// Count returns the hits recorded for client in the current window.
func (l *RedisLimiter) Count(ctx context.Context, scope string, client string) (int64, error) {
	n, err := l.redis.Get(ctx, l.key(scope, client)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

func (l *RedisLimiter) key(scope string, client string) string {
	prefix := l.config.Prefix
	if prefix == "" {
		prefix = "pdx"
	}
	return prefix + ":rl:" + scope + ":" + internal.HashClientKey(client)
}

func (l *RedisLimiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
