package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/MrEthical07/paradox/internal/rate"
	"github.com/gin-gonic/gin"
)

// Limiter admits or refuses one request. *rate.RedisLimiter and
// *rate.LocalLimiter implement it.
type Limiter interface {
	Allow(ctx context.Context, scope, client string) error
}

// Reporter records refusals. *paradox.Engine implements it.
type Reporter interface {
	ReportRateLimited(ctx context.Context, scope string)
}

// GuardConfig wires [RateGuard].
type GuardConfig struct {
	Limiter  Limiter
	Reporter Reporter
	Logger   *slog.Logger
	// RetryAfter is advertised on 429 responses, in seconds.
	RetryAfter int
}

// RateGuard returns middleware enforcing the client's budget for scope. A
// limiter backend failure is logged and the request is let through.
func RateGuard(cfg GuardConfig, scope string) gin.HandlerFunc {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	retryAfter := cfg.RetryAfter
	if retryAfter <= 0 {
		retryAfter = 60
	}

	return func(c *gin.Context) {
		if cfg.Limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		err := cfg.Limiter.Allow(ctx, scope, c.ClientIP())
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, rate.ErrRateLimited):
			if cfg.Reporter != nil {
				cfg.Reporter.ReportRateLimited(ctx, scope)
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
		default:
			logger.WarnContext(ctx, "rate limiter unavailable, admitting request",
				"scope", scope, "error", err, "request_id", RequestID(c))
			c.Next()
		}
	}
}
