package paradox

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/MrEthical07/paradox/behavior"
	"github.com/MrEthical07/paradox/challenge"
	internalaudit "github.com/MrEthical07/paradox/internal/audit"
	"github.com/MrEthical07/paradox/session"
	"github.com/MrEthical07/paradox/token"
	"github.com/MrEthical07/paradox/verdict"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Engine runs challenge-escalation sessions.
//
// Engine instances are intended to be configured during initialization and then treated as immutable.
type Engine struct {
	config     Config
	store      session.Store
	ownsStore  bool
	codec      *token.Codec
	verdict    *verdict.Engine
	normalizer behavior.Normalizer
	generator  challenge.Generator
	checker    challenge.AnswerChecker
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	logger     *slog.Logger
	tracer     trace.Tracer
	clock      func() time.Time
	health     singleflight.Group
}

func (e *Engine) now() time.Time {
	return e.clock()
}

// Config returns a copy of the frozen configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Close stops the audit dispatcher after draining it and closes the session
// store when the engine created it.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.ownsStore && e.store != nil {
		_ = e.store.Close()
	}
}

// AuditDropped returns the number of audit events lost to backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// AuditStats reports the audit dispatcher's queue depth and delivery
// counters. It is zero when audit is disabled.
func (e *Engine) AuditStats() AuditStats {
	if e == nil || e.audit == nil {
		return AuditStats{}
	}
	return e.audit.Stats()
}

// MetricsSnapshot returns current counters and histograms.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// healthTimeout bounds the shared store check. It runs detached from the
// first caller's context so one cancelled request cannot fail every caller
// sharing the flight.
const healthTimeout = 2 * time.Second

// Health pings the store and counts active sessions. Concurrent callers share
// one store check.
func (e *Engine) Health(ctx context.Context) Health {
	if e == nil || e.store == nil {
		return Health{}
	}

	v, _, _ := e.health.Do("health", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), healthTimeout)
		defer cancel()

		latency, err := e.store.Ping(ctx)
		if err != nil {
			e.logger.WarnContext(ctx, "session store ping failed", "error", err)
			return Health{StoreLatency: latency}, nil
		}
		n, err := e.store.ActiveCount(ctx)
		if err != nil {
			e.logger.WarnContext(ctx, "session store count failed", "error", err)
			return Health{StoreLatency: latency}, nil
		}
		return Health{OK: true, ActiveSessions: n, StoreLatency: latency}, nil
	})
	h, _ := v.(Health)
	return h
}

// Reap sweeps expired sessions out of the store and returns how many it removed.
func (e *Engine) Reap(ctx context.Context) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}

	n, err := e.store.Reap(ctx)
	if err != nil {
		e.metricInc(MetricStoreUnavailable)
		e.logger.ErrorContext(ctx, "session reap failed", "error", err)
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if n == 0 {
		return 0, nil
	}

	e.metrics.Add(MetricSessionsReaped, uint64(n))
	e.logger.DebugContext(ctx, "reaped expired sessions", "count", n)
	e.emitAudit(ctx, auditRecord{
		eventType: auditEventSessionsReaped,
		success:   true,
		metadata: func() map[string]string {
			return map[string]string{"count": strconv.Itoa(n)}
		},
	})
	return n, nil
}
