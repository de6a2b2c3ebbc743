// Package reaper runs the periodic expiry sweep for session stores that do not
// expire records on their own.
package reaper

import (
	"context"
	"log/slog"
	"time"
)

// Target is swept on every tick. *paradox.Engine satisfies it.
type Target interface {
	Reap(ctx context.Context) (int, error)
}

// Pruner drops idle bookkeeping, such as local rate-limit buckets.
type Pruner interface {
	Prune(idle time.Duration) int
}

// Config controls the sweep cadence.
type Config struct {
	Interval time.Duration
	// Timeout bounds a single sweep. Zero uses Interval.
	Timeout time.Duration
	// PruneIdle is passed to every Pruner.
	PruneIdle time.Duration
}

// Reaper sweeps a Target on a fixed interval until its context ends.
type Reaper struct {
	target  Target
	pruners []Pruner
	config  Config
	logger  *slog.Logger
}

func New(target Target, cfg Config, logger *slog.Logger, pruners ...Pruner) *Reaper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = cfg.Interval
	}
	return &Reaper{
		target:  target,
		pruners: pruners,
		config:  cfg,
		logger:  logger,
	}
}

// Run blocks until ctx is done. A non-positive interval returns immediately.
func (r *Reaper) Run(ctx context.Context) error {
	if r.config.Interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of sessions removed. Errors are
// logged; the next tick retries.
func (r *Reaper) Sweep(ctx context.Context) int {
	sweepCtx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	n, err := r.target.Reap(sweepCtx)
	if err != nil {
		r.logger.WarnContext(ctx, "session sweep failed", "error", err)
	} else if n > 0 {
		r.logger.InfoContext(ctx, "expired sessions removed", "count", n)
	}

	for _, p := range r.pruners {
		if pruned := p.Prune(r.config.PruneIdle); pruned > 0 {
			r.logger.DebugContext(ctx, "idle entries pruned", "count", pruned)
		}
	}
	return n
}
