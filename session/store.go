package session

import (
	"context"
	"time"
)

// Store is the persistence contract the engine depends on. Implementations
// must make CompareAndSwap atomic per session and must never return a record
// whose TTL has passed.
type Store interface {
	// Create persists a new record. It fails with ErrExists on id collision.
	Create(ctx context.Context, r *Record) error
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, sessionID string) (*Record, error)
	// CompareAndSwap replaces the record only if it is still active and its
	// stored round index equals expectedRound. It returns ErrRoundMismatch,
	// ErrTerminal or ErrNotFound without side effects otherwise.
	CompareAndSwap(ctx context.Context, next *Record, expectedRound uint32) error
	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, sessionID string) error
	// ActiveCount returns the number of unexpired active sessions.
	ActiveCount(ctx context.Context) (int, error)
	// Reap drops expired bookkeeping and returns how many sessions it removed.
	Reap(ctx context.Context) (int, error)
	// Ping reports backend reachability and round-trip latency.
	Ping(ctx context.Context) (time.Duration, error)
	Close() error
}

// Options are shared by every driver.
type Options struct {
	// Prefix namespaces keys in shared backends.
	Prefix string
	// TerminalGrace is how long a finished record is kept so late retries see
	// a terminal status instead of not-found.
	TerminalGrace time.Duration
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "pdx"
	}
	if o.TerminalGrace <= 0 {
		o.TerminalGrace = time.Minute
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
