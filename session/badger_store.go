package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig selects where the embedded database lives.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path       string
	InMemory   bool
	SyncWrites bool
	// Logger receives badger's internal logs. Nil silences them.
	Logger *slog.Logger
}

// maxConflictRetries bounds optimistic transaction retries in CompareAndSwap.
const maxConflictRetries = 8

// BadgerStore persists sessions in an embedded badger database. Keys carry a
// native TTL; CompareAndSwap runs inside a read-write transaction so a
// concurrent writer surfaces as badger.ErrConflict and is retried.
type BadgerStore struct {
	db   *badger.DB
	opts Options
}

// OpenBadgerStore opens or creates the database described by cfg.
func OpenBadgerStore(cfg BadgerConfig, opts Options) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required for persistent store")
	}

	var bopts badger.Options
	if cfg.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		bopts = badger.DefaultOptions(cfg.Path)
	}
	bopts = bopts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger: %v", ErrUnavailable, err)
	}
	return &BadgerStore{db: db, opts: opts.withDefaults()}, nil
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (s *BadgerStore) key(sessionID string) []byte {
	return []byte(s.opts.Prefix + ":s:" + sessionID)
}

func (s *BadgerStore) prefix() []byte {
	return []byte(s.opts.Prefix + ":s:")
}

func (s *BadgerStore) entry(r *Record, now time.Time) (*badger.Entry, error) {
	data, err := Encode(r)
	if err != nil {
		return nil, err
	}
	ttl := retention(r, now, s.opts.TerminalGrace)
	if ttl <= 0 {
		return nil, ErrNotFound
	}
	return badger.NewEntry(s.key(r.SessionID), data).WithTTL(ttl), nil
}

// load reads and decodes a record inside txn, applying lazy expiry.
func (s *BadgerStore) load(txn *badger.Txn, sessionID string, now time.Time) (*Record, error) {
	item, err := txn.Get(s.key(sessionID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var r *Record
	err = item.Value(func(val []byte) error {
		decoded, err := Decode(val)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		r = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.SessionID = sessionID

	if r.Status == StatusActive && r.Expired(now) {
		return nil, ErrNotFound
	}
	return r, nil
}

func (s *BadgerStore) Create(_ context.Context, r *Record) error {
	now := s.opts.Now()
	e, err := s.entry(r, now)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := s.load(txn, r.SessionID, now); err == nil {
			return ErrExists
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		return txn.SetEntry(e)
	})
	return s.wrap(err)
}

func (s *BadgerStore) Get(_ context.Context, sessionID string) (*Record, error) {
	var r *Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = s.load(txn, sessionID, s.opts.Now())
		return err
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	return r, nil
}

func (s *BadgerStore) CompareAndSwap(ctx context.Context, next *Record, expectedRound uint32) error {
	if err := validateTransition(next, expectedRound); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		now := s.opts.Now()
		err := s.db.Update(func(txn *badger.Txn) error {
			current, err := s.load(txn, next.SessionID, now)
			if err != nil {
				return err
			}
			if current.Status.Terminal() {
				return ErrTerminal
			}
			if current.RoundIndex != expectedRound {
				return ErrRoundMismatch
			}
			e, err := s.entry(next, now)
			if err != nil {
				return err
			}
			return txn.SetEntry(e)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
			continue
		}
		return s.wrap(err)
	}
}

func (s *BadgerStore) Delete(_ context.Context, sessionID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(sessionID))
	})
	return s.wrap(err)
}

// scan visits every unexpired record.
func (s *BadgerStore) scan(fn func(key []byte, r *Record) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := s.prefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			var r *Record
			if err := item.Value(func(val []byte) error {
				decoded, err := Decode(val)
				if err != nil {
					return nil
				}
				r = decoded
				return nil
			}); err != nil {
				return err
			}
			if err := fn(key, r); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) ActiveCount(_ context.Context) (int, error) {
	now := s.opts.Now()
	n := 0
	err := s.scan(func(_ []byte, r *Record) error {
		if r != nil && r.Status == StatusActive && !r.Expired(now) {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, s.wrap(err)
	}
	return n, nil
}

// Reap deletes active records whose session TTL passed before badger evicted
// them, and undecodable blobs.
func (s *BadgerStore) Reap(_ context.Context) (int, error) {
	now := s.opts.Now()
	var stale [][]byte
	err := s.scan(func(key []byte, r *Record) error {
		if r == nil || (r.Status == StatusActive && r.Expired(now)) {
			stale = append(stale, key)
		}
		return nil
	})
	if err != nil {
		return 0, s.wrap(err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			wb.Cancel()
			return 0, s.wrap(err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, s.wrap(err)
	}
	return len(stale), nil
}

func (s *BadgerStore) Ping(_ context.Context) (time.Duration, error) {
	start := time.Now()
	if s.db.IsClosed() {
		return 0, fmt.Errorf("%w: badger closed", ErrUnavailable)
	}
	err := s.db.View(func(txn *badger.Txn) error { return nil })
	if err != nil {
		return 0, s.wrap(err)
	}
	return time.Since(start), nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) wrap(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrNotFound, ErrExists, ErrRoundMismatch, ErrTerminal, ErrCorrupt, ErrUnavailable} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
