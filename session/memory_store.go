package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	record   *Record
	deadline time.Time
}

// MemoryStore keeps sessions in process memory. It is intended for single
// instance deployments, tests and as the fallback when no Redis is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	opts     Options
}

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]memoryEntry),
		opts:     opts.withDefaults(),
	}
}

func (s *MemoryStore) entryFor(r *Record, now time.Time) memoryEntry {
	return memoryEntry{record: r.Clone(), deadline: now.Add(retention(r, now, s.opts.TerminalGrace))}
}

func (s *MemoryStore) Create(_ context.Context, r *Record) error {
	now := s.opts.Now()
	if _, err := Encode(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.sessions[r.SessionID]; ok && now.Before(e.deadline) {
		return ErrExists
	}
	s.sessions[r.SessionID] = s.entryFor(r, now)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (*Record, error) {
	now := s.opts.Now()

	s.mu.RLock()
	e, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok || !now.Before(e.deadline) {
		return nil, ErrNotFound
	}
	return e.record.Clone(), nil
}

func (s *MemoryStore) CompareAndSwap(_ context.Context, next *Record, expectedRound uint32) error {
	if err := validateTransition(next, expectedRound); err != nil {
		return err
	}
	if _, err := Encode(next); err != nil {
		return err
	}
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[next.SessionID]
	if !ok || !now.Before(e.deadline) {
		return ErrNotFound
	}
	if e.record.Status.Terminal() {
		return ErrTerminal
	}
	if e.record.RoundIndex != expectedRound {
		return ErrRoundMismatch
	}
	if retention(next, now, s.opts.TerminalGrace) <= 0 {
		return ErrNotFound
	}

	s.sessions[next.SessionID] = s.entryFor(next, now)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ActiveCount(_ context.Context) (int, error) {
	now := s.opts.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.sessions {
		if e.record.Status == StatusActive && now.Before(e.deadline) {
			n++
		}
	}
	return n, nil
}

// Reap deletes every entry past its deadline.
func (s *MemoryStore) Reap(_ context.Context) (int, error) {
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, e := range s.sessions {
		if !now.Before(e.deadline) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(context.Context) (time.Duration, error) { return 0, nil }

func (s *MemoryStore) Close() error { return nil }

// Len returns the number of entries held, including ones awaiting reaping.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
