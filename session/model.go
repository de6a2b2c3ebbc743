package session

import (
	"errors"
	"time"

	"github.com/MrEthical07/paradox/internal/fingerprint"
)

// MaxPriorDigests bounds the answer history kept per session.
const MaxPriorDigests = 5

var (
	// ErrNotFound is returned for missing or expired sessions.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned when Create hits an existing id.
	ErrExists = errors.New("session already exists")
	// ErrRoundMismatch is returned when a CAS names a round that is no longer current.
	ErrRoundMismatch = errors.New("session round mismatch")
	// ErrTerminal is returned when a CAS targets a session that already finished.
	ErrTerminal = errors.New("session is terminal")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("session store unavailable")
	// ErrCorrupt is returned when a stored blob cannot be decoded.
	ErrCorrupt = errors.New("session record corrupt")
)

// Status is the lifecycle state of a session.
type Status uint8

const (
	StatusActive   Status = 1
	StatusAccepted Status = 2
	StatusRejected Status = 3
	StatusFallback Status = 4
	StatusExpired  Status = 5
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool { return s != StatusActive }

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusFallback:
		return "fallback"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Round is the currently issued challenge round. It is immutable once issued.
type Round struct {
	Index           uint32
	Nonce           string
	Kind            string
	Difficulty      uint16
	IssuedAt        int64 // unix milliseconds
	ExpiresAt       int64 // unix milliseconds
	Verifier        []byte
	ReferencesPrior bool
	// TimeDilation is the clock rate advertised to the client for this
	// round. Zero means the round runs on real time.
	TimeDilation float64
}

// Expired reports whether the round deadline has passed at now.
func (r Round) Expired(now time.Time) bool {
	return r.ExpiresAt > 0 && now.UnixMilli() >= r.ExpiresAt
}

// Record is the persisted session state.
type Record struct {
	SessionID         string
	RoundIndex        uint32
	EscalationDepth   uint32
	ConsecutivePasses uint32
	TrustScore        float64
	Status            Status
	CreatedAt         int64 // unix milliseconds
	ExpiresAt         int64 // unix milliseconds

	PriorAnswerDigests []fingerprint.Digest
	Round              Round
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.PriorAnswerDigests = append([]fingerprint.Digest(nil), r.PriorAnswerDigests...)
	out.Round.Verifier = append([]byte(nil), r.Round.Verifier...)
	return &out
}

// Expired reports whether the session TTL has passed at now.
func (r *Record) Expired(now time.Time) bool {
	return now.UnixMilli() >= r.ExpiresAt
}

// RememberAnswer appends d, evicting the oldest digest beyond MaxPriorDigests.
func (r *Record) RememberAnswer(d fingerprint.Digest) {
	r.PriorAnswerDigests = append(r.PriorAnswerDigests, d)
	if n := len(r.PriorAnswerDigests); n > MaxPriorDigests {
		r.PriorAnswerDigests = append([]fingerprint.Digest(nil), r.PriorAnswerDigests[n-MaxPriorDigests:]...)
	}
}

// validateTransition checks the invariants every CAS must hold.
func validateTransition(next *Record, expectedRound uint32) error {
	if next == nil || next.SessionID == "" {
		return errors.New("session record requires an id")
	}
	if next.RoundIndex != expectedRound && next.RoundIndex != expectedRound+1 {
		return errors.New("round index must stay or advance by exactly one")
	}
	if next.RoundIndex == expectedRound+1 && next.Status != StatusActive {
		return errors.New("advancing a round requires an active session")
	}
	if next.RoundIndex == expectedRound && next.Status == StatusActive {
		return errors.New("a CAS that keeps the round must finish the session")
	}
	return nil
}

// retention is how long a record must be kept from now.
func retention(r *Record, now time.Time, grace time.Duration) time.Duration {
	if r.Status.Terminal() {
		return grace
	}
	return time.Duration(r.ExpiresAt-now.UnixMilli()) * time.Millisecond
}
