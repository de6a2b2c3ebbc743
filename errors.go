package paradox

import "errors"

var (
	// ErrTokenInvalid covers malformed, forged, expired and mismatched round tokens.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrStaleRound means the token names a round that is no longer current.
	ErrStaleRound = errors.New("stale round")
	// ErrGeneratorTimeout means the challenge generator did not answer in time.
	ErrGeneratorTimeout = errors.New("challenge generator timeout")
	// ErrStoreUnavailable is the only service-level failure. Callers should answer 503.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrQuotaExceeded means the escalation ceiling was reached.
	ErrQuotaExceeded   = errors.New("escalation quota exceeded")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionTerminal = errors.New("session already finished")
	ErrAnswerTooLong   = errors.New("answer too long")
	ErrEngineNotReady  = errors.New("engine not ready")
	ErrInvalidConfig   = errors.New("invalid config")
)

// IsDenial reports whether err is a per-request denial rather than a service
// failure or a cancelled call.
func IsDenial(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrEngineNotReady):
		return false
	default:
		return errors.Is(err, ErrTokenInvalid) ||
			errors.Is(err, ErrStaleRound) ||
			errors.Is(err, ErrSessionNotFound) ||
			errors.Is(err, ErrSessionTerminal) ||
			errors.Is(err, ErrAnswerTooLong)
	}
}
