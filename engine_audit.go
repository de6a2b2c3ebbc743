package paradox

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

const (
	auditEventSessionStarted     = "session_started"
	auditEventRoundScored        = "round_scored"
	auditEventSessionTerminal    = "session_terminal"
	auditEventTokenRejected      = "token_rejected"
	auditEventStaleRound         = "stale_round"
	auditEventRoundExpired       = "round_expired"
	auditEventGeneratorTimeout   = "generator_timeout"
	auditEventRateLimitTriggered = "rate_limit_triggered"
	auditEventSessionsReaped     = "sessions_reaped"
)

// AuditErrorCode is the stable, non-sensitive error classification stored in
// [AuditEvent.Error].
type AuditErrorCode string

const (
	auditErrInvalidToken      AuditErrorCode = "invalid_token"
	auditErrStaleRound        AuditErrorCode = "stale_round"
	auditErrSessionNotFound   AuditErrorCode = "session_not_found"
	auditErrSessionTerminal   AuditErrorCode = "session_terminal"
	auditErrAnswerTooLong     AuditErrorCode = "answer_too_long"
	auditErrGeneratorTimeout  AuditErrorCode = "generator_timeout"
	auditErrQuotaExceeded     AuditErrorCode = "quota_exceeded"
	auditErrStoreUnavailable  AuditErrorCode = "backend_unavailable"
	auditErrRateLimited       AuditErrorCode = "rate_limited"
	auditErrInternal          AuditErrorCode = "internal_error"
	auditErrGeneratorFailure  AuditErrorCode = "generator_failure"
	auditErrEngineUnavailable AuditErrorCode = "engine_not_ready"
)

type auditRecord struct {
	eventType string
	sessionID string
	round     uint32
	success   bool
	err       error
	metadata  func() map[string]string
}

func (e *Engine) emitAudit(ctx context.Context, rec auditRecord) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if rec.metadata != nil {
		metadata = rec.metadata()
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		if metadata == nil {
			metadata = make(map[string]string, 1)
		}
		metadata["user_agent"] = ua
	}

	event := AuditEvent{
		ID:        uuid.NewString(),
		Timestamp: e.now().UTC(),
		EventType: rec.eventType,
		SessionID: rec.sessionID,
		Round:     rec.round,
		RequestID: RequestIDFromContext(ctx),
		IP:        clientIPFromContext(ctx),
		Success:   rec.success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(rec.err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

// ReportRateLimited records a request refused by an outer rate limiter.
// scope names the limited operation, for example "session" or "respond".
func (e *Engine) ReportRateLimited(ctx context.Context, scope string) {
	if e == nil {
		return
	}
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditRecord{
		eventType: auditEventRateLimitTriggered,
		err:       errRateLimited,
		metadata: func() map[string]string {
			return map[string]string{"scope": scope}
		},
	})
}

var errRateLimited = errors.New("rate limited")

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrStaleRound):
		return auditErrStaleRound
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrSessionTerminal):
		return auditErrSessionTerminal
	case errors.Is(err, ErrAnswerTooLong):
		return auditErrAnswerTooLong
	case errors.Is(err, ErrGeneratorTimeout):
		return auditErrGeneratorTimeout
	case errors.Is(err, ErrQuotaExceeded):
		return auditErrQuotaExceeded
	case errors.Is(err, ErrStoreUnavailable):
		return auditErrStoreUnavailable
	case errors.Is(err, ErrEngineNotReady):
		return auditErrEngineUnavailable
	case errors.Is(err, errRateLimited):
		return auditErrRateLimited
	case errors.Is(err, errGeneratorFailed):
		return auditErrGeneratorFailure
	default:
		return auditErrInternal
	}
}
