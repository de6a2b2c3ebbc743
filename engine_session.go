package paradox

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/paradox/behavior"
	"github.com/MrEthical07/paradox/challenge"
	"github.com/MrEthical07/paradox/internal"
	"github.com/MrEthical07/paradox/internal/fingerprint"
	"github.com/MrEthical07/paradox/session"
	"github.com/MrEthical07/paradox/token"
	"github.com/MrEthical07/paradox/verdict"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var errGeneratorFailed = errors.New("challenge generator failed")

const auditEventRequestDenied = "request_denied"

// StartSession creates a session and issues round 0.
//
// A generator timeout persists the session as FALLBACK and returns
// ActionFallback with a nil error. Only store failures are returned as
// [ErrStoreUnavailable].
func (e *Engine) StartSession(ctx context.Context) (StartResult, error) {
	if e == nil || e.store == nil || e.codec == nil {
		return StartResult{}, ErrEngineNotReady
	}

	ctx, span := e.tracer.Start(ctx, "paradox.StartSession")
	defer span.End()

	sid, err := internal.NewSessionID()
	if err != nil {
		return StartResult{}, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}
	sessionID := sid.String()
	span.SetAttributes(attribute.String("paradox.session_id", sessionID))

	now := e.now()
	rec := &session.Record{
		SessionID: sessionID,
		Status:    session.StatusActive,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: now.Add(e.config.Session.TTL).UnixMilli(),
	}

	difficulty := e.config.Session.InitialDifficulty
	ch, genErr := e.generate(ctx, challenge.Request{Difficulty: difficulty})
	if genErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return StartResult{}, ctxErr
		}
		rec.Status = session.StatusFallback
		if err := e.store.Create(ctx, rec); err != nil {
			return StartResult{}, e.storeFailure(ctx, span, sessionID, err)
		}
		e.metricInc(MetricSessionFallback)
		e.emitAudit(ctx, auditRecord{
			eventType: auditEventSessionTerminal,
			sessionID: sessionID,
			err:       genErr,
			metadata:  statusMetadata(rec.Status),
		})
		e.logger.InfoContext(ctx, "session fell back at start",
			"session_id", sessionID, "request_id", RequestIDFromContext(ctx), "error", genErr)
		span.SetAttributes(attribute.String("paradox.action", string(ActionFallback)))
		return StartResult{Action: ActionFallback, SessionID: sessionID}, nil
	}

	round, err := e.newRound(0, difficulty, ch, now, rec.ExpiresAt)
	if err != nil {
		return StartResult{}, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}
	rec.Round = round

	tok, err := e.codec.Issue(sessionID, 0, round.Nonce)
	if err != nil {
		return StartResult{}, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
	}

	if err := e.store.Create(ctx, rec); err != nil {
		return StartResult{}, e.storeFailure(ctx, span, sessionID, err)
	}

	e.metricInc(MetricSessionStarted)
	e.emitAudit(ctx, auditRecord{
		eventType: auditEventSessionStarted,
		sessionID: sessionID,
		success:   true,
		metadata: func() map[string]string {
			return map[string]string{"kind": round.Kind}
		},
	})
	e.logger.DebugContext(ctx, "session started",
		"session_id", sessionID, "round", 0, "kind", round.Kind, "request_id", RequestIDFromContext(ctx))
	span.SetAttributes(attribute.String("paradox.action", string(ActionContinue)))

	return StartResult{
		Action:    ActionContinue,
		Token:     tok,
		RoundID:   token.RoundID(sessionID, 0, round.Nonce),
		Challenge: &ch,
		ExpiresIn: expiresIn(round, now),
		SessionID: sessionID,
	}, nil
}

// Respond scores one answer and advances the session.
//
// Every denial returns ActionReject together with an error for in-process
// callers: [ErrTokenInvalid], [ErrAnswerTooLong], [ErrSessionNotFound],
// [ErrSessionTerminal] or [ErrStaleRound]. Verdict outcomes, including
// fallbacks caused by the escalation ceiling, round expiry or a generator
// timeout, return a nil error. Concurrent answers to the same round are
// serialized by the store: one wins and the others get [ErrStaleRound]
// without side effects.
func (e *Engine) Respond(ctx context.Context, req RespondRequest) (RespondResult, error) {
	if e == nil || e.store == nil || e.codec == nil {
		return RespondResult{Action: ActionReject}, ErrEngineNotReady
	}

	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "paradox.Respond")
	defer func() {
		e.metrics.Observe(MetricRespondLatency, time.Since(started))
		span.End()
	}()

	claims, err := e.codec.Verify(req.Token)
	if err != nil {
		return e.deny(ctx, span, "", 0, fmt.Errorf("%w: %v", ErrTokenInvalid, err))
	}
	sessionID := claims.SessionID
	span.SetAttributes(
		attribute.String("paradox.session_id", sessionID),
		attribute.Int64("paradox.round", int64(claims.RoundIndex)),
	)

	if utf8.RuneCountInString(req.Answer) > e.config.Session.MaxAnswerLength {
		return e.deny(ctx, span, sessionID, claims.RoundIndex, ErrAnswerTooLong)
	}
	expectedID := token.RoundID(sessionID, claims.RoundIndex, claims.Nonce)
	if subtle.ConstantTimeCompare([]byte(req.RoundID), []byte(expectedID)) != 1 {
		return e.deny(ctx, span, sessionID, claims.RoundIndex, fmt.Errorf("%w: round id mismatch", ErrTokenInvalid))
	}

	rec, err := e.store.Get(ctx, sessionID)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNotFound):
		return e.deny(ctx, span, sessionID, claims.RoundIndex, ErrSessionNotFound)
	case errors.Is(err, session.ErrCorrupt):
		e.logger.ErrorContext(ctx, "session record corrupt", "session_id", sessionID, "error", err)
		return e.deny(ctx, span, sessionID, claims.RoundIndex, fmt.Errorf("%w: %v", ErrSessionNotFound, err))
	default:
		return RespondResult{Action: ActionReject}, e.storeFailure(ctx, span, sessionID, err)
	}

	if rec.Status.Terminal() {
		return e.deny(ctx, span, sessionID, claims.RoundIndex, ErrSessionTerminal)
	}
	if claims.RoundIndex != rec.RoundIndex {
		return e.deny(ctx, span, sessionID, claims.RoundIndex, ErrStaleRound)
	}
	if subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(rec.Round.Nonce)) != 1 {
		return e.deny(ctx, span, sessionID, claims.RoundIndex, fmt.Errorf("%w: nonce mismatch", ErrTokenInvalid))
	}

	now := e.now()
	if rec.Round.Expired(now) {
		e.metricInc(MetricRoundExpired)
		next := rec.Clone()
		next.Status = session.StatusFallback
		if err := e.commit(ctx, span, rec, next); err != nil {
			return RespondResult{Action: ActionReject}, err
		}
		e.emitAudit(ctx, auditRecord{
			eventType: auditEventRoundExpired,
			sessionID: sessionID,
			round:     rec.RoundIndex,
		})
		e.finished(ctx, next, nil)
		return RespondResult{Action: ActionFallback}, nil
	}

	digest := fingerprint.Of(req.Answer)
	features := e.normalizer.Normalize(behavior.ParseMeta(req.Meta), behavior.Timing{
		IssuedAt:   time.UnixMilli(rec.Round.IssuedAt),
		ReceivedAt: now,
		Dilation:   rec.Round.TimeDilation,
	})
	v := e.verdict.Score(verdict.Input{
		Correct:  e.checker.Check(rec.Round.Verifier, req.Answer),
		Features: features,
		Answer:   digest,
		History: verdict.History{
			RoundIndex:        rec.RoundIndex,
			EscalationDepth:   rec.EscalationDepth,
			ConsecutivePasses: rec.ConsecutivePasses,
			TrustScore:        rec.TrustScore,
			Difficulty:        int(rec.Round.Difficulty),
			ReferencesPrior:   rec.Round.ReferencesPrior,
			PriorDigests:      rec.PriorAnswerDigests,
		},
	})
	e.metricInc(MetricRoundScored)
	if v.Flags.Has(behavior.FlagReplay) {
		e.metricInc(MetricReplayDetected)
	}
	if v.Flags.Anomalous() {
		e.metricInc(MetricAnomalyDetected)
	}
	span.SetAttributes(
		attribute.String("paradox.decision", v.Decision.String()),
		attribute.Float64("paradox.score", v.Score),
	)

	next := rec.Clone()
	next.TrustScore = v.TrustScore
	next.ConsecutivePasses = v.ConsecutivePasses

	var (
		result   RespondResult
		cause    error
		newRound session.Round
		newToken string
	)
	switch v.Decision {
	case verdict.Accept:
		next.Status = session.StatusAccepted
		result = RespondResult{Accepted: true, Action: ActionAccept}
	case verdict.Reject:
		next.Status = terminalStatus(v.Flags)
		result = RespondResult{Action: actionFor(next.Status)}
	case verdict.Fallback:
		e.metricInc(MetricQuotaExceeded)
		next.Status = session.StatusFallback
		cause = ErrQuotaExceeded
		result = RespondResult{Action: ActionFallback}
	default:
		next.RememberAnswer(digest)
		difficulty := clampDifficulty(v.NextDifficulty)
		ch, genErr := e.generate(ctx, challenge.Request{
			Difficulty:   difficulty,
			RoundIndex:   rec.RoundIndex + 1,
			PriorDigests: next.PriorAnswerDigests,
		})
		if genErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return RespondResult{Action: ActionReject}, ctxErr
			}
			next.PriorAnswerDigests = rec.Clone().PriorAnswerDigests
			next.Status = session.StatusFallback
			cause = genErr
			result = RespondResult{Action: ActionFallback}
			break
		}

		newRound, err = e.newRound(rec.RoundIndex+1, difficulty, ch, now, rec.ExpiresAt)
		if err != nil {
			return RespondResult{Action: ActionReject}, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
		}
		newToken, err = e.codec.Issue(sessionID, newRound.Index, newRound.Nonce)
		if err != nil {
			return RespondResult{Action: ActionReject}, fmt.Errorf("%w: %v", ErrEngineNotReady, err)
		}
		next.RoundIndex = newRound.Index
		next.EscalationDepth++
		next.Round = newRound
		result = RespondResult{
			Action:        ActionContinue,
			Token:         newToken,
			RoundID:       token.RoundID(sessionID, newRound.Index, newRound.Nonce),
			NextChallenge: &ch,
			ExpiresIn:     expiresIn(newRound, now),
		}
	}

	if err := e.commit(ctx, span, rec, next); err != nil {
		return RespondResult{Action: ActionReject}, err
	}

	e.emitAudit(ctx, auditRecord{
		eventType: auditEventRoundScored,
		sessionID: sessionID,
		round:     rec.RoundIndex,
		success:   v.Passed,
		metadata: func() map[string]string {
			return map[string]string{
				"decision": v.Decision.String(),
				"flags":    v.Flags.String(),
				"kind":     rec.Round.Kind,
			}
		},
	})
	e.logger.DebugContext(ctx, "round scored",
		"session_id", sessionID,
		"round", rec.RoundIndex,
		"decision", v.Decision.String(),
		"score", v.Score,
		"flags", v.Flags.String(),
		"reason", v.Reason,
		"request_id", RequestIDFromContext(ctx),
	)

	if next.Status.Terminal() {
		e.finished(ctx, next, cause)
	} else {
		e.metricInc(MetricRoundEscalated)
	}
	span.SetAttributes(attribute.String("paradox.action", string(result.Action)))
	return result, nil
}

// commit writes next with a compare-and-swap on the round the request was
// validated against. A lost race is reported as a stale round.
func (e *Engine) commit(ctx context.Context, span trace.Span, prev, next *session.Record) error {
	err := e.store.CompareAndSwap(ctx, next, prev.RoundIndex)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrRoundMismatch),
		errors.Is(err, session.ErrTerminal),
		errors.Is(err, session.ErrNotFound):
		e.metricInc(MetricStaleRound)
		e.emitAudit(ctx, auditRecord{
			eventType: auditEventStaleRound,
			sessionID: prev.SessionID,
			round:     prev.RoundIndex,
			err:       ErrStaleRound,
		})
		span.SetAttributes(attribute.String("paradox.denial", "stale_round"))
		return fmt.Errorf("%w: %v", ErrStaleRound, err)
	default:
		return e.storeFailure(ctx, span, prev.SessionID, err)
	}
}

// finished records a terminal transition.
func (e *Engine) finished(ctx context.Context, rec *session.Record, cause error) {
	switch rec.Status {
	case session.StatusAccepted:
		e.metricInc(MetricSessionAccepted)
	case session.StatusRejected:
		e.metricInc(MetricSessionRejected)
	case session.StatusFallback:
		e.metricInc(MetricSessionFallback)
	}
	e.emitAudit(ctx, auditRecord{
		eventType: auditEventSessionTerminal,
		sessionID: rec.SessionID,
		round:     rec.RoundIndex,
		success:   rec.Status == session.StatusAccepted,
		err:       cause,
		metadata:  statusMetadata(rec.Status),
	})
	e.logger.InfoContext(ctx, "session finished",
		"session_id", rec.SessionID,
		"round", rec.RoundIndex,
		"status", rec.Status.String(),
		"trust", rec.TrustScore,
		"request_id", RequestIDFromContext(ctx),
	)
}

// deny returns the uniform client-facing denial.
func (e *Engine) deny(ctx context.Context, span trace.Span, sessionID string, round uint32, err error) (RespondResult, error) {
	eventType := auditEventRequestDenied
	switch {
	case errors.Is(err, ErrTokenInvalid):
		e.metricInc(MetricTokenRejected)
		eventType = auditEventTokenRejected
	case errors.Is(err, ErrStaleRound):
		e.metricInc(MetricStaleRound)
		eventType = auditEventStaleRound
	}

	e.emitAudit(ctx, auditRecord{
		eventType: eventType,
		sessionID: sessionID,
		round:     round,
		err:       err,
	})
	e.logger.DebugContext(ctx, "response denied",
		"session_id", sessionID,
		"round", round,
		"error", err,
		"request_id", RequestIDFromContext(ctx),
	)
	span.SetAttributes(attribute.String("paradox.denial", string(auditErrorCode(err))))
	return RespondResult{Action: ActionReject}, err
}

func (e *Engine) storeFailure(ctx context.Context, span trace.Span, sessionID string, err error) error {
	e.metricInc(MetricStoreUnavailable)
	e.logger.ErrorContext(ctx, "session store failure",
		"session_id", sessionID,
		"error", err,
		"request_id", RequestIDFromContext(ctx),
	)
	span.RecordError(err)
	span.SetStatus(codes.Error, "session store unavailable")
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// generate calls the generator under the configured timeout.
func (e *Engine) generate(ctx context.Context, req challenge.Request) (challenge.Challenge, error) {
	ch, err := challenge.Generate(ctx, e.generator, req, e.config.Generator.Timeout)
	if err == nil {
		return ch, nil
	}
	if errors.Is(err, challenge.ErrTimeout) {
		e.metricInc(MetricGeneratorTimeout)
		e.logger.WarnContext(ctx, "challenge generator timed out",
			"round", req.RoundIndex, "difficulty", req.Difficulty, "timeout", e.config.Generator.Timeout)
		e.emitAudit(ctx, auditRecord{
			eventType: auditEventGeneratorTimeout,
			round:     req.RoundIndex,
			err:       ErrGeneratorTimeout,
		})
		return ch, fmt.Errorf("%w: %v", ErrGeneratorTimeout, err)
	}
	e.metricInc(MetricGeneratorFailure)
	e.logger.ErrorContext(ctx, "challenge generator failed", "round", req.RoundIndex, "error", err)
	return ch, fmt.Errorf("%w: %v", errGeneratorFailed, err)
}

func (e *Engine) newRound(index uint32, difficulty int, ch challenge.Challenge, now time.Time, sessionExpiresAt int64) (session.Round, error) {
	nonce, err := internal.NewNonce()
	if err != nil {
		return session.Round{}, err
	}

	expires := now.Add(e.config.Session.RoundTTL).UnixMilli()
	if expires > sessionExpiresAt {
		expires = sessionExpiresAt
	}

	return session.Round{
		Index:           index,
		Nonce:           nonce,
		Kind:            ch.Kind,
		Difficulty:      uint16(clampDifficulty(difficulty)),
		IssuedAt:        now.UnixMilli(),
		ExpiresAt:       expires,
		Verifier:        append([]byte(nil), ch.Verifier...),
		ReferencesPrior: ch.ReferencesPrior,
		TimeDilation:    ch.TimeDilation,
	}, nil
}

// terminalStatus maps a rejecting verdict onto REJECTED when the behavior was
// anomalous and FALLBACK when it was merely ambiguous.
func terminalStatus(flags behavior.Flag) session.Status {
	if flags.Anomalous() {
		return session.StatusRejected
	}
	return session.StatusFallback
}

func actionFor(status session.Status) Action {
	switch status {
	case session.StatusAccepted:
		return ActionAccept
	case session.StatusFallback:
		return ActionFallback
	case session.StatusActive:
		return ActionContinue
	default:
		return ActionReject
	}
}

func clampDifficulty(d int) int {
	switch {
	case d < 1:
		return 1
	case d > math.MaxUint16:
		return math.MaxUint16
	default:
		return d
	}
}

func expiresIn(r session.Round, now time.Time) int {
	ms := r.ExpiresAt - now.UnixMilli()
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}

func statusMetadata(status session.Status) func() map[string]string {
	return func() map[string]string {
		return map[string]string{"status": status.String()}
	}
}
