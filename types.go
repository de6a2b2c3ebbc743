package paradox

import (
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/paradox/challenge"
	internalaudit "github.com/MrEthical07/paradox/internal/audit"
	internalsecurity "github.com/MrEthical07/paradox/internal/security"
)

// Action tells the client what to do next.
type Action string

const (
	// ActionContinue means another round was issued.
	ActionContinue Action = "continue"
	ActionAccept   Action = "accept"
	// ActionReject is returned for rejected sessions and for every denial.
	ActionReject Action = "reject"
	// ActionFallback hands the client to an alternative verification path.
	ActionFallback Action = "fallback"
)

// StartResult is returned by [Engine.StartSession].
type StartResult struct {
	Action    Action               `json:"action"`
	Token     string               `json:"token,omitempty"`
	RoundID   string               `json:"round_id,omitempty"`
	Challenge *challenge.Challenge `json:"challenge,omitempty"`
	// ExpiresIn is the time left to answer the round, in whole seconds.
	ExpiresIn int `json:"expires_in,omitempty"`

	// SessionID is for in-process callers and is never serialized.
	SessionID string `json:"-"`
}

// RespondRequest carries one answer.
type RespondRequest struct {
	Token   string
	RoundID string
	Answer  string
	// Meta is the open telemetry map captured by the client.
	Meta map[string]any
}

// RespondResult is returned by [Engine.Respond]. On ActionContinue it carries
// the next round.
type RespondResult struct {
	Accepted      bool                 `json:"accepted"`
	Action        Action               `json:"action"`
	Token         string               `json:"token,omitempty"`
	RoundID       string               `json:"round_id,omitempty"`
	NextChallenge *challenge.Challenge `json:"next_challenge,omitempty"`
	ExpiresIn     int                  `json:"expires_in,omitempty"`
}

// Health reports store reachability and load.
type Health struct {
	OK             bool          `json:"ok"`
	ActiveSessions int           `json:"active_sessions"`
	StoreLatency   time.Duration `json:"-"`
}

// SecurityReport is a read-only snapshot of the configured posture, returned
// by [Engine.SecurityReport]. Warnings lists settings worth a second look.
type SecurityReport = internalsecurity.Report

// AuditEvent is the structured record delivered to an [AuditSink].
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards all events.
type NoOpSink = internalaudit.NoOpSink

// AuditStats counts what the audit dispatcher queued, delivered, failed to
// deliver and dropped.
type AuditStats = internalaudit.Stats

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes JSON lines to an [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs events through a [slog.Logger].
type SlogSink = internalaudit.SlogSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return internalaudit.NewSlogSink(logger)
}
