package security

import (
	"fmt"
	"time"
)

// Report summarizes the verification posture of a configuration.
type Report struct {
	SigningAlgorithm   string
	KeyRotationActive  bool
	SessionTTL         time.Duration
	RoundTTL           time.Duration
	TokenLifetime      time.Duration
	MaxRounds          int
	MinPassingRounds   int
	AcceptThreshold    float64
	RejectThreshold    float64
	RateLimitingActive bool
	RateLimitBackend   string
	SharedStore        bool
	AuditActive        bool
	AuditLossy         bool
	Warnings           []string
}

type ReportInput struct {
	SigningAlgorithm string
	PreviousKeys     int
	SessionTTL       time.Duration
	RoundTTL         time.Duration
	TerminalGrace    time.Duration
	Skew             time.Duration
	MaxRounds        int
	MinPassingRounds int
	AcceptThreshold  float64
	RejectThreshold  float64
	RateLimitEnabled bool
	SessionPerMinute int
	RespondPerMinute int
	RateLimitBackend string
	StoreDriver      string
	AuditEnabled     bool
	AuditDropIfFull  bool
}

const (
	minThresholdGap  = 0.1
	maxTokenLifetime = 10 * time.Minute
)

func BuildReport(input ReportInput) Report {
	rateLimiting := input.RateLimitEnabled &&
		(input.SessionPerMinute > 0 || input.RespondPerMinute > 0)

	r := Report{
		SigningAlgorithm:   input.SigningAlgorithm,
		KeyRotationActive:  input.PreviousKeys > 0,
		SessionTTL:         input.SessionTTL,
		RoundTTL:           input.RoundTTL,
		TokenLifetime:      input.RoundTTL + input.TerminalGrace + input.Skew,
		MaxRounds:          input.MaxRounds,
		MinPassingRounds:   input.MinPassingRounds,
		AcceptThreshold:    input.AcceptThreshold,
		RejectThreshold:    input.RejectThreshold,
		RateLimitingActive: rateLimiting,
		SharedStore:        input.StoreDriver == "redis",
		AuditActive:        input.AuditEnabled,
		AuditLossy:         input.AuditEnabled && input.AuditDropIfFull,
	}
	if rateLimiting {
		r.RateLimitBackend = input.RateLimitBackend
	}

	if !rateLimiting {
		r.Warnings = append(r.Warnings, "rate limiting is off; clients can farm sessions")
	}
	if input.MinPassingRounds < 2 {
		r.Warnings = append(r.Warnings, "a single passing round accepts a session")
	}
	if input.AcceptThreshold-input.RejectThreshold < minThresholdGap {
		r.Warnings = append(r.Warnings, fmt.Sprintf(
			"accept and reject thresholds are within %.2f; most rounds will decide immediately", minThresholdGap))
	}
	if r.TokenLifetime > maxTokenLifetime {
		r.Warnings = append(r.Warnings, fmt.Sprintf("round tokens live %s, longer than %s", r.TokenLifetime, maxTokenLifetime))
	}
	if input.StoreDriver == "memory" {
		r.Warnings = append(r.Warnings, "memory store is per process; sessions do not survive restarts or span replicas")
	}
	if rateLimiting && input.RateLimitBackend == "local" && input.StoreDriver == "redis" {
		r.Warnings = append(r.Warnings, "local rate limits are per replica while sessions are shared")
	}
	return r
}
