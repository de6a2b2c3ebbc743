package paradox

import "github.com/MrEthical07/paradox/internal/security"

// SecurityReport returns the posture of the frozen configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	return BuildSecurityReport(e.config)
}

// BuildSecurityReport summarizes cfg without building an engine.
func BuildSecurityReport(cfg Config) SecurityReport {
	return security.BuildReport(security.ReportInput{
		SigningAlgorithm: cfg.Token.Method,
		PreviousKeys:     len(cfg.Token.PreviousKeys),
		SessionTTL:       cfg.Session.TTL,
		RoundTTL:         cfg.Session.RoundTTL,
		TerminalGrace:    cfg.Session.TerminalGrace,
		Skew:             cfg.Token.Skew,
		MaxRounds:        cfg.Verdict.MaxRounds,
		MinPassingRounds: cfg.Verdict.MinPassingRounds,
		AcceptThreshold:  cfg.Verdict.AcceptThreshold,
		RejectThreshold:  cfg.Verdict.RejectThreshold,
		RateLimitEnabled: cfg.RateLimit.Enabled,
		SessionPerMinute: cfg.RateLimit.SessionPerMinute,
		RespondPerMinute: cfg.RateLimit.RespondPerMinute,
		RateLimitBackend: cfg.RateLimit.Backend,
		StoreDriver:      cfg.Store.Driver,
		AuditEnabled:     cfg.Audit.Enabled,
		AuditDropIfFull:  cfg.Audit.DropIfFull,
	})
}
