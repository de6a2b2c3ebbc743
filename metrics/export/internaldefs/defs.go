package internaldefs

import (
	"github.com/MrEthical07/paradox"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   paradox.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   paradox.MetricID
	Name string
	Help string
}

// AuditDroppedName is exported next to the engine counters.
const (
	AuditDroppedName = "paradox_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped due to dispatcher backpressure."
)

var CounterDefs = []CounterDef{
	{ID: paradox.MetricSessionStarted, Name: "paradox_session_started_total", Help: "Sessions created with a first round."},
	{ID: paradox.MetricSessionAccepted, Name: "paradox_session_accepted_total", Help: "Sessions that ended in ACCEPTED."},
	{ID: paradox.MetricSessionRejected, Name: "paradox_session_rejected_total", Help: "Sessions that ended in REJECTED."},
	{ID: paradox.MetricSessionFallback, Name: "paradox_session_fallback_total", Help: "Sessions handed off to a fallback verification path."},
	{ID: paradox.MetricRoundScored, Name: "paradox_round_scored_total", Help: "Answers scored by the verdict engine."},
	{ID: paradox.MetricRoundEscalated, Name: "paradox_round_escalated_total", Help: "Rounds that escalated to a harder challenge."},
	{ID: paradox.MetricRoundExpired, Name: "paradox_round_expired_total", Help: "Answers received after the round deadline."},
	{ID: paradox.MetricTokenRejected, Name: "paradox_token_rejected_total", Help: "Requests with an invalid or mismatched round token."},
	{ID: paradox.MetricStaleRound, Name: "paradox_stale_round_total", Help: "Answers for a round that was no longer current."},
	{ID: paradox.MetricReplayDetected, Name: "paradox_replay_detected_total", Help: "Answers repeating an earlier answer verbatim."},
	{ID: paradox.MetricAnomalyDetected, Name: "paradox_anomaly_detected_total", Help: "Answers flagged with automation-like behavior."},
	{ID: paradox.MetricQuotaExceeded, Name: "paradox_quota_exceeded_total", Help: "Sessions stopped by the escalation ceiling."},
	{ID: paradox.MetricGeneratorTimeout, Name: "paradox_generator_timeout_total", Help: "Challenge generator calls that hit the timeout."},
	{ID: paradox.MetricGeneratorFailure, Name: "paradox_generator_failure_total", Help: "Challenge generator calls that returned an error."},
	{ID: paradox.MetricStoreUnavailable, Name: "paradox_store_unavailable_total", Help: "Session store operations that failed."},
	{ID: paradox.MetricSessionsReaped, Name: "paradox_sessions_reaped_total", Help: "Expired sessions removed by the sweep."},
	{ID: paradox.MetricRateLimitHit, Name: "paradox_rate_limit_hit_total", Help: "Requests refused by the rate limiter."},
}

var HistogramDefs = []HistogramDef{
	{ID: paradox.MetricRespondLatency, Name: "paradox_respond_latency_seconds", Help: "Time spent handling one answer."},
}

// HistogramBounds are the finite upper bounds, in seconds, of the engine's
// latency buckets. The eighth bucket is +Inf.
var HistogramBounds = [7]float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// NormalizeBuckets copies raw into a fixed eight-bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals. The last
// element is the sample count.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
