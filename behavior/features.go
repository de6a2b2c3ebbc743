package behavior

import (
	"strings"
	"time"
)

// Flag marks a behavioral observation attached to a feature vector.
type Flag uint16

const (
	// FlagTooFast is set when the response arrived faster than a human can read.
	FlagTooFast Flag = 1 << iota
	// FlagZeroEntropy is set when the interaction path shows no variation.
	FlagZeroEntropy
	// FlagTimingMismatch is set when the client claims more time than the server observed.
	FlagTimingMismatch
	// FlagNoTelemetry is set when the request carried no usable telemetry.
	FlagNoTelemetry
	// FlagReplay is set by the verdict engine when an answer repeats a prior one verbatim.
	FlagReplay
	// FlagTooSlow is informational and does not count as an anomaly.
	FlagTooSlow
	// FlagDilationIgnored is set when a dilated round's reported time does not
	// follow the advertised clock rate.
	FlagDilationIgnored
)

// AnomalyMask selects the flags that mark a response as automation-like.
const AnomalyMask = FlagTooFast | FlagZeroEntropy | FlagTimingMismatch | FlagNoTelemetry | FlagReplay | FlagDilationIgnored

// Has reports whether all bits in f are set.
func (fl Flag) Has(f Flag) bool { return fl&f == f }

// Anomalous reports whether any anomaly flag is set.
func (fl Flag) Anomalous() bool { return fl&AnomalyMask != 0 }

func (fl Flag) String() string {
	if fl == 0 {
		return "none"
	}
	names := []struct {
		f    Flag
		name string
	}{
		{FlagTooFast, "too_fast"},
		{FlagZeroEntropy, "zero_entropy"},
		{FlagTimingMismatch, "timing_mismatch"},
		{FlagNoTelemetry, "no_telemetry"},
		{FlagReplay, "replay"},
		{FlagTooSlow, "too_slow"},
		{FlagDilationIgnored, "dilation_ignored"},
	}
	parts := make([]string, 0, len(names))
	for _, n := range names {
		if fl.Has(n.f) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ",")
}

// Bucket is a coarse response-latency class.
type Bucket uint8

const (
	BucketUnknown Bucket = iota
	BucketTooFast
	BucketQuick
	BucketNatural
	BucketSlow
	BucketTooSlow
)

func (b Bucket) String() string {
	switch b {
	case BucketTooFast:
		return "too_fast"
	case BucketQuick:
		return "quick"
	case BucketNatural:
		return "natural"
	case BucketSlow:
		return "slow"
	case BucketTooSlow:
		return "too_slow"
	default:
		return "unknown"
	}
}

// Features is the normalized per-round feature vector.
type Features struct {
	LatencyMS     int64
	LatencyBucket Bucket
	// LatencyScore is in [0,1]; higher is more human-like.
	LatencyScore float64
	// Entropy is a normalized path-variance measure in [0,1].
	Entropy float64
	// Hesitations is a capped count of direction reversals and reselections.
	Hesitations int
	Flags       Flag
}

// Timing is the server's view of a round.
type Timing struct {
	IssuedAt   time.Time
	ReceivedAt time.Time
	// Dilation is the round's advertised clock rate; zero or one means real
	// time. A client honoring it reports Elapsed multiplied by Dilation.
	Dilation float64
}

// Dilated reports whether the round ran on a dilated clock.
func (t Timing) Dilated() bool {
	return t.Dilation > 0 && t.Dilation != 1
}

// Known reports whether both endpoints are set and ordered.
func (t Timing) Known() bool {
	return !t.IssuedAt.IsZero() && !t.ReceivedAt.IsZero() && !t.ReceivedAt.Before(t.IssuedAt)
}

// Elapsed is the server-observed response latency.
func (t Timing) Elapsed() time.Duration {
	if !t.Known() {
		return 0
	}
	return t.ReceivedAt.Sub(t.IssuedAt)
}
