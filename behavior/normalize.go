package behavior

import (
	"math"
	"time"
)

// Config holds latency bucket edges and caps.
type Config struct {
	TooFast     time.Duration `yaml:"too_fast"`
	Quick       time.Duration `yaml:"quick"`
	Natural     time.Duration `yaml:"natural"`
	Slow        time.Duration `yaml:"slow"`
	ClockSlack  time.Duration `yaml:"clock_slack"`
	MaxHesitate int           `yaml:"max_hesitations"`
	ZeroEntropy float64       `yaml:"zero_entropy"`
}

// DefaultConfig returns the stock bucket edges: under 800ms is too fast and
// over 30s is too slow.
func DefaultConfig() Config {
	return Config{
		TooFast:     800 * time.Millisecond,
		Quick:       2 * time.Second,
		Natural:     15 * time.Second,
		Slow:        30 * time.Second,
		ClockSlack:  time.Second,
		MaxHesitate: 10,
		ZeroEntropy: 0.01,
	}
}

// Normalizer applies a Config. The zero value uses DefaultConfig.
type Normalizer struct {
	cfg Config
}

// NewNormalizer returns a Normalizer for cfg.
func NewNormalizer(cfg Config) Normalizer {
	return Normalizer{cfg: cfg}
}

// Normalize converts telemetry with the default configuration.
func Normalize(raw Telemetry, timing Timing) Features {
	return Normalizer{}.Normalize(raw, timing)
}

// Normalize converts raw telemetry and round timing into bounded features.
func (n Normalizer) Normalize(raw Telemetry, timing Timing) Features {
	cfg := n.cfg
	if cfg.Slow <= 0 {
		cfg = DefaultConfig()
	}

	var f Features
	if raw.Empty() {
		f.Flags |= FlagNoTelemetry
	}

	var latency time.Duration
	known := false
	if timing.Known() {
		latency = timing.Elapsed()
		known = true
		if raw.LatencyMS != nil {
			claimed := millis(*raw.LatencyMS)
			if timing.Dilated() {
				expected := time.Duration(float64(latency) * timing.Dilation)
				if d := claimed - expected; d > cfg.ClockSlack || d < -cfg.ClockSlack {
					f.Flags |= FlagDilationIgnored
				}
			} else if claimed > latency+cfg.ClockSlack {
				f.Flags |= FlagTimingMismatch
			}
		}
	} else if raw.LatencyMS != nil && *raw.LatencyMS >= 0 {
		latency = millis(*raw.LatencyMS)
		known = true
	}

	if known {
		f.LatencyMS = latency.Milliseconds()
		f.LatencyBucket, f.LatencyScore = bucket(cfg, latency)
		switch f.LatencyBucket {
		case BucketTooFast:
			f.Flags |= FlagTooFast
		case BucketTooSlow:
			f.Flags |= FlagTooSlow
		}
	}

	entropy, measured := pathEntropy(raw.Path)
	if !measured && raw.Entropy != nil {
		entropy = clamp01(*raw.Entropy)
		measured = true
	}
	if measured {
		f.Entropy = entropy
		if entropy <= cfg.ZeroEntropy {
			f.Flags |= FlagZeroEntropy
		}
	}

	hes := reversals(raw.Path)
	if hes == 0 && raw.Hesitations != nil && *raw.Hesitations > 0 {
		hes = int(math.Min(*raw.Hesitations, float64(cfg.MaxHesitate)))
	}
	if raw.Reselections != nil && *raw.Reselections > 0 {
		hes += int(math.Min(*raw.Reselections, float64(cfg.MaxHesitate)))
	}
	if hes > cfg.MaxHesitate {
		hes = cfg.MaxHesitate
	}
	f.Hesitations = hes

	return f
}

// maxReportedLatency bounds client-reported durations before conversion.
const maxReportedLatency = 24 * time.Hour

// millis converts a client-reported millisecond count, clamped to
// [0, maxReportedLatency].
func millis(ms float64) time.Duration {
	switch {
	case math.IsNaN(ms) || ms <= 0:
		return 0
	case ms >= float64(maxReportedLatency/time.Millisecond):
		return maxReportedLatency
	default:
		return time.Duration(ms * float64(time.Millisecond))
	}
}

func bucket(cfg Config, latency time.Duration) (Bucket, float64) {
	switch {
	case latency < cfg.TooFast:
		return BucketTooFast, 0
	case latency < cfg.Quick:
		return BucketQuick, 0.7
	case latency <= cfg.Natural:
		return BucketNatural, 1.0
	case latency <= cfg.Slow:
		return BucketSlow, 0.7
	default:
		return BucketTooSlow, 0.2
	}
}

// pathEntropy is the coefficient of variation of step lengths, clamped to
// [0,1]. It needs at least three points.
func pathEntropy(path []Point) (float64, bool) {
	if len(path) < 3 {
		return 0, false
	}

	steps := make([]float64, 0, len(path)-1)
	var sum float64
	for i := 1; i < len(path); i++ {
		d := math.Hypot(path[i].X-path[i-1].X, path[i].Y-path[i-1].Y)
		steps = append(steps, d)
		sum += d
	}
	mean := sum / float64(len(steps))
	if mean == 0 {
		return 0, true
	}

	var variance float64
	for _, d := range steps {
		variance += (d - mean) * (d - mean)
	}
	variance /= float64(len(steps))

	return clamp01(math.Sqrt(variance) / mean), true
}

// reversals counts consecutive steps whose directions oppose each other.
func reversals(path []Point) int {
	count := 0
	for i := 2; i < len(path); i++ {
		ax, ay := path[i-1].X-path[i-2].X, path[i-1].Y-path[i-2].Y
		bx, by := path[i].X-path[i-1].X, path[i].Y-path[i-1].Y
		if ax*bx+ay*by < 0 {
			count++
		}
	}
	return count
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
