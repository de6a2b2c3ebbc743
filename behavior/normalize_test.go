package behavior

import (
	"encoding/json"
	"testing"
	"time"
)

func f64(v float64) *float64 { return &v }

func timingFor(d time.Duration) Timing {
	issued := time.Unix(1_700_000_000, 0)
	return Timing{IssuedAt: issued, ReceivedAt: issued.Add(d)}
}

func TestNormalizeHumanLikeRound(t *testing.T) {
	f := Normalize(Telemetry{Entropy: f64(0.5), LatencyMS: f64(3000)}, timingFor(3*time.Second))

	if f.LatencyBucket != BucketNatural || f.LatencyScore != 1 {
		t.Fatalf("expected natural bucket, got %v score %v", f.LatencyBucket, f.LatencyScore)
	}
	if f.Entropy != 0.5 {
		t.Fatalf("expected entropy 0.5, got %v", f.Entropy)
	}
	if f.Flags.Anomalous() {
		t.Fatalf("expected no anomaly flags, got %v", f.Flags)
	}
}

func TestNormalizeBotLikeRound(t *testing.T) {
	f := Normalize(Telemetry{Entropy: f64(0), LatencyMS: f64(50)}, timingFor(50*time.Millisecond))

	if !f.Flags.Has(FlagTooFast) || !f.Flags.Has(FlagZeroEntropy) {
		t.Fatalf("expected too_fast and zero_entropy, got %v", f.Flags)
	}
	if f.LatencyScore != 0 {
		t.Fatalf("expected zero latency score, got %v", f.LatencyScore)
	}
}

func TestLatencyBuckets(t *testing.T) {
	cases := []struct {
		latency time.Duration
		bucket  Bucket
		score   float64
	}{
		{799 * time.Millisecond, BucketTooFast, 0},
		{800 * time.Millisecond, BucketQuick, 0.7},
		{2 * time.Second, BucketNatural, 1},
		{15 * time.Second, BucketNatural, 1},
		{20 * time.Second, BucketSlow, 0.7},
		{31 * time.Second, BucketTooSlow, 0.2},
	}
	for _, tc := range cases {
		f := Normalize(Telemetry{Entropy: f64(0.4)}, timingFor(tc.latency))
		if f.LatencyBucket != tc.bucket || f.LatencyScore != tc.score {
			t.Fatalf("%v: expected %v/%v, got %v/%v", tc.latency, tc.bucket, tc.score, f.LatencyBucket, f.LatencyScore)
		}
	}
}

func TestTooSlowIsNotAnomalous(t *testing.T) {
	f := Normalize(Telemetry{Entropy: f64(0.4)}, timingFor(45*time.Second))
	if !f.Flags.Has(FlagTooSlow) {
		t.Fatal("expected too_slow flag")
	}
	if f.Flags.Anomalous() {
		t.Fatal("too_slow alone must not count as anomalous")
	}
}

func TestServerTimingWinsOverClaims(t *testing.T) {
	f := Normalize(Telemetry{LatencyMS: f64(5000), Entropy: f64(0.4)}, timingFor(100*time.Millisecond))

	if f.LatencyBucket != BucketTooFast {
		t.Fatalf("expected server-observed bucket, got %v", f.LatencyBucket)
	}
	if !f.Flags.Has(FlagTimingMismatch) {
		t.Fatal("expected timing mismatch when client claims more time than observed")
	}
}

func TestClientTimingUsedWhenServerTimingUnknown(t *testing.T) {
	f := Normalize(Telemetry{LatencyMS: f64(4000), Entropy: f64(0.4)}, Timing{})
	if f.LatencyBucket != BucketNatural || f.LatencyMS != 4000 {
		t.Fatalf("expected client latency to be used, got %v %dms", f.LatencyBucket, f.LatencyMS)
	}
}

func TestMissingTelemetryIsSuspicious(t *testing.T) {
	f := Normalize(Telemetry{}, Timing{})
	if !f.Flags.Has(FlagNoTelemetry) {
		t.Fatal("expected no_telemetry flag")
	}
	if f.LatencyScore != 0 || f.Entropy != 0 || f.Hesitations != 0 {
		t.Fatalf("expected low defaults, got %+v", f)
	}
}

func TestEntropyClampedAndFromPath(t *testing.T) {
	if f := Normalize(Telemetry{Entropy: f64(7)}, Timing{}); f.Entropy != 1 {
		t.Fatalf("expected clamp to 1, got %v", f.Entropy)
	}
	if f := Normalize(Telemetry{Entropy: f64(-3)}, Timing{}); f.Entropy != 0 {
		t.Fatalf("expected clamp to 0, got %v", f.Entropy)
	}

	uniform := []Point{{X: 0}, {X: 10}, {X: 20}, {X: 30}}
	f := Normalize(Telemetry{Path: uniform}, Timing{})
	if f.Entropy != 0 || !f.Flags.Has(FlagZeroEntropy) {
		t.Fatalf("expected robotic path to have zero entropy, got %v", f.Entropy)
	}

	varied := []Point{{X: 0}, {X: 2}, {X: 15, Y: 4}, {X: 16, Y: 30}, {X: 40, Y: 31}}
	f = Normalize(Telemetry{Path: varied}, Timing{})
	if f.Entropy <= 0 || f.Entropy > 1 {
		t.Fatalf("expected entropy in (0,1], got %v", f.Entropy)
	}
}

func TestHesitationsCapped(t *testing.T) {
	path := make([]Point, 0, 40)
	for i := 0; i < 40; i++ {
		path = append(path, Point{X: float64(i % 2), Y: 0})
	}
	f := Normalize(Telemetry{Path: path, Reselections: f64(4)}, Timing{})
	if f.Hesitations != 10 {
		t.Fatalf("expected hesitations capped at 10, got %d", f.Hesitations)
	}
}

func TestParseMetaIgnoresUnknownAndMistyped(t *testing.T) {
	var meta map[string]any
	raw := `{"v":2,"time_ms":"fast","entropy":0.3,"extra":{"a":1},"path":[{"x":1,"y":2,"t":0},[3,4],"bogus",{"x":"no"}]}`
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	tel := ParseMeta(meta)
	if tel.Version != 2 {
		t.Fatalf("expected version 2, got %d", tel.Version)
	}
	if tel.LatencyMS != nil {
		t.Fatal("expected mistyped time_ms to be treated as absent")
	}
	if tel.Entropy == nil || *tel.Entropy != 0.3 {
		t.Fatal("expected entropy to be decoded")
	}
	if len(tel.Path) != 2 {
		t.Fatalf("expected 2 valid path points, got %d", len(tel.Path))
	}
}

func TestParseMetaBoundsPath(t *testing.T) {
	points := make([]any, MaxPathPoints+100)
	for i := range points {
		points[i] = []any{float64(i), float64(i)}
	}
	tel := ParseMeta(map[string]any{"path": points})
	if len(tel.Path) != MaxPathPoints {
		t.Fatalf("expected path truncated to %d, got %d", MaxPathPoints, len(tel.Path))
	}
}

func TestFlagString(t *testing.T) {
	if got := (FlagTooFast | FlagReplay).String(); got != "too_fast,replay" {
		t.Fatalf("unexpected flag string %q", got)
	}
	if got := FlagDilationIgnored.String(); got != "dilation_ignored" {
		t.Fatalf("unexpected flag string %q", got)
	}
	if Flag(0).String() != "none" {
		t.Fatal("expected none for empty flags")
	}
}

func TestDilatedRoundHonoringClockRate(t *testing.T) {
	timing := timingFor(4 * time.Second)
	timing.Dilation = 1.5

	f := Normalize(Telemetry{Entropy: f64(0.5), LatencyMS: f64(6000)}, timing)
	if f.Flags.Anomalous() {
		t.Fatalf("expected no anomaly for a dilated report, got %v", f.Flags)
	}
	if f.LatencyMS != 4000 {
		t.Fatalf("expected server-observed latency, got %d", f.LatencyMS)
	}
}

func TestDilatedRoundReportingRealTime(t *testing.T) {
	timing := timingFor(4 * time.Second)
	timing.Dilation = 1.5

	f := Normalize(Telemetry{Entropy: f64(0.5), LatencyMS: f64(4000)}, timing)
	if !f.Flags.Has(FlagDilationIgnored) || !f.Flags.Anomalous() {
		t.Fatalf("expected dilation_ignored, got %v", f.Flags)
	}
	if f.Flags.Has(FlagTimingMismatch) {
		t.Fatal("dilated rounds are judged against the dilated clock only")
	}
}

func TestDilationNeedsReportedTime(t *testing.T) {
	timing := timingFor(4 * time.Second)
	timing.Dilation = 1.5

	f := Normalize(Telemetry{Entropy: f64(0.5)}, timing)
	if f.Flags.Has(FlagDilationIgnored) {
		t.Fatalf("expected no dilation flag without a reported time, got %v", f.Flags)
	}
}

func TestOutOfRangeClientNumbersAreClamped(t *testing.T) {
	f := Normalize(Telemetry{Entropy: f64(0.5), Hesitations: f64(1e300)}, Timing{})
	if f.Hesitations != 10 {
		t.Fatalf("expected hesitations clamped to 10, got %d", f.Hesitations)
	}

	f = Normalize(Telemetry{Entropy: f64(0.5), LatencyMS: f64(1e300)}, Timing{})
	if f.LatencyBucket != BucketTooSlow || f.LatencyMS != maxReportedLatency.Milliseconds() {
		t.Fatalf("expected clamped too-slow latency, got %v %dms", f.LatencyBucket, f.LatencyMS)
	}

	f = Normalize(Telemetry{Entropy: f64(0.5), LatencyMS: f64(1e300)}, timingFor(3*time.Second))
	if !f.Flags.Has(FlagTimingMismatch) {
		t.Fatalf("expected a huge claim to mismatch server timing, got %v", f.Flags)
	}
}
