package paradox

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricSessionStarted)

	if got := m.Value(MetricSessionStarted); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %d counters", len(snap.Counters))
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricSessionStarted)
	m.Inc(MetricSessionStarted)
	m.Add(MetricSessionsReaped, 7)

	if got := m.Value(MetricSessionStarted); got != 2 {
		t.Fatalf("expected 2, got %d", got)
	}
	if got := m.Value(MetricSessionsReaped); got != 7 {
		t.Fatalf("expected 7, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRoundScored)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRoundScored); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}
	for _, d := range observations {
		m.Observe(MetricRespondLatency, d)
	}

	buckets := m.Snapshot().Histograms[MetricRespondLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestBucketIndexBoundsAreInclusive(t *testing.T) {
	cases := []struct {
		d    time.Duration
		want int
	}{
		{0, 0},
		{5 * time.Millisecond, 0},
		{5*time.Millisecond + time.Microsecond, 1},
		{499 * time.Millisecond, 6},
		{500*time.Millisecond + 1, 7},
		{time.Minute, 7},
	}
	for _, tc := range cases {
		if got := bucketIndex(tc.d); got != tc.want {
			t.Fatalf("bucketIndex(%s) = %d, want %d", tc.d, got, tc.want)
		}
	}
}

func TestMetricsObserveIgnoresCounters(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricSessionStarted, time.Millisecond)

	snap := m.Snapshot()
	if _, ok := snap.Histograms[MetricSessionStarted]; ok {
		t.Fatal("counter id must not produce a histogram")
	}
	if _, ok := snap.Counters[MetricRespondLatency]; ok {
		t.Fatal("histogram id must not appear among counters")
	}
}

func TestMetricsHistogramsNeedOptIn(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricRespondLatency, time.Millisecond)

	if _, ok := m.Snapshot().Histograms[MetricRespondLatency]; ok {
		t.Fatal("expected no histogram without EnableLatencyHistograms")
	}
}

func TestEngineRecordsRespondLatency(t *testing.T) {
	e := newTestEngine(t, nil, nil)
	start := mustStart(t, e)

	if _, err := e.answer(start.Token, start.RoundID, "blue", 3*time.Second, humanMeta()); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}

	var total uint64
	for _, v := range e.MetricsSnapshot().Histograms[MetricRespondLatency] {
		total += v
	}
	if total != 1 {
		t.Fatalf("expected one latency observation, got %d", total)
	}
}

func TestEngineMetricsDisabled(t *testing.T) {
	// Histograms stay at their default (on); disabling metrics turns them off too.
	e := newTestEngine(t, func(c *Config) { c.Metrics.Enabled = false }, nil)
	start := mustStart(t, e)

	if _, err := e.Respond(context.Background(), RespondRequest{Token: "garbage"}); err == nil {
		t.Fatal("expected denial")
	}
	if _, err := e.answer(start.Token, start.RoundID, "blue", 3*time.Second, humanMeta()); err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	snap := e.MetricsSnapshot()
	if len(snap.Counters) != 0 {
		t.Fatalf("expected no counters, got %v", snap.Counters)
	}
	if len(snap.Histograms) != 0 {
		t.Fatalf("expected no histograms, got %v", snap.Histograms)
	}
}
