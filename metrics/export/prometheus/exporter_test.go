package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrEthical07/paradox"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	snapshot paradox.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() paradox.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                     { return f.dropped }

func TestCollectorOmitsDisabledMetrics(t *testing.T) {
	c := NewCollector(fakeSource{
		snapshot: paradox.MetricsSnapshot{
			Counters:   map[paradox.MetricID]uint64{},
			Histograms: map[paradox.MetricID][]uint64{},
		},
	})

	// only the audit drop counter remains
	assert.Equal(t, 1, testutil.CollectAndCount(c))
}

func TestCollectorCountersAndHistogram(t *testing.T) {
	c := NewCollector(fakeSource{
		snapshot: paradox.MetricsSnapshot{
			Counters: map[paradox.MetricID]uint64{
				paradox.MetricSessionAccepted: 7,
			},
			Histograms: map[paradox.MetricID][]uint64{
				paradox.MetricRespondLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	expected := `
# HELP paradox_session_accepted_total Sessions that ended in ACCEPTED.
# TYPE paradox_session_accepted_total counter
paradox_session_accepted_total 7
# HELP paradox_audit_dropped_total Audit events dropped due to dispatcher backpressure.
# TYPE paradox_audit_dropped_total counter
paradox_audit_dropped_total 2
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"paradox_session_accepted_total", "paradox_audit_dropped_total"))

	hist := `
# HELP paradox_respond_latency_seconds Time spent handling one answer.
# TYPE paradox_respond_latency_seconds histogram
paradox_respond_latency_seconds_bucket{le="0.005"} 1
paradox_respond_latency_seconds_bucket{le="0.01"} 3
paradox_respond_latency_seconds_bucket{le="0.025"} 6
paradox_respond_latency_seconds_bucket{le="0.05"} 10
paradox_respond_latency_seconds_bucket{le="0.1"} 15
paradox_respond_latency_seconds_bucket{le="0.25"} 21
paradox_respond_latency_seconds_bucket{le="0.5"} 28
paradox_respond_latency_seconds_bucket{le="+Inf"} 36
paradox_respond_latency_seconds_sum 0
paradox_respond_latency_seconds_count 36
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(hist), "paradox_respond_latency_seconds"))
}

func TestHandlerServesEngineMetrics(t *testing.T) {
	cfg := paradox.DefaultConfig()
	cfg.Token.Secret = "0123456789abcdef0123456789abcdef"
	engine, err := paradox.New().WithConfig(cfg).Build()
	require.NoError(t, err)
	defer engine.Close()

	exp := NewExporter(engine)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "paradox_session_started_total 0")
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func BenchmarkCollect(b *testing.B) {
	c := NewCollector(fakeSource{
		snapshot: paradox.MetricsSnapshot{
			Counters: map[paradox.MetricID]uint64{
				paradox.MetricSessionStarted:  1000,
				paradox.MetricSessionAccepted: 800,
				paradox.MetricRoundScored:     4000,
				paradox.MetricStaleRound:      12,
			},
			Histograms: map[paradox.MetricID][]uint64{
				paradox.MetricRespondLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = testutil.CollectAndCount(c)
	}
}
