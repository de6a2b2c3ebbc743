package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/paradox"
	"github.com/MrEthical07/paradox/challenge"
	"github.com/MrEthical07/paradox/internal/rate"
	"github.com/MrEthical07/paradox/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newEngine(t *testing.T, mutate func(*paradox.Config)) (*paradox.Engine, *clock) {
	t.Helper()

	cfg := paradox.DefaultConfig()
	cfg.Token.Secret = "0123456789abcdef0123456789abcdef"
	if mutate != nil {
		mutate(&cfg)
	}
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	gen := challenge.GeneratorFunc(func(_ context.Context, req challenge.Request) (challenge.Challenge, error) {
		return challenge.Challenge{
			Kind:       "fixed",
			Prompt:     "what colour is the sky",
			Input:      true,
			Difficulty: req.Difficulty,
			Verifier:   challenge.VerifierFor("blue"),
		}, nil
	})

	engine, err := paradox.New().WithConfig(cfg).WithGenerator(gen).WithClock(clk.Now).Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	return engine, clk
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func startSession(t *testing.T, r http.Handler) paradox.StartResult {
	t.Helper()

	w := do(t, r, http.MethodPost, "/session", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res paradox.StartResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, paradox.ActionContinue, res.Action)
	return res
}

func human() map[string]any {
	return map[string]any{"v": 1, "entropy": 0.5, "hesitations": 2, "extra": "ignored"}
}

func TestStartSessionReturnsRound(t *testing.T) {
	engine, _ := newEngine(t, nil)
	r := NewRouter(Options{Engine: engine})

	w := do(t, r, http.MethodPost, "/session", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.NotEmpty(t, body["token"])
	assert.Len(t, body["round_id"], 16)
	assert.EqualValues(t, 120, body["expires_in"])

	ch, ok := body["challenge"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "fixed", ch["kind"])
	assert.NotContains(t, w.Body.String(), "Verifier")
	assert.NotContains(t, w.Body.String(), "verifier")
}

func TestRespondAcceptFlow(t *testing.T) {
	engine, clk := newEngine(t, func(c *paradox.Config) { c.Verdict.MinPassingRounds = 1 })
	r := NewRouter(Options{Engine: engine})

	start := startSession(t, r)
	clk.now = clk.now.Add(3 * time.Second)

	w := do(t, r, http.MethodPost, "/respond", RespondBody{
		Token:   start.Token,
		RoundID: start.RoundID,
		Answer:  "blue",
		Meta:    human(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res paradox.RespondResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Accepted)
	assert.Equal(t, paradox.ActionAccept, res.Action)
}

func TestRespondContinueCarriesNextRound(t *testing.T) {
	engine, clk := newEngine(t, nil)
	r := NewRouter(Options{Engine: engine})

	start := startSession(t, r)
	clk.now = clk.now.Add(3 * time.Second)

	w := do(t, r, http.MethodPost, "/respond", RespondBody{
		Token: start.Token, RoundID: start.RoundID, Answer: "blue", Meta: human(),
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res paradox.RespondResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, paradox.ActionContinue, res.Action)
	assert.NotEmpty(t, res.Token)
	require.NotNil(t, res.NextChallenge)
	assert.Equal(t, 2, res.NextChallenge.Difficulty)
}

func TestDenialsAreUniform(t *testing.T) {
	engine, clk := newEngine(t, func(c *paradox.Config) { c.Verdict.MinPassingRounds = 1 })
	r := NewRouter(Options{Engine: engine})

	start := startSession(t, r)
	clk.now = clk.now.Add(3 * time.Second)

	ok := do(t, r, http.MethodPost, "/respond", RespondBody{
		Token: start.Token, RoundID: start.RoundID, Answer: "blue", Meta: human(),
	})
	require.Equal(t, http.StatusOK, ok.Code)

	other := startSession(t, r)
	cases := map[string]RespondBody{
		"finished session": {Token: start.Token, RoundID: start.RoundID, Answer: "blue"},
		"forged token":     {Token: "a.b.c", RoundID: start.RoundID, Answer: "blue"},
		"foreign round id": {Token: other.Token, RoundID: start.RoundID, Answer: "blue"},
		"answer too long":  {Token: other.Token, RoundID: other.RoundID, Answer: strings.Repeat("x", 1001)},
	}

	var bodies []string
	for name, body := range cases {
		w := do(t, r, http.MethodPost, "/respond", body)
		assert.Equal(t, http.StatusForbidden, w.Code, name)
		bodies = append(bodies, w.Body.String())
	}
	for _, b := range bodies[1:] {
		assert.JSONEq(t, bodies[0], b)
	}
	assert.JSONEq(t, `{"accepted":false,"action":"reject"}`, bodies[0])
}

func TestRespondMalformedBody(t *testing.T) {
	engine, _ := newEngine(t, nil)
	r := NewRouter(Options{Engine: engine})

	for name, body := range map[string]string{
		"not json":         `{"token":`,
		"missing token":    `{"round_id":"0123456789abcdef","answer":"x"}`,
		"round id not hex": `{"token":"t","round_id":"zzzzzzzzzzzzzzzz","answer":"x"}`,
		"round id length":  `{"token":"t","round_id":"abc","answer":"x"}`,
	} {
		w := do(t, r, http.MethodPost, "/respond", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, name)
	}
}

func TestRespondBodyTooLarge(t *testing.T) {
	engine, _ := newEngine(t, nil)
	r := NewRouter(Options{Engine: engine})

	huge := fmt.Sprintf(`{"token":"t","round_id":"0123456789abcdef","answer":"%s"}`, strings.Repeat("a", maxBodyBytes))
	w := do(t, r, http.MethodPost, "/respond", huge)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

type failingEngine struct{ err error }

func (f failingEngine) StartSession(context.Context) (paradox.StartResult, error) {
	return paradox.StartResult{}, f.err
}

func (f failingEngine) Respond(context.Context, paradox.RespondRequest) (paradox.RespondResult, error) {
	return paradox.RespondResult{Action: paradox.ActionReject}, f.err
}

func (f failingEngine) Health(context.Context) paradox.Health { return paradox.Health{} }

func TestStoreFailureIs503(t *testing.T) {
	err := fmt.Errorf("%w: connection refused", paradox.ErrStoreUnavailable)
	r := NewRouter(Options{Engine: failingEngine{err: err}})

	assert.Equal(t, http.StatusServiceUnavailable, do(t, r, http.MethodPost, "/session", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, r, http.MethodPost, "/respond", RespondBody{
		Token: "t", RoundID: "0123456789abcdef",
	}).Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, r, http.MethodGet, "/health", nil).Code)
}

func TestHealth(t *testing.T) {
	engine, _ := newEngine(t, nil)
	r := NewRouter(Options{Engine: engine})
	startSession(t, r)

	w := do(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok":true,"active_sessions":1}`, w.Body.String())
}

func TestRateLimitedSessionIs429(t *testing.T) {
	engine, _ := newEngine(t, func(c *paradox.Config) {
		c.Metrics.Enabled = true
	})
	lim := rate.NewLocal(rate.Config{SessionPerMinute: 2, RespondPerMinute: 10}, nil)
	r := NewRouter(Options{Engine: engine, Limiter: lim})

	codes := []int{}
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, r, http.MethodPost, "/session", nil).Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.EqualValues(t, 1, engine.MetricsSnapshot().Counters[paradox.MetricRateLimitHit])
}

func postSessionFrom(r http.Handler, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodPost, "/session", nil)
	req.RemoteAddr = "192.0.2.1:41000"
	req.Header.Set("X-Forwarded-For", forwardedFor)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestForwardedForIgnoredWithoutTrustedProxies(t *testing.T) {
	engine, _ := newEngine(t, nil)
	lim := rate.NewLocal(rate.Config{SessionPerMinute: 2, RespondPerMinute: 10}, nil)
	r := NewRouter(Options{Engine: engine, Limiter: lim})

	codes := []int{}
	for i := 0; i < 3; i++ {
		codes = append(codes, postSessionFrom(r, fmt.Sprintf("203.0.113.%d", i+1)))
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
}

func TestForwardedForHonouredFromTrustedProxy(t *testing.T) {
	engine, _ := newEngine(t, nil)
	lim := rate.NewLocal(rate.Config{SessionPerMinute: 2, RespondPerMinute: 10}, nil)
	r := NewRouter(Options{Engine: engine, Limiter: lim, TrustedProxies: []string{"192.0.2.0/24"}})

	codes := []int{}
	for i := 0; i < 3; i++ {
		codes = append(codes, postSessionFrom(r, fmt.Sprintf("203.0.113.%d", i+1)))
	}
	assert.Equal(t, []int{200, 200, 200}, codes)
	postSessionFrom(r, "203.0.113.1")
	assert.Equal(t, http.StatusTooManyRequests, postSessionFrom(r, "203.0.113.1"))
}

func TestEveryResponseCarriesSecurityHeaders(t *testing.T) {
	engine, _ := newEngine(t, nil)
	r := NewRouter(Options{Engine: engine})

	for _, w := range []*httptest.ResponseRecorder{
		do(t, r, http.MethodPost, "/session", nil),
		do(t, r, http.MethodPost, "/respond", `{}`),
		do(t, r, http.MethodGet, "/health", nil),
	} {
		assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
		assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
	}
}

func TestMetricsEndpoint(t *testing.T) {
	engine, _ := newEngine(t, nil)
	reg := prometheus.NewRegistry()
	r := NewRouter(Options{
		Engine:     engine,
		Registerer: reg,
		Metrics:    promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	startSession(t, r)
	w := do(t, r, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `paradox_http_requests_total{code="200",route="/session"} 1`)
}

func TestCancelledRespondIs503(t *testing.T) {
	r := NewRouter(Options{Engine: failingEngine{err: context.Canceled}})
	w := do(t, r, http.MethodPost, "/respond", RespondBody{Token: "t", RoundID: "0123456789abcdef"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.False(t, errors.Is(context.Canceled, paradox.ErrStoreUnavailable))
}
