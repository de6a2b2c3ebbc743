package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/MrEthical07/paradox/internal/rate"
	"github.com/MrEthical07/paradox/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

// maxBodyBytes caps request bodies. Answers are bounded far below this by the
// engine; the cap stops oversized telemetry maps.
const maxBodyBytes = 64 << 10

// Options configures [NewRouter].
type Options struct {
	Engine  Engine
	Logger  *slog.Logger
	Limiter middleware.Limiter
	// Reporter receives rate-limit refusals. It defaults to Engine when the
	// engine implements it.
	Reporter middleware.Reporter
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	// Registerer receives HTTP request metrics when set.
	Registerer prometheus.Registerer
	// ServiceName names otelgin spans. Empty disables HTTP tracing.
	ServiceName    string
	TracerProvider trace.TracerProvider
	// TrustedProxies are the only peers whose X-Forwarded-For sets the
	// client IP used for rate limiting. Nil trusts no proxy.
	TrustedProxies []string
}

// NewRouter builds the gin engine with the full middleware chain.
func NewRouter(opts Options) *gin.Engine {
	r := gin.New()
	if err := r.SetTrustedProxies(opts.TrustedProxies); err != nil {
		routerLogger(opts).Error("invalid trusted proxies, trusting none", "error", err)
		_ = r.SetTrustedProxies(nil)
	}
	r.Use(gin.Recovery())
	if opts.ServiceName != "" {
		var otelOpts []otelgin.Option
		if opts.TracerProvider != nil {
			otelOpts = append(otelOpts, otelgin.WithTracerProvider(opts.TracerProvider))
		}
		r.Use(otelgin.Middleware(opts.ServiceName, otelOpts...))
	}
	r.Use(
		middleware.RequestContext(),
		middleware.SecurityHeaders(),
		middleware.AccessLog(opts.Logger),
		limitBody(maxBodyBytes),
	)
	if opts.Registerer != nil {
		r.Use(newRequestMetrics(opts.Registerer).handler())
	}

	reporter := opts.Reporter
	if reporter == nil {
		reporter, _ = opts.Engine.(middleware.Reporter)
	}
	guard := middleware.GuardConfig{
		Limiter:  opts.Limiter,
		Reporter: reporter,
		Logger:   opts.Logger,
	}

	h := NewHandlers(opts.Engine, opts.Logger)
	r.POST("/session", middleware.RateGuard(guard, rate.ScopeSession), h.HandleStartSession)
	r.POST("/respond", middleware.RateGuard(guard, rate.ScopeRespond), h.HandleRespond)
	r.GET("/health", h.HandleHealth)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return r
}

func routerLogger(opts Options) *slog.Logger {
	if opts.Logger != nil {
		return opts.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}
