package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/paradox"
	"github.com/MrEthical07/paradox/internal/rate"
	"github.com/MrEthical07/paradox/internal/reaper"
	otelexport "github.com/MrEthical07/paradox/metrics/export/otel"
	promexport "github.com/MrEthical07/paradox/metrics/export/prometheus"
	"github.com/MrEthical07/paradox/middleware"
	"github.com/MrEthical07/paradox/session"
	"github.com/MrEthical07/paradox/transport/httpapi"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName     = "paradox"
	limiterIdleTime = 10 * time.Minute
)

type serveOptions struct {
	addr      string
	dev       bool
	telemetry telemetryOptions
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(cmd.ErrOrStderr(), root.logLevel, root.logFormat)
			if err != nil {
				return err
			}
			cfg, err := paradox.LoadConfig(root.configPath)
			if err != nil {
				return err
			}
			if opts.addr != "" {
				cfg.Server.Addr = opts.addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, opts, logger)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address, overrides server.addr")
	cmd.Flags().BoolVar(&opts.dev, "dev", false, "use an embedded miniredis for sessions and rate limits")
	cmd.Flags().StringVar(&opts.telemetry.Exporter, "telemetry", "none", "telemetry exporter (none, stdout, otlp)")
	cmd.Flags().StringVar(&opts.telemetry.OTLPEndpoint, "otlp-endpoint", "localhost:4317", "OTLP gRPC endpoint")
	cmd.Flags().BoolVar(&opts.telemetry.OTLPInsecure, "otlp-insecure", false, "disable TLS for OTLP")
	cmd.Flags().DurationVar(&opts.telemetry.MetricInterval, "metric-interval", time.Minute, "stdout metric export interval")
	return cmd
}

// service is everything a serve run builds before it starts listening.
type service struct {
	engine  *paradox.Engine
	handler http.Handler
	reaper  *reaper.Reaper
	closers []func() error
}

func (s *service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func runServe(ctx context.Context, cfg paradox.Config, opts *serveOptions, logger *slog.Logger) error {
	opts.telemetry.ServiceName = serviceName
	tel, err := setupTelemetry(ctx, opts.telemetry)
	if err != nil {
		return err
	}

	svc, err := buildService(ctx, cfg, opts.dev, tel, logger)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("shutdown cleanup failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           svc.handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", srv.Addr, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return svc.reaper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		err := srv.Shutdown(shutdownCtx)
		return errors.Join(err, tel.Shutdown(shutdownCtx))
	})
	return g.Wait()
}

func buildService(ctx context.Context, cfg paradox.Config, dev bool, tel *telemetry, logger *slog.Logger) (*service, error) {
	svc := &service{}
	fail := func(err error) (*service, error) {
		_ = svc.Close()
		return nil, err
	}

	if dev {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		svc.closers = append(svc.closers, func() error { mr.Close(); return nil })
		cfg.Store.Driver = "redis"
		cfg.Store.RedisURL = "redis://" + mr.Addr()
		cfg.RateLimit.Backend = "redis"
		logger.Warn("dev mode: sessions live in an embedded miniredis", "addr", mr.Addr())
	}

	builder := paradox.New().
		WithConfig(cfg).
		WithLogger(logger)
	if tel.tracer != nil {
		builder.WithTracerProvider(tel.tracer)
	}
	if cfg.Audit.Enabled {
		builder.WithAuditSink(paradox.NewSlogSink(logger.With("component", "audit")))
	}

	// -------- SESSION STORE --------
	storeOpts := session.Options{
		Prefix:        cfg.Session.KeyPrefix,
		TerminalGrace: cfg.Session.TerminalGrace,
	}
	var client redis.UniversalClient
	switch cfg.Store.Driver {
	case "redis":
		c, err := openRedis(ctx, cfg.Store.RedisURL)
		if err != nil {
			return fail(err)
		}
		client = c
		svc.closers = append(svc.closers, c.Close)
		builder.WithRedis(c)
	case "badger":
		store, err := session.OpenBadgerStore(session.BadgerConfig{
			Path:   cfg.Store.BadgerPath,
			Logger: logger.With("component", "badger"),
		}, storeOpts)
		if err != nil {
			return fail(fmt.Errorf("open badger store: %w", err))
		}
		svc.closers = append(svc.closers, store.Close)
		builder.WithStore(store)
	default:
		store := session.NewMemoryStore(storeOpts)
		svc.closers = append(svc.closers, store.Close)
		builder.WithStore(store)
	}

	engine, err := builder.Build()
	if err != nil {
		return fail(err)
	}
	svc.engine = engine
	svc.closers = append(svc.closers, func() error { engine.Close(); return nil })

	// -------- RATE LIMITING --------
	var (
		limiter middleware.Limiter
		pruners []reaper.Pruner
	)
	if cfg.RateLimit.Enabled {
		rc := rate.Config{
			SessionPerMinute: cfg.RateLimit.SessionPerMinute,
			RespondPerMinute: cfg.RateLimit.RespondPerMinute,
			Prefix:           cfg.Session.KeyPrefix,
		}
		switch {
		case cfg.RateLimit.Backend == "redis" && client != nil:
			limiter = rate.NewRedis(client, rc)
		case cfg.RateLimit.Backend == "redis":
			return fail(fmt.Errorf("%w: redis rate limiting needs the redis store driver", paradox.ErrInvalidConfig))
		default:
			local := rate.NewLocal(rc, time.Now)
			limiter = local
			pruners = append(pruners, local)
		}
	}

	// -------- METRICS --------
	routerOpts := httpapi.Options{
		Engine:         engine,
		Logger:         logger,
		Limiter:        limiter,
		ServiceName:    serviceName,
		TrustedProxies: cfg.Server.TrustedProxies,
	}
	if tel.tracer != nil {
		routerOpts.TracerProvider = tel.tracer
	}
	if cfg.Metrics.Enabled {
		exporter := promexport.NewExporter(engine)
		routerOpts.Metrics = exporter.Handler()
		routerOpts.Registerer = exporter.Registry()

		if tel.meter != nil {
			otelExporter, err := otelexport.NewOTelExporter(tel.meter.Meter(serviceName), engine,
				otelexport.WithAttributes(attribute.String("store", cfg.Store.Driver)))
			if err != nil {
				return fail(fmt.Errorf("register otel metrics: %w", err))
			}
			svc.closers = append(svc.closers, otelExporter.Close)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	svc.handler = httpapi.NewRouter(routerOpts)
	svc.reaper = reaper.New(engine, reaper.Config{
		Interval:  cfg.Store.ReapInterval,
		PruneIdle: limiterIdleTime,
	}, logger.With("component", "reaper"), pruners...)
	return svc, nil
}

func openRedis(ctx context.Context, url string) (redis.UniversalClient, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: store.redis_url is required for the redis driver", paradox.ErrInvalidConfig)
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: store.redis_url: %v", paradox.ErrInvalidConfig, err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", paradox.ErrStoreUnavailable, err)
	}
	return client, nil
}
