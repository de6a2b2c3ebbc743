package paradox

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/paradox/behavior"
	"github.com/MrEthical07/paradox/challenge"
	internalaudit "github.com/MrEthical07/paradox/internal/audit"
	"github.com/MrEthical07/paradox/session"
	"github.com/MrEthical07/paradox/token"
	"github.com/MrEthical07/paradox/verdict"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/MrEthical07/paradox"

// Builder assembles an [Engine]. A Builder is single use.
//
// Builder instances are intended to be configured during initialization and then treated as immutable.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  session.Store

	generator challenge.Generator
	checker   challenge.AnswerChecker
	auditSink AuditSink
	logger    *slog.Logger
	tracer    trace.TracerProvider
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis stores sessions in Redis. It is ignored when [Builder.WithStore]
// is also used.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the session store. The engine does not close a store it
// did not create.
func (b *Builder) WithStore(store session.Store) *Builder {
	b.store = store
	return b
}

// WithGenerator sets the challenge generator. The default is the built-in
// [challenge.Catalog]. A generator that also implements
// [challenge.AnswerChecker] checks its own answers unless WithChecker is used.
func (b *Builder) WithGenerator(g challenge.Generator) *Builder {
	b.generator = g
	return b
}

func (b *Builder) WithChecker(c challenge.AnswerChecker) *Builder {
	b.checker = c
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. The default discards output.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithTracerProvider sets the provider for engine spans. The default is the
// global otel provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracer = tp
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock overrides time.Now for every time-dependent decision.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build validates the configuration and returns a ready [Engine].
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	codec, err := token.NewCodec(tokenConfig(cfg, clock))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	scorer, err := verdict.New(cfg.Verdict)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// -------- SESSION STORE --------
	storeOpts := session.Options{
		Prefix:        cfg.Session.KeyPrefix,
		TerminalGrace: cfg.Session.TerminalGrace,
		Now:           clock,
	}
	store := b.store
	ownsStore := false
	switch {
	case store != nil:
	case b.redis != nil:
		store = session.NewRedisStore(b.redis, storeOpts)
	default:
		logger.Warn("no session store configured, using in-process memory store")
		store = session.NewMemoryStore(storeOpts)
		ownsStore = true
	}

	// -------- GENERATOR --------
	generator := b.generator
	if generator == nil {
		generator = challenge.NewCatalog(nil)
	}
	checker := b.checker
	if checker == nil {
		if c, ok := generator.(challenge.AnswerChecker); ok {
			checker = c
		} else {
			checker = challenge.DigestChecker{}
		}
	}

	tp := b.tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	engine := &Engine{
		config:     cfg,
		store:      store,
		ownsStore:  ownsStore,
		codec:      codec,
		verdict:    scorer,
		normalizer: behavior.NewNormalizer(cfg.Behavior),
		generator:  generator,
		checker:    checker,
		metrics:    NewMetrics(cfg.Metrics),
		logger:     logger,
		tracer:     tp.Tracer(instrumentationName),
		clock:      clock,
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		// A lost terminal event hides the outcome of a whole session.
		Retain: []string{auditEventSessionTerminal},
	}, b.auditSink)

	b.built = true

	return engine, nil
}

// roundTokenTTL outlives the round by the terminal grace so a late answer
// still verifies and reaches the round expiry path instead of being denied.
func roundTokenTTL(cfg Config) time.Duration {
	return cfg.Session.RoundTTL + cfg.Session.TerminalGrace
}

func tokenConfig(cfg Config, clock func() time.Time) token.Config {
	tc := token.Config{
		Secret: []byte(cfg.Token.Secret),
		Method: token.Method(cfg.Token.Method),
		Issuer: cfg.Token.Issuer,
		TTL:    roundTokenTTL(cfg),
		Skew:   cfg.Token.Skew,
		KeyID:  cfg.Token.KeyID,
		Now:    clock,
	}
	if len(cfg.Token.PreviousKeys) > 0 {
		tc.VerifyKeys = make(map[string][]byte, len(cfg.Token.PreviousKeys)+1)
		for kid, key := range cfg.Token.PreviousKeys {
			tc.VerifyKeys[kid] = []byte(key)
		}
		tc.VerifyKeys[cfg.Token.KeyID] = []byte(cfg.Token.Secret)
	}
	return tc
}
