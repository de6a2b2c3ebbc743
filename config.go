package paradox

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/paradox/behavior"
	"github.com/MrEthical07/paradox/verdict"
	"github.com/go-playground/validator/v10"
)

// Config is the full engine configuration. Obtain one from [DefaultConfig] or
// [LoadConfig], adjust it, and hand it to [Builder.WithConfig].
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Token     TokenConfig     `yaml:"token"`
	Session   SessionConfig   `yaml:"session"`
	Verdict   verdict.Config  `yaml:"verdict"`
	Behavior  behavior.Config `yaml:"behavior"`
	Generator GeneratorConfig `yaml:"generator"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls round token signing.
type TokenConfig struct {
	// Secret is the HMAC key. It must be at least 32 bytes.
	Secret string `yaml:"secret" validate:"required,min=32"`
	Method string `yaml:"method" validate:"oneof=hs256 hs384 hs512"`
	Issuer string `yaml:"issuer"`
	// Skew is the tolerated clock difference when checking iat and exp.
	Skew  time.Duration `yaml:"skew" validate:"gte=0"`
	KeyID string        `yaml:"key_id"`
	// PreviousKeys are retired secrets still accepted for verification, by kid.
	PreviousKeys map[string]string `yaml:"previous_keys"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig bounds session and round lifetimes.
type SessionConfig struct {
	// TTL is the absolute session lifetime.
	TTL time.Duration `yaml:"ttl" validate:"gt=0"`
	// RoundTTL is how long a single round may stay unanswered. Round tokens
	// live RoundTTL+TerminalGrace so a late answer still lands as an expiry.
	RoundTTL time.Duration `yaml:"round_ttl" validate:"gt=0"`
	// TerminalGrace keeps finished records so late retries see a terminal
	// status, and extends round token lifetime past RoundTTL.
	TerminalGrace     time.Duration `yaml:"terminal_grace" validate:"gt=0"`
	InitialDifficulty int           `yaml:"initial_difficulty" validate:"gte=1"`
	MaxAnswerLength   int           `yaml:"max_answer_length" validate:"gte=1"`
	// KeyPrefix namespaces session keys in shared backends.
	KeyPrefix string `yaml:"key_prefix"`
}

/*
====================================
GENERATOR CONFIG
====================================
*/

// GeneratorConfig bounds calls into the challenge generator.
type GeneratorConfig struct {
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size" validate:"gte=0"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters and the respond latency histogram.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig holds per-client-IP request budgets enforced by the HTTP
// transport. Windows are fixed and one minute long.
type RateLimitConfig struct {
	Enabled          bool `yaml:"enabled"`
	SessionPerMinute int  `yaml:"session_per_minute" validate:"gte=0"`
	RespondPerMinute int  `yaml:"respond_per_minute" validate:"gte=0"`
	// Backend is "redis" for a shared fixed window or "local" for an
	// in-process token bucket.
	Backend string `yaml:"backend" validate:"oneof=redis local"`
}

/*
====================================
STORE / SERVER CONFIG
====================================
*/

// StoreConfig selects the session store driver used by the CLI.
type StoreConfig struct {
	Driver     string `yaml:"driver" validate:"oneof=memory redis badger"`
	RedisURL   string `yaml:"redis_url"`
	BadgerPath string `yaml:"badger_path"`
	// ReapInterval is the period of the background expiry sweep. Zero disables it.
	ReapInterval time.Duration `yaml:"reap_interval" validate:"gte=0"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	// TrustedProxies lists the proxy addresses or CIDRs whose X-Forwarded-For
	// is believed. Empty means the socket peer is the client.
	TrustedProxies []string `yaml:"trusted_proxies" validate:"omitempty,dive,cidr|ip"`
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns the stock configuration. Token.Secret is empty and
// must be provided.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Method: "hs256",
			Issuer: "paradox",
			Skew:   30 * time.Second,
		},
		Session: SessionConfig{
			TTL:               10 * time.Minute,
			RoundTTL:          2 * time.Minute,
			TerminalGrace:     time.Minute,
			InitialDifficulty: 1,
			MaxAnswerLength:   1000,
			KeyPrefix:         "pdx",
		},
		Verdict:  verdict.DefaultConfig(),
		Behavior: behavior.DefaultConfig(),
		Generator: GeneratorConfig{
			Timeout: 2 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:          true,
			SessionPerMinute: 5,
			RespondPerMinute: 10,
			Backend:          "local",
		},
		Store: StoreConfig{
			Driver:       "memory",
			ReapInterval: 30 * time.Second,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	if cfg.Token.PreviousKeys != nil {
		out.Token.PreviousKeys = make(map[string]string, len(cfg.Token.PreviousKeys))
		for kid, key := range cfg.Token.PreviousKeys {
			out.Token.PreviousKeys[kid] = key
		}
	}
	if cfg.Server.TrustedProxies != nil {
		out.Server.TrustedProxies = append([]string(nil), cfg.Server.TrustedProxies...)
	}
	return out
}

/*
====================================
VALIDATION
====================================
*/

var (
	structValidator     *validator.Validate
	structValidatorOnce sync.Once
)

func configValidator() *validator.Validate {
	structValidatorOnce.Do(func() {
		structValidator = validator.New(validator.WithRequiredStructEnabled())
	})
	return structValidator
}

// Validate checks field ranges and cross-field constraints. The returned error
// names the first offending field.
func (c *Config) Validate() error {
	if err := configValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("%s failed %q check", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag())
		}
		return err
	}

	if err := c.Verdict.Validate(); err != nil {
		return err
	}

	b := c.Behavior
	if b.TooFast <= 0 || b.Quick <= b.TooFast || b.Natural <= b.Quick || b.Slow <= b.Natural {
		return errors.New("Behavior latency edges must be positive and strictly increasing")
	}
	if b.ClockSlack < 0 {
		return errors.New("Behavior ClockSlack must be >= 0")
	}
	if b.MaxHesitate < 1 {
		return errors.New("Behavior MaxHesitate must be >= 1")
	}
	if b.ZeroEntropy < 0 || b.ZeroEntropy >= 1 {
		return errors.New("Behavior ZeroEntropy must be within [0,1)")
	}

	if c.Session.RoundTTL > c.Session.TTL {
		return errors.New("Session RoundTTL must not exceed Session TTL")
	}
	if c.Session.InitialDifficulty+2*c.Verdict.MaxRounds > math.MaxUint16 {
		return errors.New("Session InitialDifficulty leaves no room for escalation")
	}
	if c.Generator.Timeout >= c.Session.RoundTTL {
		return errors.New("Generator Timeout must be shorter than Session RoundTTL")
	}

	if len(c.Token.PreviousKeys) > 0 && strings.TrimSpace(c.Token.KeyID) == "" {
		return errors.New("Token KeyID is required when PreviousKeys is set")
	}
	if _, ok := c.Token.PreviousKeys[c.Token.KeyID]; ok && c.Token.KeyID != "" {
		return errors.New("Token PreviousKeys must not contain the active KeyID")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.RateLimit.Enabled && (c.RateLimit.SessionPerMinute <= 0 || c.RateLimit.RespondPerMinute <= 0) {
		return errors.New("RateLimit budgets must be > 0 when rate limiting is enabled")
	}
	if c.RateLimit.Enabled && c.RateLimit.Backend == "redis" && c.Store.Driver != "redis" {
		return errors.New("RateLimit redis backend requires the redis store driver")
	}

	switch c.Store.Driver {
	case "redis":
		if c.Store.RedisURL == "" {
			return errors.New("Store RedisURL is required for the redis driver")
		}
	case "badger":
		if c.Store.BadgerPath == "" {
			return errors.New("Store BadgerPath is required for the badger driver")
		}
	}

	return nil
}
