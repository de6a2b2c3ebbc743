package paradox

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables applied by [LoadConfig] after the file.
const (
	EnvSecretKey        = "PARADOX_SECRET_KEY"
	EnvRedisURL         = "PARADOX_REDIS_URL"
	EnvMaxRounds        = "PARADOX_MAX_ROUNDS"
	EnvMinPassingRounds = "PARADOX_MIN_PASSING_ROUNDS"
	EnvTokenSkewSeconds = "PARADOX_TOKEN_SKEW_SECONDS"
	EnvAcceptThreshold  = "PARADOX_ACCEPT_THRESHOLD"
	EnvRejectThreshold  = "PARADOX_REJECT_THRESHOLD"
	EnvSessionTTL       = "PARADOX_SESSION_TTL"
)

// LoadConfig reads a YAML file over [DefaultConfig] and then applies
// environment overrides. An empty path skips the file. The result is not
// validated; [Builder.Build] does that.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
		}
	}

	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// WriteConfig writes cfg as YAML, creating parent directories.
func WriteConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

type lookupFunc func(key string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	if v, ok := lookup(EnvSecretKey); ok && v != "" {
		cfg.Token.Secret = v
	}
	if v, ok := lookup(EnvRedisURL); ok && v != "" {
		cfg.Store.RedisURL = v
		cfg.Store.Driver = "redis"
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvMaxRounds, &cfg.Verdict.MaxRounds},
		{EnvMinPassingRounds, &cfg.Verdict.MinPassingRounds},
	}
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, e.key, err)
		}
		*e.dst = n
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{EnvAcceptThreshold, &cfg.Verdict.AcceptThreshold},
		{EnvRejectThreshold, &cfg.Verdict.RejectThreshold},
	}
	for _, e := range floats {
		v, ok := lookup(e.key)
		if !ok || v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, e.key, err)
		}
		*e.dst = f
	}

	seconds := []struct {
		key string
		dst *time.Duration
	}{
		{EnvTokenSkewSeconds, &cfg.Token.Skew},
		{EnvSessionTTL, &cfg.Session.TTL},
	}
	for _, e := range seconds {
		v, ok := lookup(e.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, e.key, err)
		}
		*e.dst = time.Duration(n) * time.Second
	}

	return nil
}
