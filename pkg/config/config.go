// Package config loads verifier and ledgerd settings from an optional
// YAML file overlaid by HERBIONYX_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all runtime settings.
type Config struct {
	LogLevel string         `yaml:"log_level" json:"log_level"`
	Ledger   LedgerConfig   `yaml:"ledger" json:"ledger"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Verify   VerifyConfig   `yaml:"verify" json:"verify"`
	Evidence EvidenceConfig `yaml:"evidence" json:"evidence"`
	Ledgerd  LedgerdConfig  `yaml:"ledgerd" json:"ledgerd"`
}

// LedgerConfig describes how to reach the ledger REST endpoint.
type LedgerConfig struct {
	URL          string      `yaml:"url" json:"url"`
	RateLimitRPS float64     `yaml:"rate_limit_rps" json:"rate_limit_rps"`
	RateBurst    int         `yaml:"rate_burst" json:"rate_burst"`
	Retry        RetryConfig `yaml:"retry" json:"retry"`
}

// RetryConfig is the caller-level query retry policy.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	BaseMs      int `yaml:"base_ms" json:"base_ms"`
	MaxMs       int `yaml:"max_ms" json:"max_ms"`
	JitterMs    int `yaml:"jitter_ms" json:"jitter_ms"`
}

// CacheConfig enables the Redis query cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr string `yaml:"redis_addr" json:"redis_addr"`
	TTLMs     int    `yaml:"ttl_ms" json:"ttl_ms"`
}

// VerifyConfig tunes the verification orchestrator.
type VerifyConfig struct {
	QueryTimeoutMs int  `yaml:"query_timeout_ms" json:"query_timeout_ms"`
	Provisional    bool `yaml:"provisional" json:"provisional"`
}

// EvidenceConfig sets the content gateway used to build evidence links.
type EvidenceConfig struct {
	Gateway string `yaml:"gateway" json:"gateway"`
}

// LedgerdConfig configures the development ledger. DB is a SQLite path,
// ":memory:", or a postgres:// URL.
type LedgerdConfig struct {
	Addr string `yaml:"addr" json:"addr"`
	DB   string `yaml:"db" json:"db"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Ledger: LedgerConfig{
			URL:          "http://localhost:3001",
			RateLimitRPS: 20,
			RateBurst:    5,
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseMs:      100,
				MaxMs:       2000,
				JitterMs:    50,
			},
		},
		Cache: CacheConfig{TTLMs: 30_000},
		Verify: VerifyConfig{
			QueryTimeoutMs: 10_000,
			Provisional:    true,
		},
		Evidence: EvidenceConfig{Gateway: "https://ipfs.io/ipfs"},
		Ledgerd: LedgerdConfig{
			Addr: ":3001",
			DB:   "herbionyx-ledger.db",
		},
	}
}

// Load reads path (skipped when empty) over the defaults, then applies
// environment overrides, then validates.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("load config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	setString("HERBIONYX_LEDGER_URL", &c.Ledger.URL)
	setString("HERBIONYX_REDIS_ADDR", &c.Cache.RedisAddr)
	setString("HERBIONYX_LOG_LEVEL", &c.LogLevel)
	setString("HERBIONYX_EVIDENCE_GATEWAY", &c.Evidence.Gateway)
	setString("HERBIONYX_LEDGERD_ADDR", &c.Ledgerd.Addr)
	setString("HERBIONYX_LEDGERD_DB", &c.Ledgerd.DB)

	if v := strings.TrimSpace(os.Getenv("HERBIONYX_QUERY_TIMEOUT")); v != "" {
		ms, err := parseMillis(v)
		if err != nil {
			return fmt.Errorf("HERBIONYX_QUERY_TIMEOUT: %w", err)
		}
		c.Verify.QueryTimeoutMs = ms
	}
	return nil
}

// parseMillis accepts a Go duration ("10s", "1500ms") or a bare number
// of milliseconds.
func parseMillis(v string) (int, error) {
	if ms, err := strconv.Atoi(v); err == nil {
		return ms, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return int(d / time.Millisecond), nil
}

// Validate rejects settings the verifier cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.Ledger.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("ledger.url %q must be an http(s) URL", c.Ledger.URL))
	}
	if c.Ledger.RateLimitRPS < 0 {
		errs = append(errs, errors.New("ledger.rate_limit_rps must not be negative"))
	}
	if c.Ledger.RateLimitRPS > 0 && c.Ledger.RateBurst < 1 {
		errs = append(errs, errors.New("ledger.rate_burst must be at least 1 when rate limiting"))
	}
	r := c.Ledger.Retry
	if r.MaxAttempts < 1 {
		errs = append(errs, errors.New("ledger.retry.max_attempts must be at least 1"))
	}
	if r.BaseMs < 0 || r.MaxMs < 0 || r.JitterMs < 0 {
		errs = append(errs, errors.New("ledger.retry delays must not be negative"))
	}
	if r.MaxMs > 0 && r.MaxMs < r.BaseMs {
		errs = append(errs, errors.New("ledger.retry.max_ms must not be below base_ms"))
	}
	if c.Verify.QueryTimeoutMs <= 0 {
		errs = append(errs, errors.New("verify.query_timeout_ms must be positive"))
	}
	if c.Cache.RedisAddr != "" && c.Cache.TTLMs <= 0 {
		errs = append(errs, errors.New("cache.ttl_ms must be positive when the cache is enabled"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}
	return errors.Join(errs...)
}

// QueryTimeout is the orchestrator's querying ceiling.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Verify.QueryTimeoutMs) * time.Millisecond
}

// CacheTTL is how long cached query results live.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMs) * time.Millisecond
}

// RetryDelays returns the retry base, cap and jitter as durations.
func (r RetryConfig) RetryDelays() (base, maxDelay, jitter time.Duration) {
	return time.Duration(r.BaseMs) * time.Millisecond,
		time.Duration(r.MaxMs) * time.Millisecond,
		time.Duration(r.JitterMs) * time.Millisecond
}
