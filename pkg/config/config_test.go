package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herbionyx/traceability/pkg/config"
)

var envVars = []string{
	"HERBIONYX_LEDGER_URL",
	"HERBIONYX_QUERY_TIMEOUT",
	"HERBIONYX_REDIS_ADDR",
	"HERBIONYX_LOG_LEVEL",
	"HERBIONYX_EVIDENCE_GATEWAY",
	"HERBIONYX_LEDGERD_ADDR",
	"HERBIONYX_LEDGERD_DB",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range envVars {
		t.Setenv(name, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "herbionyx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// TestLoad_Defaults verifies the verifier boots against a local ledger
// with no file and no environment.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3001", cfg.Ledger.URL)
	assert.Equal(t, 10*time.Second, cfg.QueryTimeout())
	assert.True(t, cfg.Verify.Provisional)
	assert.Empty(t, cfg.Cache.RedisAddr)
	assert.Equal(t, 3, cfg.Ledger.Retry.MaxAttempts)

	base, maxDelay, jitter := cfg.Ledger.Retry.RetryDelays()
	assert.Equal(t, 100*time.Millisecond, base)
	assert.Equal(t, 2*time.Second, maxDelay)
	assert.Equal(t, 50*time.Millisecond, jitter)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
log_level: debug
ledger:
  url: https://ledger.example.org
  retry:
    max_attempts: 5
verify:
  provisional: false
cache:
  redis_addr: localhost:6379
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://ledger.example.org", cfg.Ledger.URL)
	assert.Equal(t, 5, cfg.Ledger.Retry.MaxAttempts)
	assert.Equal(t, 100, cfg.Ledger.Retry.BaseMs, "unset keys keep defaults")
	assert.False(t, cfg.Verify.Provisional)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL())
}

// TestLoad_EnvOverridesFile verifies the environment wins over the file.
func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "ledger:\n  url: https://from-file.example.org\n")
	t.Setenv("HERBIONYX_LEDGER_URL", "http://from-env:3001")
	t.Setenv("HERBIONYX_QUERY_TIMEOUT", "2500ms")
	t.Setenv("HERBIONYX_LEDGERD_DB", ":memory:")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:3001", cfg.Ledger.URL)
	assert.Equal(t, 2500*time.Millisecond, cfg.QueryTimeout())
	assert.Equal(t, ":memory:", cfg.Ledgerd.DB)

	t.Setenv("HERBIONYX_QUERY_TIMEOUT", "750")
	cfg, err = config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 750*time.Millisecond, cfg.QueryTimeout())
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)

	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = config.Load(writeFile(t, "ledger: [unclosed"))
	assert.Error(t, err)

	t.Setenv("HERBIONYX_QUERY_TIMEOUT", "soon")
	_, err = config.Load("")
	assert.ErrorContains(t, err, "HERBIONYX_QUERY_TIMEOUT")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"bad url", func(c *config.Config) { c.Ledger.URL = "ledger:3001" }, "ledger.url"},
		{"zero attempts", func(c *config.Config) { c.Ledger.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"cap below base", func(c *config.Config) { c.Ledger.Retry.MaxMs = 10 }, "max_ms"},
		{"no timeout", func(c *config.Config) { c.Verify.QueryTimeoutMs = 0 }, "query_timeout_ms"},
		{"zero burst", func(c *config.Config) { c.Ledger.RateBurst = 0 }, "rate_burst"},
		{"cache without ttl", func(c *config.Config) { c.Cache.RedisAddr = "localhost:6379"; c.Cache.TTLMs = 0 }, "ttl_ms"},
		{"log level", func(c *config.Config) { c.LogLevel = "loud" }, "log_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	assert.NoError(t, config.Default().Validate())
}
