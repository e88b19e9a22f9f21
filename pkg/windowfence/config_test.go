package windowfence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	config := NewConfig()

	assert.Equal(t, int64(100), config.RateLimit.Limit)
	assert.Equal(t, int64(60), config.RateLimit.WindowSeconds)
	assert.True(t, config.RateLimit.Enabled)
	assert.Equal(t, int64(5), config.FailedLimit.Limit)
	assert.Equal(t, BackendMemory, config.Store.Backend)
	assert.Equal(t, "ip", config.KeyExtractor)
	assert.NoError(t, config.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "defaults", modify: func(c *Config) {}},
		{name: "zero rate limit", modify: func(c *Config) { c.RateLimit.Limit = 0 }, wantErr: true},
		{name: "zero window", modify: func(c *Config) { c.FailedLimit.WindowSeconds = 0 }, wantErr: true},
		{
			name: "disabled limiter is not checked",
			modify: func(c *Config) {
				c.FailedLimit.Enabled = false
				c.FailedLimit.Limit = 0
			},
		},
		{name: "bad status code", modify: func(c *Config) { c.RateLimit.StatusCode = 1000 }, wantErr: true},
		{name: "redis backend", modify: func(c *Config) { c.Store.Backend = "redis" }},
		{name: "unknown backend", modify: func(c *Config) { c.Store.Backend = "memcached" }, wantErr: true},
		{name: "unknown failure mode", modify: func(c *Config) { c.Store.FailureMode = "maybe" }, wantErr: true},
		{name: "negative max entries", modify: func(c *Config) { c.Store.MaxEntries = -1 }, wantErr: true},
		{name: "bad cleanup interval", modify: func(c *Config) { c.Store.CleanupInterval = "often" }, wantErr: true},
		{name: "disabled cleanup", modify: func(c *Config) { c.Store.CleanupInterval = "0" }},
		{
			name: "breaker without timeout",
			modify: func(c *Config) {
				c.Store.Breaker.MaxFailures = 3
				c.Store.Breaker.Timeout = ""
			},
			wantErr: true,
		},
		{name: "bad log level", modify: func(c *Config) { c.LogLevel = "loud" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewConfig()
			tt.modify(config)
			err := config.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "windowfence.yaml")
	yaml := `
rate_limit:
  limit: 3
  window_seconds: 60
  enabled: true

failed_limit:
  limit: 5
  window_seconds: 900
  status_code: 403
  message: "Too many failed logins"
  enabled: true

store:
  backend: redis
  failure_mode: open
  atomic: true
  redis:
    host: redis.internal
    port: 6380
    db: 2
    key_prefix: "app:"
  breaker:
    max_failures: 5
    timeout: 10s

key_extractor: "header:X-API-Key"
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, int64(3), config.RateLimit.Limit)
	assert.Equal(t, 403, config.FailedLimit.StatusCode)
	assert.Equal(t, "Too many failed logins", config.FailedLimit.Message)
	assert.Equal(t, 15*time.Minute, config.FailedLimit.Policy().Window)
	assert.Equal(t, "redis", config.Store.Backend)
	assert.Equal(t, "open", config.Store.FailureMode)
	assert.True(t, config.Store.Atomic)
	assert.Equal(t, "redis.internal:6380", config.Store.Redis.Addr())
	assert.Equal(t, 2, config.Store.Redis.DB)
	assert.Equal(t, "app:", config.Store.Redis.KeyPrefix)
	assert.Equal(t, uint32(5), config.Store.Breaker.MaxFailures)
	assert.Equal(t, "header:X-API-Key", config.KeyExtractor)
	assert.Equal(t, "debug", config.LogLevel)
}

func TestLoadConfigFromFile_Defaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "windowfence.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  limit: 10\n"), 0o600))

	config, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, int64(10), config.RateLimit.Limit)
	assert.Equal(t, int64(60), config.RateLimit.WindowSeconds, "unset fields keep defaults")
	assert.True(t, config.RateLimit.Enabled)
	assert.Equal(t, int64(5), config.FailedLimit.Limit)
	assert.Equal(t, "ip", config.KeyExtractor)
}

func TestLoadConfigFromFile_Errors(t *testing.T) {
	_, err := LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("rate_limit: [unclosed"), 0o600))
	_, err = LoadConfigFromFile(bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("rate_limit:\n  limit: -3\n"), 0o600))
	_, err = LoadConfigFromFile(invalid)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOpen_Memory(t *testing.T) {
	config := NewConfig()
	config.RateLimit.Limit = 2
	config.RateLimit.StatusCode = 503
	config.RateLimit.Message = "busy"
	config.FailedLimit.Limit = 1

	limiters, err := Open(config)
	require.NoError(t, err)
	defer limiters.Close()

	require.NotNil(t, limiters.Rate)
	require.NotNil(t, limiters.Failed)
	require.NotNil(t, limiters.Logger)

	ctx := context.Background()
	id := Identity{Caller: "10.0.0.1", Endpoint: "/search"}

	_, _ = limiters.Rate.Check(ctx, id)
	_, _ = limiters.Rate.Check(ctx, id)
	_, err = limiters.Rate.Check(ctx, id)

	var limitErr *LimitExceededError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, 503, limitErr.StatusCode)
	assert.Equal(t, "busy", limitErr.Message)

	require.NoError(t, limiters.Failed.FailUp(ctx, id))
	_, err = limiters.Failed.Check(ctx, id)
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, 429, limitErr.StatusCode, "per limiter status does not leak")
	assert.Equal(t, "Access is limited for 300 seconds", limitErr.Message)
}

func TestOpen_DisabledLimiter(t *testing.T) {
	config := NewConfig()
	config.FailedLimit.Enabled = false

	limiters, err := Open(config)
	require.NoError(t, err)
	defer limiters.Close()

	assert.NotNil(t, limiters.Rate)
	assert.Nil(t, limiters.Failed)
	assert.NoError(t, limiters.Ping(context.Background()))
}

func TestOpen_Redis(t *testing.T) {
	config := NewConfig()
	config.Store.Backend = BackendRedis
	config.Store.Atomic = true

	// The client connects lazily, so Open succeeds without a server
	limiters, err := Open(config)
	require.NoError(t, err)
	assert.NoError(t, limiters.Close())
	assert.NoError(t, limiters.Close(), "closing twice is safe")
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	config := NewConfig()
	config.RateLimit.Limit = 0
	_, err = Open(config)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Open(NewConfig(), WithLogger(nil))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
