package windowfence

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/KanavDutta/windowfence/core"
	"github.com/KanavDutta/windowfence/store"
)

// Config holds the configuration of both limiters and their shared backend.
type Config struct {
	// RateLimit is the per caller and endpoint request rate
	RateLimit LimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// FailedLimit is the per caller failure lockout
	FailedLimit LimitConfig `yaml:"failed_limit" mapstructure:"failed_limit"`

	// Store selects and tunes the backend
	Store StoreConfig `yaml:"store" mapstructure:"store"`

	// KeyExtractor specifies how HTTP adapters identify callers
	// Examples: "ip", "ip-proxy", "header:X-API-Key", "bearer"
	KeyExtractor string `yaml:"key_extractor,omitempty" mapstructure:"key_extractor"`

	// LogLevel is a logrus level name
	LogLevel string `yaml:"log_level,omitempty" mapstructure:"log_level"`
}

// LimitConfig defines one limiter.
type LimitConfig struct {
	Limit         int64  `yaml:"limit" mapstructure:"limit"`
	WindowSeconds int64  `yaml:"window_seconds" mapstructure:"window_seconds"`
	StatusCode    int    `yaml:"status_code,omitempty" mapstructure:"status_code"`
	Message       string `yaml:"message,omitempty" mapstructure:"message"`

	// Enabled allows turning a limiter off without removing its section
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// StoreConfig defines the backend shared by both limiters.
type StoreConfig struct {
	// Backend is "memory" or "redis"
	Backend string `yaml:"backend" mapstructure:"backend"`

	Redis store.RedisConfig `yaml:"redis,omitempty" mapstructure:"redis"`

	// FailureMode is "raise", "open" or "closed"
	FailureMode string `yaml:"failure_mode,omitempty" mapstructure:"failure_mode"`

	// Atomic runs the rate check in one store operation
	Atomic bool `yaml:"atomic,omitempty" mapstructure:"atomic"`

	// MaxEntries bounds the memory backend, 0 is unbounded
	MaxEntries int `yaml:"max_entries,omitempty" mapstructure:"max_entries"`

	// CleanupInterval is how often the memory backend drops expired records
	// Format: "10m", "30s", "0" to disable
	CleanupInterval string `yaml:"cleanup_interval,omitempty" mapstructure:"cleanup_interval"`

	Breaker BreakerConfig `yaml:"breaker,omitempty" mapstructure:"breaker"`
}

// BreakerConfig enables the store circuit breaker when MaxFailures is set.
type BreakerConfig struct {
	MaxFailures uint32 `yaml:"max_failures,omitempty" mapstructure:"max_failures"`
	Timeout     string `yaml:"timeout,omitempty" mapstructure:"timeout"`
}

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		RateLimit: LimitConfig{
			Limit:         100,
			WindowSeconds: 60,
			Enabled:       true,
		},
		FailedLimit: LimitConfig{
			Limit:         5,
			WindowSeconds: 300,
			Enabled:       true,
		},
		Store: StoreConfig{
			Backend:         BackendMemory,
			FailureMode:     string(FailRaise),
			CleanupInterval: "10m",
			Breaker:         BreakerConfig{Timeout: "30s"},
		},
		KeyExtractor: "ip",
		LogLevel:     "warn",
	}
}

// LoadConfigFromFile loads configuration from a YAML file.
// Settings missing from the file keep their NewConfig defaults.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}

	config := NewConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("%w: invalid rate_limit: %v", ErrInvalidConfig, err)
	}
	if err := c.FailedLimit.Validate(); err != nil {
		return fmt.Errorf("%w: invalid failed_limit: %v", ErrInvalidConfig, err)
	}

	switch strings.ToLower(c.Store.Backend) {
	case "", BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("%w: unknown store backend: %s", ErrInvalidConfig, c.Store.Backend)
	}
	if _, err := ParseFailureMode(c.Store.FailureMode); err != nil {
		return err
	}
	if c.Store.MaxEntries < 0 {
		return fmt.Errorf("%w: max_entries cannot be negative", ErrInvalidConfig)
	}
	if _, err := parseDuration(c.Store.CleanupInterval); err != nil {
		return fmt.Errorf("%w: invalid cleanup_interval: %v", ErrInvalidConfig, err)
	}
	if c.Store.Breaker.MaxFailures > 0 {
		timeout, err := parseDuration(c.Store.Breaker.Timeout)
		if err != nil || timeout <= 0 {
			return fmt.Errorf("%w: breaker timeout must be a positive duration", ErrInvalidConfig)
		}
	}
	if c.LogLevel != "" {
		if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Validate checks if a LimitConfig is valid. Disabled limits are not checked.
func (l *LimitConfig) Validate() error {
	if !l.Enabled {
		return nil
	}
	if err := l.Policy().Validate(); err != nil {
		return err
	}
	if l.StatusCode != 0 && (l.StatusCode < 100 || l.StatusCode > 599) {
		return fmt.Errorf("invalid status code %d", l.StatusCode)
	}
	return nil
}

// Policy converts the limit section to a core policy
func (l *LimitConfig) Policy() core.Policy {
	return core.Policy{
		Limit:  l.Limit,
		Window: time.Duration(l.WindowSeconds) * time.Second,
	}
}

// Limiters holds the limiters built from a Config. A disabled limiter is nil.
type Limiters struct {
	Rate   RateLimiter
	Failed FailedLimiter
	Logger *logrus.Logger

	client *redis.Client
	stops  []func()
}

// Open builds both limiters on one backend. Options are applied after the
// configuration, so they override it.
func Open(cfg *Config, opts ...Option) (*Limiters, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base, err := cfg.options()
	if err != nil {
		return nil, err
	}

	l := &Limiters{}
	if strings.EqualFold(cfg.Store.Backend, BackendRedis) {
		l.client = store.NewRedisClient(cfg.Store.Redis)
		base = append(base,
			WithRedis(l.client),
			WithRedisKeyPrefix(cfg.Store.Redis.KeyPrefix),
		)
	}

	interval, _ := parseDuration(cfg.Store.CleanupInterval)

	if cfg.RateLimit.Enabled {
		s, err := newSettings(limitOptions(base, cfg.RateLimit, opts))
		if err != nil {
			l.Close()
			return nil, err
		}
		rate, err := newRateLimiter(cfg.RateLimit.Policy(), s)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.Rate = rate
		l.Logger = s.logger
		l.stops = append(l.stops, rate.StartBackgroundCleanup(interval))
	}

	if cfg.FailedLimit.Enabled {
		s, err := newSettings(limitOptions(base, cfg.FailedLimit, opts))
		if err != nil {
			l.Close()
			return nil, err
		}
		failed, err := newFailedLimiter(cfg.FailedLimit.Policy(), s)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.Failed = failed
		l.Logger = s.logger
		l.stops = append(l.stops, failed.StartBackgroundCleanup(interval))
	}

	return l, nil
}

// Ping checks the Redis connection opened by Open. The memory backend is always reachable.
func (l *Limiters) Ping(ctx context.Context) error {
	if l.client == nil {
		return nil
	}
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	return nil
}

// Close stops background cleanup and closes the Redis client opened by Open.
func (l *Limiters) Close() error {
	for _, stop := range l.stops {
		stop()
	}
	l.stops = nil

	if l.client != nil {
		err := l.client.Close()
		l.client = nil
		return err
	}
	return nil
}

// options translates the store section to options
func (c *Config) options() ([]Option, error) {
	mode, err := ParseFailureMode(c.Store.FailureMode)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithFailureMode(mode),
		WithMaxEntries(c.Store.MaxEntries),
	}
	if c.LogLevel != "" {
		level, err := logrus.ParseLevel(c.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		logger := newDefaultLogger()
		logger.SetLevel(level)
		opts = append(opts, WithLogger(logger))
	}
	if c.Store.Atomic {
		opts = append(opts, WithAtomic())
	}
	if c.Store.Breaker.MaxFailures > 0 {
		timeout, _ := parseDuration(c.Store.Breaker.Timeout)
		opts = append(opts, WithCircuitBreaker(c.Store.Breaker.MaxFailures, timeout))
	}
	return opts, nil
}

func limitOptions(base []Option, limit LimitConfig, extra []Option) []Option {
	opts := make([]Option, 0, len(base)+len(extra)+1)
	opts = append(opts, base...)
	opts = append(opts, WithStatus(limit.StatusCode, limit.Message))
	return append(opts, extra...)
}

// parseDuration accepts Go durations and "0"
func parseDuration(s string) (time.Duration, error) {
	if s == "" || s == "0" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
