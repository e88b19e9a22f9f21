package windowfence

import (
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/KanavDutta/windowfence/store"
)

// Option is a functional option for configuring a limiter.
type Option func(*settings) error

// MetricsRecorder receives one call per decision and per store failure.
// The metrics package provides a Prometheus-backed implementation.
type MetricsRecorder interface {
	RecordDecision(kind, key string, allowed bool)
	RecordBackendError(kind string)
}

// settings collects everything the options configure; both limiters share it
type settings struct {
	redis              redis.UniversalClient
	keyPrefix          string
	store              store.Store
	atomic             bool
	maxEntries         int
	errorPolicy        ErrorPolicy
	logger             *logrus.Logger
	now                func() time.Time
	failureMode        FailureMode
	breakerMaxFailures uint32
	breakerTimeout     time.Duration
	metrics            MetricsRecorder
	denyAnonymous      bool
}

func newSettings(opts []Option) (*settings, error) {
	s := &settings{
		logger:         newDefaultLogger(),
		now:            time.Now,
		failureMode:    FailRaise,
		breakerTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	return s, nil
}

func newDefaultLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

// WithRedis selects the shared Redis backend. A nil client keeps the
// in-memory backend.
func WithRedis(client redis.UniversalClient) Option {
	return func(s *settings) error {
		s.redis = client
		return nil
	}
}

// WithRedisKeyPrefix namespaces every key the Redis backend writes
func WithRedisKeyPrefix(prefix string) Option {
	return func(s *settings) error {
		s.keyPrefix = prefix
		return nil
	}
}

// WithStore sets a custom store for the limiter.
// It takes precedence over WithRedis.
func WithStore(st store.Store) Option {
	return func(s *settings) error {
		if st == nil {
			return fmt.Errorf("%w: store cannot be nil", ErrInvalidConfig)
		}
		s.store = st
		return nil
	}
}

// WithAtomic makes the rate limiter check and count in one store operation.
// The store must implement store.AtomicStore; both built-in stores do.
func WithAtomic() Option {
	return func(s *settings) error {
		s.atomic = true
		return nil
	}
}

// WithMaxEntries bounds the in-memory backend, evicting the least recently
// written key. Examples: 10000, 0 (unbounded)
func WithMaxEntries(n int) Option {
	return func(s *settings) error {
		if n < 0 {
			return fmt.Errorf("%w: max entries cannot be negative", ErrInvalidConfig)
		}
		s.maxEntries = n
		return nil
	}
}

// WithErrorPolicy replaces the whole error policy
func WithErrorPolicy(policy ErrorPolicy) Option {
	return func(s *settings) error {
		s.errorPolicy = policy
		return nil
	}
}

// WithStatus sets the status code and message carried by denials.
// A zero code or empty message keeps the default.
func WithStatus(code int, message string) Option {
	return func(s *settings) error {
		if code != 0 && (code < 100 || code > 599) {
			return fmt.Errorf("%w: invalid status code %d", ErrInvalidConfig, code)
		}
		s.errorPolicy.StatusCode = code
		s.errorPolicy.Message = message
		return nil
	}
}

// WithErrorFactory sets the function that builds denial errors
func WithErrorFactory(factory ErrorFactory) Option {
	return func(s *settings) error {
		if factory == nil {
			return fmt.Errorf("%w: error factory cannot be nil", ErrInvalidConfig)
		}
		s.errorPolicy.Factory = factory
		return nil
	}
}

// WithLogger sets the logger. Without it the limiter logs warnings to stderr.
func WithLogger(logger *logrus.Logger) Option {
	return func(s *settings) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
		}
		s.logger = logger
		return nil
	}
}

// WithClock sets the time source, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(s *settings) error {
		if now == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		s.now = now
		return nil
	}
}

// WithFailureMode sets what happens when the store fails
func WithFailureMode(mode FailureMode) Option {
	return func(s *settings) error {
		parsed, err := ParseFailureMode(string(mode))
		if err != nil {
			return err
		}
		s.failureMode = parsed
		return nil
	}
}

// WithCircuitBreaker stops calling the store after maxFailures consecutive
// failures and probes it again after timeout. Calls rejected by the open
// breaker are handled by the failure mode.
func WithCircuitBreaker(maxFailures uint32, timeout time.Duration) Option {
	return func(s *settings) error {
		if maxFailures == 0 {
			return fmt.Errorf("%w: breaker max failures must be positive", ErrInvalidConfig)
		}
		if timeout <= 0 {
			return fmt.Errorf("%w: breaker timeout must be positive", ErrInvalidConfig)
		}
		s.breakerMaxFailures = maxFailures
		s.breakerTimeout = timeout
		return nil
	}
}

// WithMetrics reports decisions and store failures to m
func WithMetrics(m MetricsRecorder) Option {
	return func(s *settings) error {
		if m == nil {
			return fmt.Errorf("%w: metrics recorder cannot be nil", ErrInvalidConfig)
		}
		s.metrics = m
		return nil
	}
}

// WithDenyAnonymous denies calls whose caller identity is unknown.
// By default such calls are allowed without counting.
func WithDenyAnonymous() Option {
	return func(s *settings) error {
		s.denyAnonymous = true
		return nil
	}
}
