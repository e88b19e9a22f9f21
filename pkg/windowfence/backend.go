package windowfence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/KanavDutta/windowfence/store"
)

// FailureMode selects what a limiter does when its store fails
type FailureMode string

const (
	// FailRaise returns the store error wrapped in ErrBackendUnavailable
	FailRaise FailureMode = "raise"

	// FailOpen allows the call and marks the decision degraded
	FailOpen FailureMode = "open"

	// FailClosed denies the call through the error policy and marks the decision degraded
	FailClosed FailureMode = "closed"
)

// ParseFailureMode parses a failure mode name. The empty string is FailRaise.
func ParseFailureMode(s string) (FailureMode, error) {
	switch FailureMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", FailRaise:
		return FailRaise, nil
	case FailOpen:
		return FailOpen, nil
	case FailClosed:
		return FailClosed, nil
	default:
		return "", fmt.Errorf("%w: unknown failure mode: %s", ErrInvalidConfig, s)
	}
}

// backend is the store of one limiter together with its failure handling
type backend struct {
	store   store.Store
	atomic  store.AtomicStore
	breaker *gobreaker.CircuitBreaker
	mode    FailureMode
	kind    Kind
	logger  *logrus.Logger
	metrics MetricsRecorder
}

func newBackend(kind Kind, fields store.Fields, s *settings) (*backend, error) {
	b := &backend{
		store:   s.store,
		mode:    s.failureMode,
		kind:    kind,
		logger:  s.logger,
		metrics: s.metrics,
	}

	if b.store == nil {
		if s.redis != nil {
			b.store = store.NewRedisStore(s.redis, fields, store.WithKeyPrefix(s.keyPrefix))
		} else {
			b.store = store.NewMemoryStore(
				store.WithMaxEntries(s.maxEntries),
				store.WithMemoryClock(s.now),
			)
		}
	}

	if s.atomic {
		atomic, ok := b.store.(store.AtomicStore)
		if !ok {
			return nil, fmt.Errorf("%w: store %T does not support atomic updates", ErrInvalidConfig, b.store)
		}
		b.atomic = atomic
	}

	if s.breakerMaxFailures > 0 {
		b.breaker = newBreaker(string(kind), s.breakerMaxFailures, s.breakerTimeout)
	}
	return b, nil
}

func newBreaker(name string, maxFailures uint32, timeout time.Duration) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "windowfence-" + name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// A canceled caller says nothing about the store
		IsSuccessful: func(err error) bool {
			return err == nil || isContextError(err)
		},
	})
}

// do runs fn against the store, through the breaker when there is one
func (b *backend) do(fn func() error) error {
	if b.breaker == nil {
		return fn()
	}
	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("breaker (%s): %w", b.breaker.Name(), err)
	}
	return err
}

// failure records a store error. It returns the error to hand back to the
// caller when the failure mode is raise, and nil otherwise.
func (b *backend) failure(op, key string, err error) error {
	if b.metrics != nil {
		b.metrics.RecordBackendError(string(b.kind))
	}

	entry := b.logger.WithFields(logrus.Fields{
		"kind":         b.kind,
		"key":          key,
		"op":           op,
		"failure_mode": b.mode,
		"error":        err,
	})
	if b.mode == FailRaise {
		entry.Error("limiter store failed")
		return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
	}
	entry.Warn("limiter store failed, degrading")
	return nil
}

// startCleanup sweeps expired records of an in-memory store every interval.
// Other stores expire records themselves and get a no-op stop function.
func (b *backend) startCleanup(interval time.Duration) func() {
	if mem, ok := b.store.(*store.MemoryStore); ok && interval > 0 {
		return mem.StartBackgroundCleanup(interval)
	}
	return func() {}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
