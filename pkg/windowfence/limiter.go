package windowfence

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/KanavDutta/windowfence/core"
	"github.com/KanavDutta/windowfence/store"
)

// RateLimiter charges every call against a fixed window per key.
type RateLimiter interface {
	// Allow checks and counts one call for a prebuilt key.
	// A denied call returns the decision together with the policy error.
	Allow(ctx context.Context, key string) (*Decision, error)

	// Check builds the key from the identity and calls Allow
	Check(ctx context.Context, id Identity) (*Decision, error)

	// Guard runs fn only when Check allows the call
	Guard(ctx context.Context, id Identity, fn func(context.Context) error) error

	// Policy returns the limit and window
	Policy() core.Policy

	// StartBackgroundCleanup sweeps expired in-memory records every interval.
	// Returns a function to stop the cleanup goroutine.
	StartBackgroundCleanup(interval time.Duration) func()
}

// Decision contains the result of a limiter check.
type Decision struct {
	// Allowed indicates whether the call may proceed
	Allowed bool

	// Key is the storage key that was checked
	Key string

	// Count is the number of calls (or failures) in the current window
	Count int64

	// Limit is the configured limit
	Limit int64

	// Remaining is the number of calls left before denial
	Remaining int64

	// ResetAt is when the current window or lockout ends. Zero when unknown.
	ResetAt time.Time

	// RetryAfter is how long to wait before a denied call may succeed
	// This is 0 if Allowed is true
	RetryAfter time.Duration

	// Skipped is set when the caller identity was unknown and nothing was counted
	Skipped bool

	// Degraded is set when the store failed and the failure mode decided
	Degraded bool
}

func newDecision(key string, r core.CheckResult) *Decision {
	return &Decision{
		Allowed:    r.Allowed,
		Key:        key,
		Count:      r.Count,
		Limit:      r.Limit,
		Remaining:  r.Remaining,
		ResetAt:    r.ResetAt,
		RetryAfter: r.RetryAfter,
	}
}

// rateLimiter is the concrete implementation of RateLimiter.
type rateLimiter struct {
	window        *core.FixedWindow
	backend       *backend
	errorPolicy   ErrorPolicy
	logger        *logrus.Logger
	now           func() time.Time
	denyAnonymous bool
}

// NewRateLimiter creates a RateLimiter allowing limit calls per window.
// Without WithRedis or WithStore the counts live in process memory.
//
// Example:
//
//	limiter, err := NewRateLimiter(100, time.Minute,
//	    WithRedis(client),
//	    WithStatus(http.StatusTooManyRequests, "slow down"),
//	)
func NewRateLimiter(limit int64, window time.Duration, opts ...Option) (RateLimiter, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, err
	}
	return newRateLimiter(core.Policy{Limit: limit, Window: window}, s)
}

func newRateLimiter(policy core.Policy, s *settings) (*rateLimiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: rate limit: %w", ErrInvalidConfig, err)
	}

	b, err := newBackend(KindRate, store.RateFields, s)
	if err != nil {
		return nil, err
	}

	return &rateLimiter{
		window:        core.NewFixedWindow(policy),
		backend:       b,
		errorPolicy:   s.errorPolicy.withDefaults(KindRate, policy.Window),
		logger:        s.logger,
		now:           s.now,
		denyAnonymous: s.denyAnonymous,
	}, nil
}

// Policy returns the limit and window
func (rl *rateLimiter) Policy() core.Policy {
	return rl.window.Policy()
}

// Allow checks if a call with the given key is allowed and counts it.
func (rl *rateLimiter) Allow(ctx context.Context, key string) (*Decision, error) {
	if key == "" {
		return anonymous(KindRate, rl.Policy(), rl.denyAnonymous, rl.errorPolicy)
	}

	policy := rl.Policy()
	now := rl.now()

	var result core.CheckResult
	err := rl.backend.do(func() error {
		if rl.backend.atomic != nil {
			res, err := rl.backend.atomic.CheckAndIncrement(ctx, key, policy, now)
			result = res
			return err
		}

		rec, err := rl.backend.store.Read(ctx, key)
		if err != nil {
			return err
		}
		next, res := rl.window.Check(rec, now)
		if res.Allowed {
			// Every counted call refreshes the expiry
			if err := rl.backend.store.Write(ctx, key, next, policy.Window); err != nil {
				return err
			}
		}
		result = res
		return nil
	})
	if err != nil {
		return rl.storeFailed(key, err)
	}

	d := newDecision(key, result)
	rl.record(d)
	if !d.Allowed {
		rl.logger.WithFields(logrus.Fields{
			"kind":  KindRate,
			"key":   key,
			"count": d.Count,
		}).Debug("rate limit exceeded")
		return d, rl.errorPolicy.build(KindRate, d)
	}
	return d, nil
}

// Check builds the rate key of the identity and checks it
func (rl *rateLimiter) Check(ctx context.Context, id Identity) (*Decision, error) {
	return rl.Allow(ctx, id.Key(KindRate))
}

// Guard runs fn when the identity is within its rate
func (rl *rateLimiter) Guard(ctx context.Context, id Identity, fn func(context.Context) error) error {
	if _, err := rl.Check(ctx, id); err != nil {
		return err
	}
	return fn(ctx)
}

// StartBackgroundCleanup starts a goroutine that periodically drops expired records.
func (rl *rateLimiter) StartBackgroundCleanup(interval time.Duration) func() {
	return rl.backend.startCleanup(interval)
}

func (rl *rateLimiter) storeFailed(key string, err error) (*Decision, error) {
	if isContextError(err) {
		return nil, err
	}
	if raised := rl.backend.failure("allow", key, err); raised != nil {
		return nil, raised
	}

	policy := rl.Policy()
	d := &Decision{
		Allowed:  rl.backend.mode == FailOpen,
		Key:      key,
		Limit:    policy.Limit,
		Degraded: true,
	}
	rl.record(d)
	if !d.Allowed {
		return d, rl.errorPolicy.build(KindRate, d)
	}
	return d, nil
}

func (rl *rateLimiter) record(d *Decision) {
	if rl.backend.metrics != nil {
		rl.backend.metrics.RecordDecision(string(KindRate), d.Key, d.Allowed)
	}
}

// anonymous decides a call whose caller is unknown
func anonymous(kind Kind, policy core.Policy, deny bool, errorPolicy ErrorPolicy) (*Decision, error) {
	d := &Decision{
		Allowed: !deny,
		Limit:   policy.Limit,
		Skipped: true,
	}
	if deny {
		return d, errorPolicy.build(kind, d)
	}
	d.Remaining = policy.Limit
	return d, nil
}
