package windowfence

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/KanavDutta/windowfence/core"
	"github.com/KanavDutta/windowfence/store"
)

// FailedLimiter locks a caller out after too many failures.
// Checks never count; failures are reported with FailUp and cleared with Reset.
type FailedLimiter interface {
	// Locked checks a prebuilt lockout key without counting.
	// A locked caller returns the decision together with the policy error.
	Locked(ctx context.Context, key string) (*Decision, error)

	// Check builds the lockout key of the identity and calls Locked
	Check(ctx context.Context, id Identity) (*Decision, error)

	// FailUp records one failure for the identity
	FailUp(ctx context.Context, id Identity) error

	// Reset clears the failures of the identity. Resetting an unknown caller is a no-op.
	Reset(ctx context.Context, id Identity) error

	// Guard runs fn only when the identity is not locked out
	Guard(ctx context.Context, id Identity, fn func(context.Context) error) error

	// Track is Guard that also records the outcome of fn: a failure on error,
	// a reset on success.
	Track(ctx context.Context, id Identity, fn func(context.Context) error) error

	// Policy returns the failure limit and lockout window
	Policy() core.Policy

	// StartBackgroundCleanup sweeps expired in-memory records every interval.
	// Returns a function to stop the cleanup goroutine.
	StartBackgroundCleanup(interval time.Duration) func()
}

type failedLimiter struct {
	lockout       *core.Lockout
	backend       *backend
	errorPolicy   ErrorPolicy
	logger        *logrus.Logger
	now           func() time.Time
	denyAnonymous bool
}

// NewFailedLimiter creates a FailedLimiter that locks a caller out for window
// once limit failures have been recorded. The lockout window starts at the
// failure that reaches the limit.
//
// Example:
//
//	lockout, err := NewFailedLimiter(5, 15*time.Minute, WithRedis(client))
//	...
//	if err := lockout.Check(ctx, id); err != nil { ... }
//	if !passwordOK {
//	    lockout.FailUp(ctx, id)
//	} else {
//	    lockout.Reset(ctx, id)
//	}
func NewFailedLimiter(limit int64, window time.Duration, opts ...Option) (FailedLimiter, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, err
	}
	return newFailedLimiter(core.Policy{Limit: limit, Window: window}, s)
}

func newFailedLimiter(policy core.Policy, s *settings) (*failedLimiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: failed limit: %w", ErrInvalidConfig, err)
	}

	// The rate limiter is the only user of the atomic path
	bs := *s
	bs.atomic = false
	b, err := newBackend(KindFailed, store.FailureFields, &bs)
	if err != nil {
		return nil, err
	}

	return &failedLimiter{
		lockout:       core.NewLockout(policy),
		backend:       b,
		errorPolicy:   s.errorPolicy.withDefaults(KindFailed, policy.Window),
		logger:        s.logger,
		now:           s.now,
		denyAnonymous: s.denyAnonymous,
	}, nil
}

// Policy returns the failure limit and lockout window
func (fl *failedLimiter) Policy() core.Policy {
	return fl.lockout.Policy()
}

// Locked reports whether the caller behind key is locked out.
func (fl *failedLimiter) Locked(ctx context.Context, key string) (*Decision, error) {
	if key == "" {
		return anonymous(KindFailed, fl.Policy(), fl.denyAnonymous, fl.errorPolicy)
	}

	now := fl.now()
	var rec core.WindowRecord
	err := fl.backend.do(func() error {
		var err error
		rec, err = fl.backend.store.Read(ctx, key)
		return err
	})
	if err != nil {
		return fl.checkFailed(key, err)
	}

	d := newDecision(key, fl.lockout.Check(rec, now))
	fl.record(d)
	if !d.Allowed {
		fl.logger.WithFields(logrus.Fields{
			"kind":  KindFailed,
			"key":   key,
			"count": d.Count,
		}).Debug("caller locked out")
		return d, fl.errorPolicy.build(KindFailed, d)
	}
	return d, nil
}

// Check builds the lockout key of the identity and checks it
func (fl *failedLimiter) Check(ctx context.Context, id Identity) (*Decision, error) {
	return fl.Locked(ctx, id.Key(KindFailed))
}

// FailUp records a failure. The store expiry is set only when the failure
// count reaches the limit, so the lockout lasts one window from that failure.
func (fl *failedLimiter) FailUp(ctx context.Context, id Identity) error {
	key := id.Key(KindFailed)
	if key == "" {
		return nil
	}

	policy := fl.Policy()
	now := fl.now()

	var armed bool
	err := fl.backend.do(func() error {
		rec, err := fl.backend.store.Read(ctx, key)
		if err != nil {
			return err
		}
		var next core.WindowRecord
		next, armed = fl.lockout.Fail(rec, now)

		var ttl time.Duration
		if armed {
			ttl = policy.Window
		}
		return fl.backend.store.Write(ctx, key, next, ttl)
	})
	if err != nil {
		return fl.updateFailed("fail_up", key, err)
	}

	if armed {
		fl.logger.WithFields(logrus.Fields{
			"kind":   KindFailed,
			"key":    key,
			"window": policy.Window,
		}).Info("failure limit reached, caller locked out")
	}
	return nil
}

// Reset deletes the failure record of the identity
func (fl *failedLimiter) Reset(ctx context.Context, id Identity) error {
	key := id.Key(KindFailed)
	if key == "" {
		return nil
	}

	err := fl.backend.do(func() error {
		return fl.backend.store.Delete(ctx, key)
	})
	if err != nil {
		return fl.updateFailed("reset", key, err)
	}
	return nil
}

// Guard runs fn when the identity is not locked out
func (fl *failedLimiter) Guard(ctx context.Context, id Identity, fn func(context.Context) error) error {
	if _, err := fl.Check(ctx, id); err != nil {
		return err
	}
	return fn(ctx)
}

// Track runs fn behind the lockout check and records its outcome.
// The error of fn is returned unchanged; bookkeeping errors are returned
// only when fn succeeded.
func (fl *failedLimiter) Track(ctx context.Context, id Identity, fn func(context.Context) error) error {
	if _, err := fl.Check(ctx, id); err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		if failErr := fl.FailUp(ctx, id); failErr != nil {
			fl.logger.WithFields(logrus.Fields{
				"kind":  KindFailed,
				"error": failErr,
			}).Warn("failed to record failure")
		}
		return err
	}
	return fl.Reset(ctx, id)
}

// StartBackgroundCleanup starts a goroutine that periodically drops expired records.
func (fl *failedLimiter) StartBackgroundCleanup(interval time.Duration) func() {
	return fl.backend.startCleanup(interval)
}

func (fl *failedLimiter) checkFailed(key string, err error) (*Decision, error) {
	if isContextError(err) {
		return nil, err
	}
	if raised := fl.backend.failure("check", key, err); raised != nil {
		return nil, raised
	}

	policy := fl.Policy()
	d := &Decision{
		Allowed:  fl.backend.mode == FailOpen,
		Key:      key,
		Limit:    policy.Limit,
		Degraded: true,
	}
	fl.record(d)
	if !d.Allowed {
		return d, fl.errorPolicy.build(KindFailed, d)
	}
	d.Remaining = policy.Limit
	return d, nil
}

// updateFailed handles a store error during FailUp or Reset. Only the raise
// mode surfaces it; the other modes have already decided the call.
func (fl *failedLimiter) updateFailed(op, key string, err error) error {
	if isContextError(err) {
		return err
	}
	return fl.backend.failure(op, key, err)
}

func (fl *failedLimiter) record(d *Decision) {
	if fl.backend.metrics != nil {
		fl.backend.metrics.RecordDecision(string(KindFailed), d.Key, d.Allowed)
	}
}
