package core

import "time"

// Lockout implements the failure lockout counter.
// Unlike FixedWindow it is charged only by explicit failures and never by checks.
type Lockout struct {
	policy Policy
}

// NewLockout creates a lockout counter with the given policy
func NewLockout(policy Policy) *Lockout {
	return &Lockout{policy: policy}
}

// Policy returns the lockout policy
func (l *Lockout) Policy() Policy {
	return l.policy
}

// Check reports whether the caller holding rec is locked out at now.
// It never changes the record.
func (l *Lockout) Check(rec WindowRecord, now time.Time) CheckResult {
	elapsed := elapsedSince(rec, now)
	locked := rec.Count >= l.policy.Limit && elapsed < l.policy.Window

	remaining := l.policy.Limit - rec.Count
	if remaining < 0 {
		remaining = 0
	}
	if rec.Count >= l.policy.Limit && !locked {
		// Lapsed lockout, the next failure starts a fresh count
		remaining = l.policy.Limit
	}

	result := CheckResult{
		Allowed:   !locked,
		Count:     rec.Count,
		Limit:     l.policy.Limit,
		Remaining: remaining,
	}
	if locked {
		result.ResetAt = rec.LastReset.Add(l.policy.Window)
		result.RetryAfter = l.policy.Window - elapsed
	}
	return result
}

// Fail records one failure and returns the record to store.
// The count saturates at the limit. armed is true when the new count equals
// the limit, which is the moment the lockout clock starts and the shared
// store must set its expiry.
func (l *Lockout) Fail(rec WindowRecord, now time.Time) (next WindowRecord, armed bool) {
	if rec.Count >= l.policy.Limit && elapsedSince(rec, now) >= l.policy.Window {
		// Lockout lapsed; the shared store would have expired the key by now
		rec = WindowRecord{}
	}

	count := rec.Count + 1
	if count > l.policy.Limit {
		count = l.policy.Limit
	}

	next = WindowRecord{LastReset: now, Count: count}
	return next, count == l.policy.Limit
}
