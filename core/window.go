package core

import "time"

// FixedWindow implements the fixed window counter used for request rate limiting
type FixedWindow struct {
	policy Policy
}

// NewFixedWindow creates a fixed window counter with the given policy
func NewFixedWindow(policy Policy) *FixedWindow {
	return &FixedWindow{policy: policy}
}

// Policy returns the policy the window counts against
func (fw *FixedWindow) Policy() Policy {
	return fw.policy
}

// Check determines if a call should be allowed based on the current record.
// It returns the record to store and the check result. A denied call leaves
// the record untouched and must not be written back.
//
// A caller can burst up to twice the limit across a window boundary: the
// limit at the end of one window and the limit again right after it expires.
func (fw *FixedWindow) Check(rec WindowRecord, now time.Time) (WindowRecord, CheckResult) {
	elapsed := elapsedSince(rec, now)
	// A partial record older than the window is expired too, as its Redis ttl would be
	active := rec.Count > 0 && elapsed < fw.policy.Window

	if active && rec.Count >= fw.policy.Limit {
		return rec, fw.Result(false, rec, now)
	}

	next := WindowRecord{LastReset: rec.LastReset, Count: rec.Count + 1}
	if !active {
		// Expired or fresh window starts over at the current call
		next = WindowRecord{LastReset: now, Count: 1}
	}

	return next, fw.Result(true, next, now)
}

// Result builds the check result for a record that has already been decided.
// Stores that run the check on their side use it to report the same numbers.
func (fw *FixedWindow) Result(allowed bool, rec WindowRecord, now time.Time) CheckResult {
	resetAt := rec.LastReset.Add(fw.policy.Window)

	remaining := fw.policy.Limit - rec.Count
	if remaining < 0 {
		remaining = 0
	}

	result := CheckResult{
		Allowed:   allowed,
		Count:     rec.Count,
		Limit:     fw.policy.Limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
	if !allowed {
		result.RetryAfter = resetAt.Sub(now)
		if result.RetryAfter < 0 {
			result.RetryAfter = 0
		}
	}
	return result
}
