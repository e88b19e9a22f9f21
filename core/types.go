package core

import (
	"errors"
	"time"
)

var (
	// ErrInvalidLimit is returned when a policy limit is not positive
	ErrInvalidLimit = errors.New("limit must be positive")

	// ErrInvalidWindow is returned when a policy window is shorter than one second
	ErrInvalidWindow = errors.New("window must be at least one second")
)

// Policy defines the counting policy of a limiter
type Policy struct {
	Limit  int64         // Maximum events per window
	Window time.Duration // Window length, whole seconds
}

// Validate checks that the policy can drive a window
func (p Policy) Validate() error {
	if p.Limit <= 0 {
		return ErrInvalidLimit
	}
	if p.Window < time.Second {
		return ErrInvalidWindow
	}
	return nil
}

// WindowRecord is the state kept per key.
// The zero value is equivalent to an absent record.
type WindowRecord struct {
	LastReset time.Time // Start of the current window (or time of the last failure)
	Count     int64     // Events counted in the window
}

// IsZero reports whether the record carries no state
func (r WindowRecord) IsZero() bool {
	return r.Count == 0 && r.LastReset.IsZero()
}

// CheckResult contains the result of a check
type CheckResult struct {
	Allowed    bool          // Whether the call may proceed
	Count      int64         // Count after the check
	Limit      int64         // Configured limit
	Remaining  int64         // Calls left in the current window
	ResetAt    time.Time     // When the current window ends
	RetryAfter time.Duration // Time until a denied call may succeed (0 when allowed)
}

// elapsedSince returns how long ago the record was reset.
// An absent record is treated as infinitely old.
func elapsedSince(r WindowRecord, now time.Time) time.Duration {
	if r.LastReset.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(r.LastReset)
}
