package store

import (
	"context"
	"time"

	"github.com/KanavDutta/windowfence/core"
)

// Store defines the interface for window record storage.
// Read and Write are separate calls; the read-modify-write built on top of
// them is not isolated, and two concurrent callers may both pass the check.
type Store interface {
	// Read returns the record for key, or the zero record if none exists.
	// It never creates a record.
	Read(ctx context.Context, key string) (core.WindowRecord, error)

	// Write upserts the record for key. A positive ttl (re)sets the expiry of
	// the key on backends that support it; zero leaves the expiry alone.
	Write(ctx context.Context, key string, rec core.WindowRecord, ttl time.Duration) error

	// Delete removes the record for key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error
}

// AtomicStore is a Store that can run the fixed window check and update in
// one step, closing the race between Read and Write.
type AtomicStore interface {
	Store

	// CheckAndIncrement applies the fixed window check for key at now and
	// stores the outcome with a ttl of the policy window.
	CheckAndIncrement(ctx context.Context, key string, policy core.Policy, now time.Time) (core.CheckResult, error)
}
