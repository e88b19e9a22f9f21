package windowfence

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KanavDutta/windowfence/core"
)

var errStoreDown = errors.New("dial tcp 127.0.0.1:6379: connection refused")

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1740730536, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingStore fails every operation and counts the attempts
type failingStore struct {
	calls atomic.Int64
}

func (s *failingStore) Read(ctx context.Context, key string) (core.WindowRecord, error) {
	s.calls.Add(1)
	return core.WindowRecord{}, errStoreDown
}

func (s *failingStore) Write(ctx context.Context, key string, rec core.WindowRecord, ttl time.Duration) error {
	s.calls.Add(1)
	return errStoreDown
}

func (s *failingStore) Delete(ctx context.Context, key string) error {
	s.calls.Add(1)
	return errStoreDown
}

// expiringStore behaves like the Redis backend: a record disappears once its
// ttl has passed, and a write without ttl keeps the current expiry.
type expiringStore struct {
	mu      sync.Mutex
	clock   func() time.Time
	records map[string]expiringRecord
}

type expiringRecord struct {
	rec       core.WindowRecord
	expiresAt time.Time
}

func newExpiringStore(clock func() time.Time) *expiringStore {
	return &expiringStore{clock: clock, records: make(map[string]expiringRecord)}
}

func (s *expiringStore) Read(ctx context.Context, key string) (core.WindowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[key]
	if !ok {
		return core.WindowRecord{}, nil
	}
	if !r.expiresAt.IsZero() && !s.clock().Before(r.expiresAt) {
		delete(s.records, key)
		return core.WindowRecord{}, nil
	}
	return r.rec, nil
}

func (s *expiringStore) Write(ctx context.Context, key string, rec core.WindowRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.records[key]
	r.rec = rec
	if ttl > 0 {
		r.expiresAt = s.clock().Add(ttl)
	}
	s.records[key] = r
	return nil
}

func (s *expiringStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// recorder collects metrics calls
type recorder struct {
	mu          sync.Mutex
	allowed     map[string]int
	denied      map[string]int
	storeErrors map[string]int
}

func newRecorder() *recorder {
	return &recorder{
		allowed:     make(map[string]int),
		denied:      make(map[string]int),
		storeErrors: make(map[string]int),
	}
}

func (r *recorder) RecordDecision(kind, key string, allowed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if allowed {
		r.allowed[kind]++
	} else {
		r.denied[kind]++
	}
}

func (r *recorder) RecordBackendError(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storeErrors[kind]++
}

// statusError is an application error built by a custom factory
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return e.msg }
