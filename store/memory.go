package store

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/KanavDutta/windowfence/core"
)

// MemoryStore provides thread-safe in-memory storage for window records.
// Records are private to the process. By default the store is unbounded and
// records never expire on their own; WithMaxEntries and Sweep bound it.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List // Most recently written at the front
	maxEntries int
	now        func() time.Time
}

// memoryEntry wraps a record with metadata for eviction
type memoryEntry struct {
	key       string
	record    core.WindowRecord
	expiresAt time.Time // Zero when written without a ttl
}

// Ensure MemoryStore implements AtomicStore interface
var _ AtomicStore = (*MemoryStore)(nil)

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithMaxEntries caps the number of records. When the cap is exceeded the
// least recently written record is evicted. Zero means unbounded.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// WithMemoryClock sets the clock used to compute and sweep expiries
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Read retrieves the record for a given key
func (s *MemoryStore) Read(ctx context.Context, key string) (core.WindowRecord, error) {
	if err := ctx.Err(); err != nil {
		return core.WindowRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return core.WindowRecord{}, nil
	}
	return el.Value.(*memoryEntry).record, nil
}

// Write stores the record for a given key
func (s *MemoryStore) Write(ctx context.Context, key string, rec core.WindowRecord, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeLocked(key, rec, ttl)
	return nil
}

// writeLocked upserts a record. MUST be called with s.mu locked.
func (s *MemoryStore) writeLocked(key string, rec core.WindowRecord, ttl time.Duration) {
	el, ok := s.entries[key]
	if !ok {
		el = s.order.PushFront(&memoryEntry{key: key})
		s.entries[key] = el
	} else {
		s.order.MoveToFront(el)
	}

	entry := el.Value.(*memoryEntry)
	entry.record = rec
	switch {
	case ttl > 0:
		entry.expiresAt = s.now().Add(ttl)
	case !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt):
		// A lapsed record is gone on Redis, so this write starts a key without expiry
		entry.expiresAt = time.Time{}
	}

	if s.maxEntries > 0 {
		for s.order.Len() > s.maxEntries {
			s.removeLocked(s.order.Back())
		}
	}
}

// removeLocked drops an element. MUST be called with s.mu locked.
func (s *MemoryStore) removeLocked(el *list.Element) {
	entry := el.Value.(*memoryEntry)
	s.order.Remove(el)
	delete(s.entries, entry.key)
}

// Delete removes the record for a given key
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.removeLocked(el)
	}
	return nil
}

// CheckAndIncrement runs the fixed window check for key under the store lock
func (s *MemoryStore) CheckAndIncrement(ctx context.Context, key string, policy core.Policy, now time.Time) (core.CheckResult, error) {
	if err := ctx.Err(); err != nil {
		return core.CheckResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var rec core.WindowRecord
	if el, ok := s.entries[key]; ok {
		rec = el.Value.(*memoryEntry).record
	}

	next, result := core.NewFixedWindow(policy).Check(rec, now)
	if result.Allowed {
		s.writeLocked(key, next, policy.Window)
	}
	return result, nil
}

// Clear removes all records
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*list.Element)
	s.order.Init()
}

// Count returns the number of records held
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Sweep removes records whose write ttl has passed.
// Records written without a ttl are kept. Returns the number removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0

	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		entry := el.Value.(*memoryEntry)
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			s.removeLocked(el)
			removed++
		}
		el = prev
	}

	return removed
}

// StartBackgroundCleanup starts a goroutine that periodically sweeps expired records.
// Call the returned function to stop the cleanup goroutine.
func (s *MemoryStore) StartBackgroundCleanup(interval time.Duration) func() {
	if interval <= 0 {
		// Return no-op function if cleanup is disabled
		return func() {}
	}

	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}
