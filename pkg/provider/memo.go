package provider

import (
	"sync"
	"time"
)

// DefaultMemoTTL guards client-local results against redundant remote calls
// within one process lifetime. Independent of the account-level result cache.
const DefaultMemoTTL = 10 * time.Minute

// Memo is a single-slot, time-boxed cache owned by one client instance.
type Memo[T any] struct {
	mu  sync.Mutex
	ttl time.Duration
	at  time.Time
	ok  bool
	val T

	now func() time.Time
}

// NewMemo creates a memo slot with the given time-to-live.
func NewMemo[T any](ttl time.Duration) *Memo[T] {
	return &Memo[T]{ttl: ttl, now: time.Now}
}

// Get returns the cached value if it is still fresh.
func (m *Memo[T]) Get() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ok || m.now().Sub(m.at) >= m.ttl {
		var zero T
		return zero, false
	}
	return m.val, true
}

// Put stores a value and resets its age.
func (m *Memo[T]) Put(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.val = v
	m.ok = true
	m.at = m.now()
}

// Clear drops the cached value.
func (m *Memo[T]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ok = false
}

// SetClock overrides the clock, for tests.
func (m *Memo[T]) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
