// Package tokens manages the access-token lifecycle of provider
// integrations: validity against each provider's TTL, serialized refresh,
// and durable persistence of (token, issued-at).
package tokens

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rafamrn/solarsight/pkg/store"
)

// Store is the durable side of the token lifecycle. *store.Store satisfies it.
type Store interface {
	GetIntegration(ctx context.Context, id int64) (*store.Integration, error)
	SaveToken(ctx context.Context, integrationID int64, token string, issuedAt time.Time) error
	ClearToken(ctx context.Context, integrationID int64) error
}

// LoginFunc performs one provider login and returns the new token.
type LoginFunc func(ctx context.Context) (string, error)

// Manager is the single writer of token state. Refreshes of the same
// integration are serialized; a caller that finds the token already
// refreshed by someone else treats that as success.
type Manager struct {
	store Store

	mu    sync.Mutex
	locks map[int64]*sync.Mutex

	now func() time.Time
}

// NewManager creates a token manager over the given store.
func NewManager(s Store) *Manager {
	return &Manager{
		store: s,
		locks: make(map[int64]*sync.Mutex),
		now:   time.Now,
	}
}

// SetClock overrides the clock, for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) lockFor(id int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Valid returns the stored token if it is still inside the TTL. It reads
// the integration's token fields without locking; Ensure and Invalidate
// mutate those fields under the per-integration lock, so concurrent
// callers must go through Ensure instead.
func (m *Manager) Valid(integ *store.Integration, ttl time.Duration) (string, bool) {
	if integ.Token == "" || !integ.TokenIssuedAt.Valid {
		return "", false
	}
	if m.now().Sub(integ.TokenIssuedAt.Time) >= ttl {
		return "", false
	}
	return integ.Token, true
}

// Ensure returns a valid token for the integration, running login only when
// no valid token exists. The integration struct is updated in place so the
// caller's copy reflects the stored state. All token-field access happens
// under the per-integration lock; clients share one Integration pointer, so
// an unlocked fast path would race with a concurrent refresh.
func (m *Manager) Ensure(ctx context.Context, integ *store.Integration, ttl time.Duration, login LoginFunc) (string, error) {
	lock := m.lockFor(integ.ID)
	lock.Lock()
	defer lock.Unlock()

	if tok, ok := m.Valid(integ, ttl); ok {
		return tok, nil
	}

	// Another caller may have refreshed while we waited for the lock.
	fresh, err := m.store.GetIntegration(ctx, integ.ID)
	if err != nil {
		return "", fmt.Errorf("re-read integration %d: %w", integ.ID, err)
	}
	if fresh != nil {
		integ.Token = fresh.Token
		integ.TokenIssuedAt = fresh.TokenIssuedAt
		integ.CompanyID = fresh.CompanyID
		if tok, ok := m.Valid(integ, ttl); ok {
			return tok, nil
		}
	}

	token, err := login(ctx)
	if err != nil {
		return "", err
	}

	issuedAt := m.now()
	if err := m.store.SaveToken(ctx, integ.ID, token, issuedAt); err != nil {
		return "", fmt.Errorf("persist token for integration %d: %w", integ.ID, err)
	}
	integ.Token = token
	integ.TokenIssuedAt.Time = issuedAt
	integ.TokenIssuedAt.Valid = true
	return token, nil
}

// Invalidate drops a token the provider rejected even though the local
// clock considered it valid. The next Ensure re-authenticates.
func (m *Manager) Invalidate(ctx context.Context, integ *store.Integration) error {
	lock := m.lockFor(integ.ID)
	lock.Lock()
	defer lock.Unlock()

	integ.Token = ""
	integ.TokenIssuedAt.Valid = false
	return m.store.ClearToken(ctx, integ.ID)
}
