package cache

import (
	"context"
	"fmt"
	"sync"
)

// MemoryTier is the process-local cache level.
type MemoryTier struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryTier creates an empty in-process tier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{entries: make(map[string]*Entry)}
}

func (t *MemoryTier) Name() string { return "memory" }

func key(accountID int64, kind string) string {
	return fmt.Sprintf("%d:%s", accountID, kind)
}

func (t *MemoryTier) Get(_ context.Context, accountID int64, kind string) (*Entry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[key(accountID, kind)]
	if !ok {
		return nil, nil
	}
	return e, nil
}

func (t *MemoryTier) Put(_ context.Context, accountID int64, kind string, e *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key(accountID, kind)] = e
	return nil
}
