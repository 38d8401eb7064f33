package cache

import (
	"context"
	"time"

	"github.com/rafamrn/solarsight/pkg/store"
)

// EntryStore is the persisted side of the cache. *store.Store satisfies it.
type EntryStore interface {
	GetCacheEntry(ctx context.Context, accountID int64, kind string) (*store.CacheEntry, error)
	UpsertCacheEntry(ctx context.Context, accountID int64, kind string, payload []byte, updatedAt time.Time) error
}

// DurableTier persists entries through the store so results survive restarts.
type DurableTier struct {
	store EntryStore
}

// NewDurableTier wraps the store as the coldest cache tier.
func NewDurableTier(s EntryStore) *DurableTier {
	return &DurableTier{store: s}
}

func (t *DurableTier) Name() string { return "store" }

func (t *DurableTier) Get(ctx context.Context, accountID int64, kind string) (*Entry, error) {
	row, err := t.store.GetCacheEntry(ctx, accountID, kind)
	if err != nil || row == nil {
		return nil, err
	}
	return &Entry{Payload: row.Payload, UpdatedAt: row.UpdatedAt}, nil
}

func (t *DurableTier) Put(ctx context.Context, accountID int64, kind string, e *Entry) error {
	return t.store.UpsertCacheEntry(ctx, accountID, kind, e.Payload, e.UpdatedAt)
}
