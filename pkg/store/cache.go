package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetCacheEntry returns the live entry for (account, kind), or nil.
func (s *Store) GetCacheEntry(ctx context.Context, accountID int64, kind string) (*CacheEntry, error) {
	var out CacheEntry
	query := s.rebind(`SELECT id, account_id, kind, payload, updated_at
		FROM performance_cache WHERE account_id = ? AND kind = ?`)
	err := s.db.GetContext(ctx, &out, query, accountID, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cache entry (%d, %s): %w", accountID, kind, err)
	}
	return &out, nil
}

// UpsertCacheEntry replaces the live entry for (account, kind).
func (s *Store) UpsertCacheEntry(ctx context.Context, accountID int64, kind string, payload []byte, updatedAt time.Time) error {
	query := s.rebind(`INSERT INTO performance_cache (account_id, kind, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, kind) DO UPDATE SET
			payload = excluded.payload,
			updated_at = excluded.updated_at`)
	if _, err := s.db.ExecContext(ctx, query, accountID, kind, payload, updatedAt); err != nil {
		return fmt.Errorf("upsert cache entry (%d, %s): %w", accountID, kind, err)
	}
	return nil
}
