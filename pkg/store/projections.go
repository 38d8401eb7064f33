package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// MonthValue is one month's projected kWh inside a bulk save.
type MonthValue struct {
	Month int     `json:"month"`
	KWh   float64 `json:"kwh"`
}

// ReplaceProjections replaces every projection for (account, plant, year)
// with the given months, in one transaction.
func (s *Store) ReplaceProjections(ctx context.Context, accountID int64, plantID string, year int, months []MonthValue) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin projection replace: %w", err)
	}
	defer tx.Rollback()

	del := s.rebind(`DELETE FROM monthly_projections
		WHERE account_id = ? AND plant_id = ? AND year = ?`)
	if _, err := tx.ExecContext(ctx, del, accountID, plantID, year); err != nil {
		return fmt.Errorf("delete projections: %w", err)
	}

	ins := s.rebind(`INSERT INTO monthly_projections
		(account_id, plant_id, month, year, projection_kwh)
		VALUES (?, ?, ?, ?, ?)`)
	for _, m := range months {
		if _, err := tx.ExecContext(ctx, ins, accountID, plantID, m.Month, year, m.KWh); err != nil {
			return fmt.Errorf("insert projection month %d: %w", m.Month, err)
		}
	}
	return tx.Commit()
}

// GetProjection returns the projection for (account, plant, month, year),
// or nil when none exists. A missing projection is data, not an error.
func (s *Store) GetProjection(ctx context.Context, accountID int64, plantID string, month, year int) (*MonthlyProjection, error) {
	var out MonthlyProjection
	query := s.rebind(`SELECT id, account_id, plant_id, month, year, projection_kwh
		FROM monthly_projections
		WHERE account_id = ? AND plant_id = ? AND month = ? AND year = ?`)
	err := s.db.GetContext(ctx, &out, query, accountID, plantID, month, year)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get projection: %w", err)
	}
	return &out, nil
}

// ListProjections returns a plant's projections for one year, month order.
func (s *Store) ListProjections(ctx context.Context, accountID int64, plantID string, year int) ([]MonthlyProjection, error) {
	var out []MonthlyProjection
	query := s.rebind(`SELECT id, account_id, plant_id, month, year, projection_kwh
		FROM monthly_projections
		WHERE account_id = ? AND plant_id = ? AND year = ?
		ORDER BY month`)
	if err := s.db.SelectContext(ctx, &out, query, accountID, plantID, year); err != nil {
		return nil, fmt.Errorf("list projections: %w", err)
	}
	return out, nil
}
