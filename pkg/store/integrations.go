package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const integrationColumns = `id, account_id, provider, username, secret,
	app_key, access_key, app_id, app_secret, company_id,
	token, token_issued_at, active`

// CreateIntegration inserts a new integration row and fills in its id.
func (s *Store) CreateIntegration(ctx context.Context, in *Integration) error {
	query := s.rebind(`INSERT INTO integrations
		(account_id, provider, username, secret, app_key, access_key,
		 app_id, app_secret, company_id, token, token_issued_at, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	res, err := s.db.ExecContext(ctx, query,
		in.AccountID, in.Provider, in.Username, in.Secret, in.AppKey, in.AccessKey,
		in.AppID, in.AppSecret, in.CompanyID, in.Token, in.TokenIssuedAt, in.Active)
	if err != nil {
		return fmt.Errorf("create integration: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		in.ID = id
	}
	return nil
}

// GetIntegration returns one integration by id, or nil if absent.
func (s *Store) GetIntegration(ctx context.Context, id int64) (*Integration, error) {
	var out Integration
	query := s.rebind(`SELECT ` + integrationColumns + ` FROM integrations WHERE id = ?`)
	err := s.db.GetContext(ctx, &out, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get integration %d: %w", id, err)
	}
	return &out, nil
}

// ListIntegrations returns every integration of an account, active or not.
func (s *Store) ListIntegrations(ctx context.Context, accountID int64) ([]Integration, error) {
	var out []Integration
	query := s.rebind(`SELECT ` + integrationColumns + `
		FROM integrations WHERE account_id = ? ORDER BY id`)
	if err := s.db.SelectContext(ctx, &out, query, accountID); err != nil {
		return nil, fmt.Errorf("list integrations for account %d: %w", accountID, err)
	}
	return out, nil
}

// DeleteIntegration removes one of the account's integrations. Returns
// false when the row does not exist or belongs to another account.
func (s *Store) DeleteIntegration(ctx context.Context, accountID, id int64) (bool, error) {
	query := s.rebind(`DELETE FROM integrations WHERE id = ? AND account_id = ?`)
	res, err := s.db.ExecContext(ctx, query, id, accountID)
	if err != nil {
		return false, fmt.Errorf("delete integration %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete integration %d: %w", id, err)
	}
	return n > 0, nil
}

// ListActiveIntegrations returns every active integration for an account.
func (s *Store) ListActiveIntegrations(ctx context.Context, accountID int64) ([]Integration, error) {
	var out []Integration
	query := s.rebind(`SELECT ` + integrationColumns + `
		FROM integrations WHERE account_id = ? AND active ORDER BY id`)
	if err := s.db.SelectContext(ctx, &out, query, accountID); err != nil {
		return nil, fmt.Errorf("list integrations for account %d: %w", accountID, err)
	}
	return out, nil
}

// ListActiveAccountIDs returns the ids of every account that has at least
// one active integration. Used by the batch refresher.
func (s *Store) ListActiveAccountIDs(ctx context.Context) ([]int64, error) {
	var out []int64
	query := `SELECT DISTINCT account_id FROM integrations WHERE active ORDER BY account_id`
	if err := s.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	return out, nil
}

// SaveToken durably records a freshly obtained token and its issue time.
// The write is a single-row update, so concurrent refreshes of the same
// integration serialize on the row and the last writer wins atomically.
func (s *Store) SaveToken(ctx context.Context, integrationID int64, token string, issuedAt time.Time) error {
	query := s.rebind(`UPDATE integrations SET token = ?, token_issued_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, token, issuedAt, integrationID); err != nil {
		return fmt.Errorf("save token for integration %d: %w", integrationID, err)
	}
	return nil
}

// ClearToken drops a rejected token so the next caller re-authenticates.
func (s *Store) ClearToken(ctx context.Context, integrationID int64) error {
	query := s.rebind(`UPDATE integrations SET token = '', token_issued_at = NULL WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, integrationID); err != nil {
		return fmt.Errorf("clear token for integration %d: %w", integrationID, err)
	}
	return nil
}

// SaveCompanyID records the organization id discovered during a two-phase
// login so later logins can skip the lookup step.
func (s *Store) SaveCompanyID(ctx context.Context, integrationID int64, companyID string) error {
	query := s.rebind(`UPDATE integrations SET company_id = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, companyID, integrationID); err != nil {
		return fmt.Errorf("save company id for integration %d: %w", integrationID, err)
	}
	return nil
}
