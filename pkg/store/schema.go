package store

import "strings"

// schemaDDL is shared between SQLite and Postgres; the primary-key clause is
// the only dialect difference and is substituted per driver.
const schemaDDL = `
-- Integrations: one account's credentials for one provider platform.
-- At most one row per (account, provider). Token fields are mutated only
-- by the token manager during refresh.
CREATE TABLE IF NOT EXISTS integrations (
    id {{PK}},
    account_id BIGINT NOT NULL,
    provider TEXT NOT NULL,            -- 'sungrow', 'deye', 'huawei'
    username TEXT NOT NULL,
    secret TEXT NOT NULL,
    app_key TEXT NOT NULL DEFAULT '',  -- Sungrow
    access_key TEXT NOT NULL DEFAULT '',
    app_id TEXT NOT NULL DEFAULT '',   -- Deye
    app_secret TEXT NOT NULL DEFAULT '',
    company_id TEXT NOT NULL DEFAULT '',
    token TEXT NOT NULL DEFAULT '',
    token_issued_at TIMESTAMP,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    UNIQUE(account_id, provider)
);

CREATE INDEX IF NOT EXISTS idx_integrations_account ON integrations(account_id);

-- Monthly projections: user-authored expected output, bulk-replaced per
-- (account, plant, year).
CREATE TABLE IF NOT EXISTS monthly_projections (
    id {{PK}},
    account_id BIGINT NOT NULL,
    plant_id TEXT NOT NULL,
    month INTEGER NOT NULL,
    year INTEGER NOT NULL,
    projection_kwh DOUBLE PRECISION NOT NULL,
    UNIQUE(account_id, plant_id, month, year)
);

CREATE INDEX IF NOT EXISTS idx_projections_lookup
    ON monthly_projections(account_id, plant_id, year, month);

-- Performance cache: one live entry per (account, kind). Freshness is
-- decided from updated_at alone, never from the payload.
CREATE TABLE IF NOT EXISTS performance_cache (
    id {{PK}},
    account_id BIGINT NOT NULL,
    kind TEXT NOT NULL,                -- 'daily', '7day', '30day'
    payload TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE(account_id, kind)
);
`

// Schema returns the DDL for the given driver.
func Schema(driver string) string {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "pgx" {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	return strings.ReplaceAll(schemaDDL, "{{PK}}", pk)
}
