package store

import (
	"database/sql"
	"time"
)

// Integration binds one account to one provider platform.
type Integration struct {
	ID            int64          `db:"id" json:"id"`
	AccountID     int64          `db:"account_id" json:"account_id"`
	Provider      string         `db:"provider" json:"provider"`
	Username      string         `db:"username" json:"username"`
	Secret        string         `db:"secret" json:"-"`
	AppKey        string         `db:"app_key" json:"app_key,omitempty"`
	AccessKey     string         `db:"access_key" json:"-"`
	AppID         string         `db:"app_id" json:"app_id,omitempty"`
	AppSecret     string         `db:"app_secret" json:"-"`
	CompanyID     string         `db:"company_id" json:"company_id,omitempty"`
	Token         string         `db:"token" json:"-"`
	TokenIssuedAt sql.NullTime   `db:"token_issued_at" json:"-"`
	Active        bool           `db:"active" json:"active"`
}

// MonthlyProjection is a user-declared expected monthly output in kWh.
type MonthlyProjection struct {
	ID            int64   `db:"id" json:"id"`
	AccountID     int64   `db:"account_id" json:"account_id"`
	PlantID       string  `db:"plant_id" json:"plant_id"`
	Month         int     `db:"month" json:"month"`
	Year          int     `db:"year" json:"year"`
	ProjectionKWh float64 `db:"projection_kwh" json:"projection_kwh"`
}

// CacheEntry is one persisted performance payload for (account, kind).
type CacheEntry struct {
	ID        int64     `db:"id"`
	AccountID int64     `db:"account_id"`
	Kind      string    `db:"kind"`
	Payload   []byte    `db:"payload"`
	UpdatedAt time.Time `db:"updated_at"`
}
