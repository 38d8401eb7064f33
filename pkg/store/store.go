// Package store persists integrations, monthly projections and cached
// performance results behind a small repository surface. SQLite is the
// default embedded backend; Postgres is selected with driver "pgx".
package store

import (
	"fmt"

	"github.com/jmoiron/sqlx"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the durable repository shared by the token manager, the result
// cache and the projection endpoints.
type Store struct {
	db     *sqlx.DB
	driver string
}

// Open connects to the database and ensures the schema exists.
// driver is "sqlite3" or "pgx"; dsn is a file path or a Postgres DSN.
func Open(driver, dsn string) (*Store, error) {
	if driver == "sqlite3" {
		dsn += "?_foreign_keys=on&_journal_mode=WAL"
	}
	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(Schema(s.driver)); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for advanced queries.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// rebind converts ?-style placeholders to the driver's style.
func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}
