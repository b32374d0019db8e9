// Package db opens the Postgres database backing the vault and maintains
// its records table.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS vault_records (
    id TEXT PRIMARY KEY,
    vault_key TEXT NOT NULL,
    item_key TEXT NOT NULL,
    data BYTEA NOT NULL,
    version BIGINT NOT NULL,
    cleared BOOLEAN NOT NULL DEFAULT FALSE,
    UNIQUE (vault_key, item_key)
);
`

// InitPostgres opens the database at dsn and creates the vault schema.
func InitPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}
