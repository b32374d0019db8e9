// Package repository provides persistence implementations for sealed vault
// records using a PostgreSQL database.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PostgresVaultRepository stores sealed vault records in the vault_records table.
// It satisfies securestore.Backend.
type PostgresVaultRepository struct {
	// DB is the database handle for executing queries and transactions.
	DB *sql.DB
}

// NewPostgresVaultRepository creates a new PostgresVaultRepository using the provided *sql.DB.
// db must be a valid connection to a PostgreSQL instance with the vault schema applied.
func NewPostgresVaultRepository(db *sql.DB) *PostgresVaultRepository {
	return &PostgresVaultRepository{DB: db}
}

// Get fetches the sealed record stored under vault/item.
//
//	ctx:   context for cancellation and deadlines
//	vault: key of the vault
//	item:  key of the record within the vault
//
// Returns the sealed bytes and true, or false when no live record exists.
func (r *PostgresVaultRepository) Get(ctx context.Context, vault, item string) ([]byte, bool, error) {
	var data []byte
	err := r.DB.QueryRowContext(ctx, `
		SELECT data FROM vault_records
		WHERE vault_key = $1 AND item_key = $2 AND cleared = false
	`, vault, item).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get record: %w", err)
	}
	return data, true, nil
}

// Put inserts the record or replaces it, reviving a previously cleared row.
func (r *PostgresVaultRepository) Put(ctx context.Context, vault, item string, data []byte) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO vault_records (id, vault_key, item_key, data, version, cleared)
		VALUES ($1, $2, $3, $4, $5, false)
		ON CONFLICT (vault_key, item_key) DO UPDATE SET
			data = EXCLUDED.data,
			version = EXCLUDED.version,
			cleared = false
	`, uuid.NewString(), vault, item, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("put record: %w", err)
	}
	return nil
}

// DeleteAll marks every record of vault as cleared. Cleared rows are removed
// later by db.ClearedRecordCleaner.
func (r *PostgresVaultRepository) DeleteAll(ctx context.Context, vault string) error {
	_, err := r.DB.ExecContext(ctx, `
		UPDATE vault_records SET cleared = true, version = $2
		WHERE vault_key = $1 AND cleared = false
	`, vault, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	return nil
}

// Count returns the number of live records in vault.
func (r *PostgresVaultRepository) Count(ctx context.Context, vault string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM vault_records WHERE vault_key = $1 AND cleared = false
	`, vault).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}
