package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ClearedRecordCleaner hard-deletes vault records that were cleared more
// than Retention ago.
type ClearedRecordCleaner struct {
	DB        *sql.DB
	Retention time.Duration
	Log       *zap.Logger
	// OnPurge, if set, is called once per vault key that lost rows.
	OnPurge func(vault string, removed int64)

	now func() time.Time
}

// PurgeOnce removes expired cleared rows and returns the number removed per
// vault key.
func (c *ClearedRecordCleaner) PurgeOnce(ctx context.Context) (map[string]int64, error) {
	now := time.Now
	if c.now != nil {
		now = c.now
	}
	cutoff := now().Add(-c.Retention).Unix()

	rows, err := c.DB.QueryContext(ctx, `
		DELETE FROM vault_records
		 WHERE cleared = true
		   AND version < $1
		RETURNING vault_key
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("purge cleared records: %w", err)
	}
	defer rows.Close()

	removed := make(map[string]int64)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan purged record: %w", err)
		}
		removed[key]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("purge cleared records: %w", err)
	}

	log := c.logger()
	for key, n := range removed {
		log.Info("purged cleared vault records", zap.String("vault", key), zap.Int64("removed", n))
		if c.OnPurge != nil {
			c.OnPurge(key, n)
		}
	}
	return removed, nil
}

// Start runs PurgeOnce every interval in a new goroutine until ctx is done.
func (c *ClearedRecordCleaner) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.PurgeOnce(ctx); err != nil {
					c.logger().Error("failed to purge cleared vault records", zap.Error(err))
				}
			}
		}
	}()
}

func (c *ClearedRecordCleaner) logger() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}
