// Package sqlite provides the durable adapters: outbox ledger, raw usage
// records, daily rollups, and tenant budgets in a single database file.
// The pure-Go driver keeps the binary CGO-free.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// schema is applied in full on open; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS outbox_entries (
		id           TEXT PRIMARY KEY,
		chat_id      INTEGER NOT NULL,
		message_id   TEXT NOT NULL,
		action_type  TEXT NOT NULL,
		payload      TEXT NOT NULL DEFAULT '{}',
		status       TEXT NOT NULL DEFAULT 'pending',
		retry_count  INTEGER NOT NULL DEFAULT 0,
		next_attempt_at INTEGER NOT NULL DEFAULT 0,
		created_at   INTEGER NOT NULL,
		processed_at INTEGER,
		last_error   TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_outbox_status_created
		ON outbox_entries (status, created_at)`,

	`CREATE TABLE IF NOT EXISTS usage_records (
		id                 TEXT PRIMARY KEY,
		tenant_id          TEXT NOT NULL,
		ts                 INTEGER NOT NULL,
		ai_used            INTEGER NOT NULL DEFAULT 0,
		tokens             INTEGER NOT NULL DEFAULT 0,
		ai_cost            TEXT NOT NULL DEFAULT '0',
		model              TEXT NOT NULL DEFAULT '',
		operation          TEXT NOT NULL DEFAULT '',
		cache_hit          INTEGER NOT NULL DEFAULT 0,
		processing_time_ms REAL NOT NULL DEFAULT 0,
		verdict            TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_tenant_ts
		ON usage_records (tenant_id, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_ts
		ON usage_records (ts)`,

	`CREATE TABLE IF NOT EXISTS daily_rollups (
		tenant_id          TEXT NOT NULL,
		date               TEXT NOT NULL,
		messages_processed INTEGER NOT NULL DEFAULT 0,
		ai_calls_made      INTEGER NOT NULL DEFAULT 0,
		ai_cost            TEXT NOT NULL DEFAULT '0',
		cache_hits         INTEGER NOT NULL DEFAULT 0,
		cache_misses       INTEGER NOT NULL DEFAULT 0,
		avg_processing_ms  REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (tenant_id, date)
	)`,

	`CREATE TABLE IF NOT EXISTS tenant_budgets (
		tenant_id     TEXT PRIMARY KEY,
		monthly_limit TEXT NOT NULL DEFAULT '0',
		total_spent   TEXT NOT NULL DEFAULT '0',
		degrade_mode  TEXT NOT NULL DEFAULT 'strict_rules',
		reset_date    INTEGER NOT NULL
	)`,
}

// DB wraps the sqlite handle shared by the adapters in this package.
type DB struct {
	db *sql.DB
}

// Open opens (creating if needed) the database file and applies the schema.
// WAL mode keeps the outbox dispatcher's writes from blocking readers.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open %s: %w", path, err)
	}
	// The driver serializes writers; a single connection avoids SQLITE_BUSY
	// churn under concurrent outbox and usage writes.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite migrate: %w", err)
		}
	}
	return &DB{db: db}, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping verifies the connection, for health checks.
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// nullableUnix converts a stored unix-milli value to *time.Time.
func nullableUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
