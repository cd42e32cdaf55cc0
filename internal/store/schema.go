package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is applied once, in order, and tracked in schema_migrations.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "001_usage",
		sql: `
CREATE TABLE IF NOT EXISTS usage_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    provider TEXT NOT NULL,
    task_type TEXT NOT NULL DEFAULT '',
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    ts_unix_nano INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_records_ts ON usage_records (ts_unix_nano);
`,
	},
	{
		name: "002_errors",
		sql: `
CREATE TABLE IF NOT EXISTS provider_errors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    provider TEXT NOT NULL,
    task_type TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL,
    session_id TEXT NOT NULL DEFAULT '',
    ts_unix_nano INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_provider_errors_ts ON provider_errors (ts_unix_nano);
`,
	},
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`); err != nil {
		return fmt.Errorf("ensure schema_migrations table: %w", err)
	}
	for _, m := range migrations {
		if err := apply(ctx, db, m); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO schema_migrations (name) VALUES (?)`, m.name)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("claim migration: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tx.Rollback()
	}
	if _, err := tx.ExecContext(ctx, m.sql); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration sql: %w", err)
	}
	return tx.Commit()
}
