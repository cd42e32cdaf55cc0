// Package store is the local SQLite journal for accounted usage and
// provider errors.
//
// DESIGN: Accounting keeps its buckets in memory. Every logged call is also
// appended here so a restarted gateway can Replay it into a fresh engine.
// Only raw token counts are stored; costs are always derived from current
// rates at read time.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/compresr/llm-gateway/internal/accounting"
	"github.com/compresr/llm-gateway/internal/monitoring"
	"github.com/compresr/llm-gateway/internal/tasks"

	_ "modernc.org/sqlite"
)

const (
	busyMaxRetries     = 8
	busyInitialBackoff = 5 * time.Millisecond
	busyMaxBackoff     = 250 * time.Millisecond
)

// SQLiteStore implements the router's journal.
type SQLiteStore struct {
	Path string
	db   *sql.DB
	// SQLite allows one writer at a time.
	writeMu sync.Mutex
}

// Open opens (creating if needed) the journal at path and applies migrations.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %q: %w", path, err)
	}
	s := &SQLiteStore{Path: path, db: db}

	if err := s.configure(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure sqlite schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) configure(ctx context.Context) error {
	pragmas := []string{
		`PRAGMA journal_mode = WAL;`,
		`PRAGMA synchronous = NORMAL;`,
		`PRAGMA busy_timeout = 5000;`,
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("configure sqlite (%s): %w", strings.TrimSuffix(p, ";"), err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// =============================================================================
// USAGE
// =============================================================================

// AppendUsage journals one accounted call.
func (s *SQLiteStore) AppendUsage(ctx context.Context, rec accounting.CallRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return s.write(ctx, "append usage", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO usage_records (provider, task_type, input_tokens, output_tokens, ts_unix_nano) VALUES (?, ?, ?, ?, ?)`,
			rec.Provider, string(rec.Task), rec.InputTokens, rec.OutputTokens, ts.UnixNano())
		return err
	})
}

// Usage returns journaled calls at or after since, oldest first. A zero
// since returns everything.
func (s *SQLiteStore) Usage(ctx context.Context, since time.Time) ([]accounting.CallRecord, error) {
	var from int64
	if !since.IsZero() {
		from = since.UnixNano()
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT provider, task_type, input_tokens, output_tokens, ts_unix_nano FROM usage_records WHERE ts_unix_nano >= ? ORDER BY ts_unix_nano, id`,
		from)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []accounting.CallRecord
	for rows.Next() {
		var (
			rec  accounting.CallRecord
			task string
			ts   int64
		)
		if err := rows.Scan(&rec.Provider, &task, &rec.InputTokens, &rec.OutputTokens, &ts); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		rec.Task = tasks.TaskType(task)
		rec.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate usage: %w", err)
	}
	return out, nil
}

// ClearUsage deletes every journaled call. Errors are kept.
func (s *SQLiteStore) ClearUsage(ctx context.Context) error {
	return s.write(ctx, "clear usage", func() error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM usage_records`)
		return err
	})
}

// =============================================================================
// ERRORS
// =============================================================================

// AppendError journals one provider failure.
func (s *SQLiteStore) AppendError(ctx context.Context, e monitoring.ErrorEntry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return s.write(ctx, "append error", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO provider_errors (provider, task_type, message, session_id, ts_unix_nano) VALUES (?, ?, ?, ?, ?)`,
			e.Provider, e.TaskType, e.Message, e.SessionID, ts.UnixNano())
		return err
	})
}

// Errors returns up to limit of the most recent failures, oldest first.
// limit <= 0 returns all of them.
func (s *SQLiteStore) Errors(ctx context.Context, limit int) ([]monitoring.ErrorEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT provider, task_type, message, session_id, ts_unix_nano FROM (
    SELECT id, provider, task_type, message, session_id, ts_unix_nano
    FROM provider_errors ORDER BY ts_unix_nano DESC, id DESC LIMIT ?
) ORDER BY ts_unix_nano, id`, limit)
	if err != nil {
		return nil, fmt.Errorf("query errors: %w", err)
	}
	defer rows.Close()

	var out []monitoring.ErrorEntry
	for rows.Next() {
		var (
			e  monitoring.ErrorEntry
			ts int64
		)
		if err := rows.Scan(&e.Provider, &e.TaskType, &e.Message, &e.SessionID, &ts); err != nil {
			return nil, fmt.Errorf("scan error entry: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate errors: %w", err)
	}
	return out, nil
}

// =============================================================================
// WRITES
// =============================================================================

func (s *SQLiteStore) write(ctx context.Context, op string, fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := retryBusy(ctx, fn); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func retryBusy(ctx context.Context, fn func() error) error {
	wait := busyInitialBackoff
	for retries := 0; ; retries++ {
		err := fn()
		if err == nil || !isBusy(err) || retries >= busyMaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait = min(wait*2, busyMaxBackoff)
	}
}

func isBusy(err error) bool {
	v := strings.ToLower(err.Error())
	return strings.Contains(v, "sqlite_busy") || strings.Contains(v, "database is locked")
}
