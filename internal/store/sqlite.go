package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"finopstrack/internal/core"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	ErrTaskNotFound    = fmt.Errorf("task %w", core.ErrRecordNotFound)
	ErrSubtaskNotFound = fmt.Errorf("subtask %w", core.ErrRecordNotFound)
	ErrVersionConflict = fmt.Errorf("stale subtask version: %w", core.ErrConflict)
)

// timeLayout is fixed width so that stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps the SQLite database holding tasks, subtasks, the activity log and the alert ledger.
type Store struct {
	DB       *sql.DB
	StateDir string
}

var _ core.Store = (*Store)(nil)

// Open opens the SQLite database located under stateDir and runs migrations.
func Open(ctx context.Context, stateDir string) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure state dir: %w", err)
	}
	dbPath := filepath.Join(stateDir, "finops.sqlite")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows only one writer. A single pooled connection keeps the pragmas
	// below applied and serializes writes within the process.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	timeout := int((3 * time.Second) / time.Millisecond)
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", timeout)); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		DB:       db,
		StateDir: stateDir,
	}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	type mig struct {
		Version string
		SQL     string
	}
	entries := []mig{
		{Version: "0001_init", SQL: mustReadMigration("migrations/0001_init.sql")},
		{Version: "0002_activity_log_no_delete", SQL: mustReadMigration("migrations/0002_activity_log_no_delete.sql")},
	}
	for _, entry := range entries {
		applied, err := isMigrationApplied(ctx, db, entry.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if _, err := db.ExecContext(ctx, entry.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Version, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?)`,
			entry.Version, formatTime(time.Now())); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Version, err)
		}
	}
	return nil
}

func isMigrationApplied(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations WHERE version = ?`, version).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return count > 0, nil
}

func mustReadMigration(path string) string {
	data, err := migrations.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("read migration %s: %v", path, err))
	}
	return string(data)
}

// withTx runs fn inside a transaction, committing on success.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid stored time %q: %w", value, err)
	}
	return t, nil
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return formatTime(*value)
}

func timePtr(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
