// Package sqlite provides SQLite-backed persistence for the orchestrator.
// Uses WAL mode for concurrent reads and crash-safe writes. Implements
// domain.Store.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)
)

// DB wraps a SQLite connection with WAL mode and migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Connection pool settings for SQLite
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS modules (
			id             TEXT PRIMARY KEY,
			capabilities   TEXT NOT NULL,
			status         TEXT NOT NULL,
			last_heartbeat INTEGER NOT NULL,
			score          REAL NOT NULL DEFAULT 0.5
		)`,
		`CREATE INDEX IF NOT EXISTS idx_modules_status ON modules(status)`,
		`CREATE INDEX IF NOT EXISTS idx_modules_heartbeat ON modules(last_heartbeat)`,

		`CREATE TABLE IF NOT EXISTS tasks (
			id            TEXT PRIMARY KEY,
			required_caps TEXT NOT NULL,
			priority      INTEGER NOT NULL DEFAULT 2,
			status        TEXT NOT NULL,
			created_at    INTEGER NOT NULL,
			assigned_at   INTEGER,
			completed_at  INTEGER,
			assigned_to   TEXT,
			error         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_created ON tasks(created_at)`,

		`CREATE TABLE IF NOT EXISTS performance_records (
			module_id     TEXT PRIMARY KEY,
			success_rate  REAL NOT NULL,
			latency_score REAL NOT NULL,
			adaptability  REAL NOT NULL,
			metacognitive REAL NOT NULL,
			observations  INTEGER NOT NULL DEFAULT 0,
			updated_at    INTEGER NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
