package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed single source of truth for jobs, sessions,
// cron jobs, profiles and settings. All engine loops read and write through
// it; concurrent writers coordinate only via the CAS operations it exposes.
type Store struct {
	db *sql.DB
}

// New creates a Store using an existing *sql.DB connection and runs migrations.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("store migration failed: %w", err)
	}
	return s, nil
}

// Open creates a Store by opening a new SQLite connection.
// path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		return nil, fmt.Errorf("failed to set database pragmas: %w", err)
	}
	return New(db)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			repo TEXT NOT NULL,
			branch TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			session_count INTEGER NOT NULL,
			session_ids TEXT NOT NULL DEFAULT '[]',
			failed_slots INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			background INTEGER NOT NULL DEFAULT 0,
			auto_approval INTEGER NOT NULL DEFAULT 0,
			cron_job_id TEXT NOT NULL DEFAULT '',
			profile_id TEXT NOT NULL DEFAULT 'default',
			branch_deleted_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			branch TEXT NOT NULL DEFAULT '',
			pr_status TEXT NOT NULL DEFAULT '',
			job_id TEXT NOT NULL DEFAULT '',
			create_time DATETIME,
			state_changed_at DATETIME,
			last_synced_at DATETIME,
			approved_at DATETIME,
			retry_count INTEGER NOT NULL DEFAULT 0,
			continue_count INTEGER NOT NULL DEFAULT 0,
			sync_failures INTEGER NOT NULL DEFAULT 0,
			degraded INTEGER NOT NULL DEFAULT 0,
			profile_id TEXT NOT NULL DEFAULT 'default'
		)`,
		`CREATE TABLE IF NOT EXISTS cron_jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			schedule TEXT NOT NULL,
			repo TEXT NOT NULL,
			branch TEXT NOT NULL,
			prompt TEXT NOT NULL DEFAULT '',
			auto_approval INTEGER NOT NULL DEFAULT 0,
			session_count INTEGER NOT NULL DEFAULT 1,
			enabled INTEGER NOT NULL DEFAULT 0,
			last_run_at DATETIME,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			profile_id TEXT NOT NULL DEFAULT 'default'
		)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			profile_id TEXT PRIMARY KEY,
			active_poll_interval INTEGER NOT NULL,
			idle_poll_interval INTEGER NOT NULL,
			pr_status_poll_interval INTEGER NOT NULL,
			default_session_count INTEGER NOT NULL,
			sessions_per_page INTEGER NOT NULL,
			jobs_per_page INTEGER NOT NULL,
			theme TEXT NOT NULL,
			require_plan_approval INTEGER NOT NULL,
			auto_approval_enabled INTEGER NOT NULL,
			auto_approval_interval INTEGER NOT NULL,
			auto_retry_enabled INTEGER NOT NULL,
			auto_retry_max INTEGER NOT NULL,
			auto_continue_enabled INTEGER NOT NULL,
			auto_continue_message TEXT NOT NULL,
			auto_continue_max INTEGER NOT NULL,
			auto_delete_stale_branches INTEGER NOT NULL,
			auto_delete_after_days INTEGER NOT NULL,
			sync_failure_threshold INTEGER NOT NULL,
			max_concurrent_background INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL DEFAULT '',
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_cron_jobs_enabled ON cron_jobs(enabled)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// SaveMetadata stores a key-value pair in the metadata table.
func (s *Store) SaveMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// GetMetadata retrieves a metadata value by key. Missing keys yield "".
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// nullTime converts a time.Time to sql.NullTime, treating zero time as NULL.
func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

// fromNullTime converts back, mapping NULL to the zero time.
func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}
