// Package sqlite provides SQLite-based persistent storage for Nexus.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/nexus-app/nexus/internal/domain"
)

// FileName is the database file created inside the data directory.
const FileName = "nexus.db"

// DB wraps a SQLite connection with WAL mode and migrations.
// It implements domain.Store.
type DB struct {
	db *sql.DB
}

var _ domain.Store = (*DB)(nil)

// Open creates or opens the SQLite database at dir/nexus.db.
// Enables WAL mode, foreign keys, a 5-second busy timeout and
// immediate-mode transactions.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, FileName)
	dsn := "file:" + dbPath +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"

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
func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// View runs fn against the shared connection without a transaction.
func (d *DB) View(ctx context.Context, fn func(domain.Repos) error) error {
	return fn(&repos{q: d.db})
}

// Atomic runs fn inside a transaction. The single connection serialises
// writers; version checks still guard every update.
func (d *DB) Atomic(ctx context.Context, fn func(domain.Repos) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&repos{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate() error {
	migrations := []string{
		// Accounts and the activity log are written by the surrounding app.
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS activity_events (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			target_id   TEXT NOT NULL DEFAULT '',
			kind        TEXT NOT NULL,
			status      TEXT NOT NULL,
			occurred_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_user_kind ON activity_events(user_id, kind, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS tracked_entities (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_user_kind ON tracked_entities(user_id, kind)`,

		// ─── Streaks ───────────────────────────────────────────────────
		// target_id '' encodes the aggregate streaks so the key stays unique.
		`CREATE TABLE IF NOT EXISTS streaks (
			user_id            TEXT NOT NULL,
			type               TEXT NOT NULL,
			target_id          TEXT NOT NULL DEFAULT '',
			current_streak     INTEGER NOT NULL DEFAULT 0 CHECK (current_streak >= 0),
			longest_streak     INTEGER NOT NULL DEFAULT 0 CHECK (longest_streak >= current_streak),
			last_activity_date TEXT NOT NULL DEFAULT '',
			streak_start_date  TEXT NOT NULL DEFAULT '',
			is_active          BOOLEAN NOT NULL DEFAULT 0,
			updated_at         INTEGER NOT NULL,
			version            INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, type, target_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_streaks_active ON streaks(is_active)`,

		// ─── Achievements ──────────────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS achievement_definitions (
			id          TEXT PRIMARY KEY,
			code        TEXT NOT NULL UNIQUE,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			xp_reward   INTEGER NOT NULL CHECK (xp_reward > 0),
			category    TEXT NOT NULL DEFAULT '',
			rarity      TEXT NOT NULL DEFAULT '',
			icon        TEXT NOT NULL DEFAULT '',
			requirement TEXT NOT NULL,
			is_secret   BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS user_achievements (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			achievement_id TEXT NOT NULL REFERENCES achievement_definitions(id),
			progress       REAL NOT NULL,
			earned_at      INTEGER NOT NULL,
			UNIQUE (user_id, achievement_id)
		)`,

		// ─── Levels & XP ───────────────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS user_levels (
			user_id          TEXT PRIMARY KEY,
			level            INTEGER NOT NULL CHECK (level >= 1),
			current_xp       INTEGER NOT NULL CHECK (current_xp >= 0),
			total_xp         INTEGER NOT NULL CHECK (total_xp >= 0),
			xp_to_next_level INTEGER NOT NULL,
			title            TEXT NOT NULL,
			updated_at       INTEGER NOT NULL,
			version          INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS xp_ledger (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			amount          INTEGER NOT NULL CHECK (amount >= 0),
			reason          TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT UNIQUE,
			level_before    INTEGER NOT NULL,
			level_after     INTEGER NOT NULL,
			created_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_xp_ledger_user ON xp_ledger(user_id, created_at)`,

		// ─── Notifications ─────────────────────────────────────────────
		`CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			type       TEXT NOT NULL,
			title      TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			shown      BOOLEAN NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notif_user ON notifications(user_id, shown, created_at)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
