// Package postgres provides a PostgreSQL domain.Store built on pgx.
// Read-modify-write paths lock the row with SELECT ... FOR UPDATE
// inside the transaction; version columns still guard every update.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nexus-app/nexus/internal/domain"
)

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DefaultPoolConfig returns pool settings suited to a single API node.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConns:        25,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
	}
}

// DB wraps a pgx pool. It implements domain.Store.
type DB struct {
	pool *pgxpool.Pool
}

var _ domain.Store = (*DB)(nil)

// Open connects to dsn, verifies connectivity and runs migrations.
func Open(ctx context.Context, dsn string, pc PoolConfig) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	if pc.MinConns > 0 {
		cfg.MinConns = pc.MinConns
	}
	if pc.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = pc.MaxConnLifetime
	}
	if pc.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = pc.MaxConnIdleTime
	}
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	d := &DB{pool: pool}
	if err := d.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close releases the pool.
func (d *DB) Close() error {
	d.pool.Close()
	return nil
}

// Ping checks database connectivity.
func (d *DB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// View runs fn on the pool without a transaction.
func (d *DB) View(ctx context.Context, fn func(domain.Repos) error) error {
	return fn(&repos{q: d.pool})
}

// Atomic runs fn inside a read-committed transaction with row locks on
// the streak and level reads.
func (d *DB) Atomic(ctx context.Context, fn func(domain.Repos) error) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&repos{q: tx, lock: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// migrate runs idempotent schema migrations.
func (d *DB) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS activity_events (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			target_id   TEXT NOT NULL DEFAULT '',
			kind        TEXT NOT NULL,
			status      TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_user_kind ON activity_events(user_id, kind, occurred_at)`,
		`CREATE TABLE IF NOT EXISTS tracked_entities (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			kind       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_user_kind ON tracked_entities(user_id, kind)`,

		`CREATE TABLE IF NOT EXISTS streaks (
			user_id            TEXT NOT NULL,
			type               TEXT NOT NULL,
			target_id          TEXT NOT NULL DEFAULT '',
			current_streak     INTEGER NOT NULL DEFAULT 0 CHECK (current_streak >= 0),
			longest_streak     INTEGER NOT NULL DEFAULT 0,
			last_activity_date DATE,
			streak_start_date  DATE,
			is_active          BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at         TIMESTAMPTZ NOT NULL,
			version            BIGINT NOT NULL DEFAULT 1,
			PRIMARY KEY (user_id, type, target_id),
			CHECK (longest_streak >= current_streak)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_streaks_active ON streaks(is_active) WHERE is_active`,

		`CREATE TABLE IF NOT EXISTS achievement_definitions (
			id          TEXT PRIMARY KEY,
			code        TEXT NOT NULL UNIQUE,
			name        TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			xp_reward   INTEGER NOT NULL CHECK (xp_reward > 0),
			category    TEXT NOT NULL DEFAULT '',
			rarity      TEXT NOT NULL DEFAULT '',
			icon        TEXT NOT NULL DEFAULT '',
			requirement JSONB NOT NULL,
			is_secret   BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS user_achievements (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			achievement_id TEXT NOT NULL REFERENCES achievement_definitions(id),
			progress       DOUBLE PRECISION NOT NULL,
			earned_at      TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, achievement_id)
		)`,

		`CREATE TABLE IF NOT EXISTS user_levels (
			user_id          TEXT PRIMARY KEY,
			level            INTEGER NOT NULL CHECK (level >= 1),
			current_xp       INTEGER NOT NULL CHECK (current_xp >= 0),
			total_xp         BIGINT NOT NULL CHECK (total_xp >= 0),
			xp_to_next_level INTEGER NOT NULL,
			title            TEXT NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL,
			version          BIGINT NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE IF NOT EXISTS xp_ledger (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			amount          INTEGER NOT NULL CHECK (amount >= 0),
			reason          TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT UNIQUE,
			level_before    INTEGER NOT NULL,
			level_after     INTEGER NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL,
			seq             BIGSERIAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_xp_ledger_user ON xp_ledger(user_id, created_at)`,

		`CREATE TABLE IF NOT EXISTS notifications (
			id         TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			type       TEXT NOT NULL,
			title      TEXT NOT NULL,
			body       TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			shown      BOOLEAN NOT NULL DEFAULT FALSE,
			seq        BIGSERIAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_notif_user ON notifications(user_id, shown, created_at)`,
	}

	for _, m := range migrations {
		if _, err := d.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
