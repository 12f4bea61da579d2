// Package postgres implements the PostgreSQL persistence layer.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: PLAY SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create play_sessions table
-- Version: 001

-- At most one in-flight session per (user, community). The row IS the
-- Active state of the lifecycle state machine; deleting it is the
-- idempotency guard for session end.
CREATE TABLE IF NOT EXISTS play_sessions (
    user_id VARCHAR(20) NOT NULL,
    community_id VARCHAR(20) NOT NULL,
    game VARCHAR(200) NOT NULL,
    channel_label VARCHAR(200) NOT NULL DEFAULT '',
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, community_id),

    CONSTRAINT nonempty_game CHECK (game <> '')
);

-- Janitor scans for orphaned sessions by age.
CREATE INDEX IF NOT EXISTS idx_play_sessions_started_at ON play_sessions(started_at);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: USER AGGREGATES
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Create user_aggregates table
-- Version: 002

CREATE TABLE IF NOT EXISTS user_aggregates (
    user_id VARCHAR(20) NOT NULL,
    community_id VARCHAR(20) NOT NULL,
    display_name VARCHAR(100) NOT NULL DEFAULT '',
    total_seconds BIGINT NOT NULL DEFAULT 0,
    game_seconds JSONB NOT NULL DEFAULT '{}'::jsonb,
    level INTEGER NOT NULL DEFAULT 0,
    titles JSONB NOT NULL DEFAULT '[]'::jsonb,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, community_id),

    CONSTRAINT valid_total CHECK (total_seconds >= 0),
    CONSTRAINT valid_level CHECK (level >= 0)
);

-- Leaderboard by total time within a community.
CREATE INDEX IF NOT EXISTS idx_user_aggregates_total
    ON user_aggregates(community_id, total_seconds DESC);

-- Per-game leaderboard filters on game_seconds keys.
CREATE INDEX IF NOT EXISTS idx_user_aggregates_games
    ON user_aggregates USING GIN (game_seconds);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATOR
// ══════════════════════════════════════════════════════════════════════════════

// Migration is a single schema migration.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// MigrationStatus describes one known migration and whether it was applied.
type MigrationStatus struct {
	Version   int
	Name      string
	IsApplied bool
	AppliedAt time.Time
}

// migrations lists all known migrations in order.
var migrations = []Migration{
	{Version: 1, Name: "create_play_sessions", SQL: migration001Up},
	{Version: 2, Name: "create_user_aggregates", SQL: migration002Up},
}

// Migrator applies schema migrations.
type Migrator struct {
	conn *Connection
}

// NewMigrator creates a new Migrator.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn}
}

// Migrate applies all pending migrations in order. Each migration runs in
// its own transaction together with its bookkeeping row.
func (m *Migrator) Migrate(ctx context.Context) error {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, mig := range migrations {
		if applied[mig.Version] {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return fmt.Errorf("%w: version %d (%s): %v", ErrMigrationFailed, mig.Version, mig.Name, err)
		}
	}

	return nil
}

// Status returns the status of every known migration.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	rows, err := m.conn.Query(ctx, `SELECT version, applied_at FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	defer rows.Close()

	appliedAt := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		appliedAt[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(migrations))
	for _, mig := range migrations {
		at, ok := appliedAt[mig.Version]
		statuses = append(statuses, MigrationStatus{
			Version:   mig.Version,
			Name:      mig.Name,
			IsApplied: ok,
			AppliedAt: at,
		})
	}
	return statuses, nil
}

func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(100) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to create schema_migrations: %v", ErrMigrationFailed, err)
	}
	return nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := m.conn.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (m *Migrator) apply(ctx context.Context, mig Migration) error {
	return m.conn.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, mig.SQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
			mig.Version, mig.Name,
		)
		return err
	})
}
