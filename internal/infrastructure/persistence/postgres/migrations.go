package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION SUPPORT
// ══════════════════════════════════════════════════════════════════════════════

// Migration represents a database migration.
type Migration struct {
	Version   int
	Name      string
	UpSQL     string
	DownSQL   string
	AppliedAt time.Time
	IsApplied bool
}

// Migrator handles database migrations.
type Migrator struct {
	conn       *Connection
	migrations []Migration
	tableName  string
}

// NewMigrator creates a new migrator with embedded migrations.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{
		conn:       conn,
		migrations: GetMigrations(),
		tableName:  "schema_migrations",
	}
}

// EnsureMigrationTable creates the migration tracking table if it doesn't exist.
func (m *Migrator) EnsureMigrationTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, m.tableName)

	if _, err := m.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations(ctx context.Context) (map[int]time.Time, error) {
	query := fmt.Sprintf("SELECT version, applied_at FROM %s ORDER BY version", m.tableName)

	rows, err := m.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)
	for rows.Next() {
		var version int
		var appliedAt time.Time
		if err := rows.Scan(&version, &appliedAt); err != nil {
			return nil, fmt.Errorf("failed to scan migration row: %w", err)
		}
		applied[version] = appliedAt
	}

	return applied, rows.Err()
}

// Migrate applies all pending migrations and returns how many ran.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, mig := range m.migrations {
		if _, isApplied := applied[mig.Version]; isApplied {
			continue
		}

		err := m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, mig.UpSQL); err != nil {
				return fmt.Errorf("failed to execute migration %d: %w", mig.Version, err)
			}
			insertQuery := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", m.tableName)
			_, err := tx.Exec(ctx, insertQuery, mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return count, fmt.Errorf("%w: version %d: %v", ErrMigrationFailed, mig.Version, err)
		}
		count++
	}

	return count, nil
}

// Rollback rolls back the last applied migration.
func (m *Migrator) Rollback(ctx context.Context) error {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return err
	}

	var lastVersion int
	for v := range applied {
		if v > lastVersion {
			lastVersion = v
		}
	}
	if lastVersion == 0 {
		return nil
	}

	var migration *Migration
	for i := range m.migrations {
		if m.migrations[i].Version == lastVersion {
			migration = &m.migrations[i]
			break
		}
	}
	if migration == nil || migration.DownSQL == "" {
		return fmt.Errorf("%w: missing down SQL for migration %d", ErrMigrationFailed, lastVersion)
	}

	return m.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, migration.DownSQL); err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", lastVersion, err)
		}
		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE version = $1", m.tableName)
		_, err := tx.Exec(ctx, deleteQuery, lastVersion)
		return err
	})
}

// Status returns the migration status.
func (m *Migrator) Status(ctx context.Context) ([]Migration, error) {
	if err := m.EnsureMigrationTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.GetAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Migration, len(m.migrations))
	copy(result, m.migrations)
	for i := range result {
		if appliedAt, ok := applied[result[i].Version]; ok {
			result[i].IsApplied = true
			result[i].AppliedAt = appliedAt
		}
	}

	return result, nil
}

// GetMigrations returns all embedded migrations in version order.
func GetMigrations() []Migration {
	return []Migration{
		{Version: 1, Name: "create_content_items", UpSQL: migration001Up, DownSQL: migration001Down},
		{Version: 2, Name: "create_viewing_sessions", UpSQL: migration002Up, DownSQL: migration002Down},
		{Version: 3, Name: "create_progress", UpSQL: migration003Up, DownSQL: migration003Down},
		{Version: 4, Name: "create_api_key_leases", UpSQL: migration004Up, DownSQL: migration004Down},
		{Version: 5, Name: "add_session_watch_base", UpSQL: migration005Up, DownSQL: migration005Down},
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CONTENT ITEMS (catalog read model)
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Catalog read model. Owned by the catalog service; the engagement core only reads it.
CREATE TABLE IF NOT EXISTS content_items (
    content_id TEXT PRIMARY KEY,
    course_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    kind VARCHAR(20) NOT NULL DEFAULT 'video',
    nominal_duration_seconds INTEGER,
    total_pages INTEGER,
    is_required BOOLEAN NOT NULL DEFAULT TRUE,
    module_order INTEGER NOT NULL DEFAULT 0,
    content_order INTEGER NOT NULL DEFAULT 0,

    CONSTRAINT valid_kind CHECK (kind IN ('video', 'document')),
    CONSTRAINT valid_duration CHECK (nominal_duration_seconds IS NULL OR nominal_duration_seconds > 0),
    CONSTRAINT valid_pages CHECK (total_pages IS NULL OR total_pages > 0)
);

CREATE INDEX IF NOT EXISTS idx_content_items_course_order
    ON content_items(course_id, module_order, content_order)
    WHERE is_required;
`

const migration001Down = `
DROP TABLE IF EXISTS content_items;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: VIEWING SESSIONS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
CREATE TABLE IF NOT EXISTS viewing_sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    content_id TEXT,

    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    ended_at TIMESTAMP WITH TIME ZONE,
    last_heartbeat_at TIMESTAMP WITH TIME ZONE,

    position DOUBLE PRECISION NOT NULL DEFAULT 0,
    active_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    skip_count INTEGER NOT NULL DEFAULT 0,
    seek_count INTEGER NOT NULL DEFAULT 0,
    pause_count INTEGER NOT NULL DEFAULT 0,
    replay_count INTEGER NOT NULL DEFAULT 0,
    completion_pct DOUBLE PRECISION NOT NULL DEFAULT 0,

    clamped_heartbeats INTEGER NOT NULL DEFAULT 0,
    clamped_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    lease_key_id TEXT,
    reaped BOOLEAN NOT NULL DEFAULT FALSE,

    -- Derived at close
    attention_score INTEGER,
    is_suspicious BOOLEAN,
    within_allowed_window BOOLEAN,
    low_confidence BOOLEAN,
    attention_explanation JSONB,
    scored_at TIMESTAMP WITH TIME ZONE,

    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_active_seconds CHECK (active_seconds >= 0),
    CONSTRAINT valid_completion CHECK (completion_pct >= 0 AND completion_pct <= 100),
    CONSTRAINT valid_score CHECK (attention_score IS NULL OR (attention_score >= 0 AND attention_score <= 100)),
    CONSTRAINT valid_end CHECK (ended_at IS NULL OR ended_at >= started_at)
);

-- Reaper scan: active sessions by last sign of life
CREATE INDEX IF NOT EXISTS idx_viewing_sessions_active_seen
    ON viewing_sessions(COALESCE(last_heartbeat_at, started_at))
    WHERE ended_at IS NULL;

-- Reporting: sessions of a user in a course
CREATE INDEX IF NOT EXISTS idx_viewing_sessions_user_course
    ON viewing_sessions(user_id, course_id, started_at);

-- Repair scan: closed sessions
CREATE INDEX IF NOT EXISTS idx_viewing_sessions_closed
    ON viewing_sessions(started_at)
    WHERE ended_at IS NOT NULL;
`

const migration002Down = `
DROP TABLE IF EXISTS viewing_sessions;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 003: CONTENT PROGRESS AND COURSE ASSIGNMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration003Up = `
CREATE TABLE IF NOT EXISTS content_progress (
    user_id TEXT NOT NULL,
    content_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    watch_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_duration DOUBLE PRECISION,
    completion_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
    is_completed BOOLEAN NOT NULL DEFAULT FALSE,
    completed_at TIMESTAMP WITH TIME ZONE,
    resume_position DOUBLE PRECISION NOT NULL DEFAULT 0,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, content_id),
    CONSTRAINT valid_progress_completion CHECK (completion_pct >= 0 AND completion_pct <= 100),
    CONSTRAINT completed_has_timestamp CHECK (NOT is_completed OR completed_at IS NOT NULL)
);

CREATE INDEX IF NOT EXISTS idx_content_progress_user_course
    ON content_progress(user_id, course_id);

CREATE TABLE IF NOT EXISTS course_assignments (
    user_id TEXT NOT NULL,
    course_id TEXT NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'assigned',
    progress_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
    current_item TEXT,
    started_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    PRIMARY KEY (user_id, course_id),
    CONSTRAINT valid_assignment_status CHECK (status IN ('assigned', 'in_progress', 'completed')),
    CONSTRAINT valid_progress_pct CHECK (progress_pct >= 0 AND progress_pct <= 100)
);
`

const migration003Down = `
DROP TABLE IF EXISTS course_assignments;
DROP TABLE IF EXISTS content_progress;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 004: API KEY LEASES
// ══════════════════════════════════════════════════════════════════════════════

const migration004Up = `
CREATE TABLE IF NOT EXISTS api_key_leases (
    id TEXT PRIMARY KEY,
    label TEXT NOT NULL DEFAULT '',
    active_leases INTEGER NOT NULL DEFAULT 0,
    max_leases INTEGER NOT NULL,
    is_enabled BOOLEAN NOT NULL DEFAULT TRUE,
    last_leased_at TIMESTAMP WITH TIME ZONE,

    CONSTRAINT valid_max_leases CHECK (max_leases > 0),
    CONSTRAINT lease_counter_bounds CHECK (active_leases >= 0 AND active_leases <= max_leases)
);
`

const migration004Down = `
DROP TABLE IF EXISTS api_key_leases;
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 005: SESSION WATCH BASE
// ══════════════════════════════════════════════════════════════════════════════

const migration005Up = `
-- Content watch time already recorded when the session started.
ALTER TABLE viewing_sessions
    ADD COLUMN IF NOT EXISTS watch_base DOUBLE PRECISION NOT NULL DEFAULT 0;
ALTER TABLE viewing_sessions
    ADD CONSTRAINT valid_watch_base CHECK (watch_base >= 0);
`

const migration005Down = `
ALTER TABLE viewing_sessions DROP CONSTRAINT IF EXISTS valid_watch_base;
ALTER TABLE viewing_sessions DROP COLUMN IF EXISTS watch_base;
`
