package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/internal/domain/viewing"
)

// SessionRepository implements viewing.Repository on PostgreSQL.
type SessionRepository struct {
	conn *Connection
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(conn *Connection) *SessionRepository {
	return &SessionRepository{conn: conn}
}

var _ viewing.Repository = (*SessionRepository)(nil)

const sessionColumns = `
	id, user_id, course_id, content_id,
	started_at, ended_at, last_heartbeat_at,
	position, active_seconds, skip_count, seek_count, pause_count, replay_count, completion_pct,
	clamped_heartbeats, clamped_seconds, lease_key_id, reaped,
	attention_score, is_suspicious, within_allowed_window, low_confidence, attention_explanation, scored_at,
	created_at, updated_at, watch_base`

// Create persists a new session.
func (r *SessionRepository) Create(ctx context.Context, s *viewing.Session) error {
	query := `
		INSERT INTO viewing_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`

	args, err := sessionArgs(s)
	if err != nil {
		return err
	}

	if _, err := r.conn.Exec(ctx, query, args...); err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrSessionExists
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// Get returns a session by ID.
func (r *SessionRepository) Get(ctx context.Context, id viewing.SessionID) (*viewing.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM viewing_sessions WHERE id = $1`

	s, err := scanSession(r.conn.QueryRow(ctx, query, id.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// Update loads the session FOR UPDATE, applies fn and writes it back in the
// same transaction. Concurrent heartbeats on one session serialize on the row.
func (r *SessionRepository) Update(ctx context.Context, id viewing.SessionID, fn viewing.UpdateFunc) (*viewing.Session, error) {
	var updated *viewing.Session

	err := r.conn.WithRowTx(ctx, func(tx pgx.Tx) error {
		s, err := scanSession(tx.QueryRow(ctx,
			`SELECT `+sessionColumns+` FROM viewing_sessions WHERE id = $1 FOR UPDATE`, id.String()))
		if err != nil {
			if IsNoRows(err) {
				return shared.ErrSessionNotFound
			}
			return err
		}

		if err := fn(s); err != nil {
			return err
		}

		args, err := sessionArgs(s)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE viewing_sessions SET
				ended_at = $6, last_heartbeat_at = $7,
				position = $8, active_seconds = $9,
				skip_count = $10, seek_count = $11, pause_count = $12, replay_count = $13,
				completion_pct = $14, clamped_heartbeats = $15, clamped_seconds = $16,
				lease_key_id = $17, reaped = $18,
				attention_score = $19, is_suspicious = $20, within_allowed_window = $21,
				low_confidence = $22, attention_explanation = $23, scored_at = $24,
				updated_at = $26, watch_base = $27
			WHERE id = $1 AND user_id = $2 AND course_id = $3
				AND content_id IS NOT DISTINCT FROM $4 AND started_at = $5 AND created_at = $25`,
			args...)
		if err != nil {
			return err
		}

		updated = s
		return nil
	})
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update session: %w", err)
	}
	return updated, nil
}

// ListStale returns Active sessions silent since before.
func (r *SessionRepository) ListStale(ctx context.Context, before time.Time, limit int) ([]*viewing.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM viewing_sessions
		WHERE ended_at IS NULL
			AND COALESCE(last_heartbeat_at, started_at) < $1
		ORDER BY COALESCE(last_heartbeat_at, started_at)
		LIMIT $2`

	return r.list(ctx, query, before, limit)
}

// ListImplausible returns closed sessions whose span exceeds bound.
func (r *SessionRepository) ListImplausible(ctx context.Context, bound time.Duration, limit int) ([]*viewing.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM viewing_sessions
		WHERE ended_at IS NOT NULL
			AND ended_at - started_at > make_interval(secs => $1)
		ORDER BY started_at
		LIMIT $2`

	return r.list(ctx, query, bound.Seconds(), limit)
}

// ListByUserCourse returns all sessions of a user in a course.
func (r *SessionRepository) ListByUserCourse(ctx context.Context, user shared.UserID, course shared.CourseID) ([]*viewing.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM viewing_sessions
		WHERE user_id = $1 AND course_id = $2
		ORDER BY started_at, id`

	return r.list(ctx, query, user.String(), course.String())
}

func (r *SessionRepository) list(ctx context.Context, query string, args ...any) ([]*viewing.Session, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*viewing.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// ROW MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func sessionArgs(s *viewing.Session) ([]any, error) {
	var (
		score, explanation      any
		suspicious, within, low any
		scoredAt                any
	)
	if a := s.Attention; a != nil {
		raw, err := json.Marshal(a.Explanation)
		if err != nil {
			return nil, fmt.Errorf("failed to encode explanation: %w", err)
		}
		score, suspicious, within, low = a.Score, a.IsSuspicious, a.WithinAllowedWindow, a.LowConfidence
		explanation, scoredAt = raw, a.ScoredAt
	}

	return []any{
		s.ID.String(), s.UserID.String(), s.CourseID.String(), nullString(s.ContentID.String()),
		s.StartedAt, s.EndedAt, s.LastHeartbeatAt,
		s.Position, s.ActiveSeconds, s.SkipCount, s.SeekCount, s.PauseCount, s.ReplayCount, s.CompletionPct.Float64(),
		s.ClampedHeartbeats, s.ClampedSeconds, nullString(s.LeaseKeyID), s.Reaped,
		score, suspicious, within, low, explanation, scoredAt,
		s.CreatedAt, s.UpdatedAt, s.WatchBase,
	}, nil
}

func scanSession(row pgx.Row) (*viewing.Session, error) {
	var (
		s                       viewing.Session
		id, user, course        string
		content, leaseKey       *string
		completion              float64
		score                   *int
		suspicious, within, low *bool
		explanation             []byte
		scoredAt                *time.Time
	)

	err := row.Scan(
		&id, &user, &course, &content,
		&s.StartedAt, &s.EndedAt, &s.LastHeartbeatAt,
		&s.Position, &s.ActiveSeconds, &s.SkipCount, &s.SeekCount, &s.PauseCount, &s.ReplayCount, &completion,
		&s.ClampedHeartbeats, &s.ClampedSeconds, &leaseKey, &s.Reaped,
		&score, &suspicious, &within, &low, &explanation, &scoredAt,
		&s.CreatedAt, &s.UpdatedAt, &s.WatchBase,
	)
	if err != nil {
		return nil, err
	}

	s.ID = viewing.SessionID(id)
	s.UserID = shared.UserID(user)
	s.CourseID = shared.CourseID(course)
	if content != nil {
		s.ContentID = shared.ContentID(*content)
	}
	if leaseKey != nil {
		s.LeaseKeyID = *leaseKey
	}
	s.CompletionPct = shared.ClampPercentage(completion)

	if score != nil {
		a := viewing.AttentionSummary{Score: *score}
		if suspicious != nil {
			a.IsSuspicious = *suspicious
		}
		if within != nil {
			a.WithinAllowedWindow = *within
		}
		if low != nil {
			a.LowConfidence = *low
		}
		if len(explanation) > 0 {
			if err := json.Unmarshal(explanation, &a.Explanation); err != nil {
				return nil, fmt.Errorf("failed to decode explanation: %w", err)
			}
		}
		if scoredAt != nil {
			a.ScoredAt = *scoredAt
		}
		s.Attention = &a
	}

	return &s, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
