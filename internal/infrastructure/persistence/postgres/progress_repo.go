package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/engagement-core/internal/domain/progress"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

// ProgressRepository implements progress.Repository and
// progress.CompletionSource on PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new progress repository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

var (
	_ progress.Repository       = (*ProgressRepository)(nil)
	_ progress.CompletionSource = (*ProgressRepository)(nil)
)

const contentProgressColumns = `
	user_id, content_id, course_id, watch_seconds, total_duration,
	completion_pct, is_completed, completed_at, resume_position, updated_at`

const assignmentColumns = `
	user_id, course_id, status, progress_pct, current_item,
	started_at, completed_at, updated_at`

// ══════════════════════════════════════════════════════════════════════════════
// CONTENT PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

// ApplyContent upserts the row, locks it and applies fn.
func (r *ProgressRepository) ApplyContent(
	ctx context.Context,
	user shared.UserID,
	course shared.CourseID,
	content shared.ContentID,
	fn func(p *progress.ContentProgress) error,
) (*progress.ContentProgress, error) {
	var updated *progress.ContentProgress

	err := r.conn.WithRowTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO content_progress (user_id, content_id, course_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (user_id, content_id) DO NOTHING`,
			user.String(), content.String(), course.String())
		if err != nil {
			return err
		}

		p, err := scanContentProgress(tx.QueryRow(ctx, `
			SELECT `+contentProgressColumns+`
			FROM content_progress
			WHERE user_id = $1 AND content_id = $2
			FOR UPDATE`,
			user.String(), content.String()))
		if err != nil {
			return err
		}

		if err := fn(p); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE content_progress SET
				watch_seconds = $3,
				total_duration = $4,
				completion_pct = $5,
				is_completed = $6,
				completed_at = $7,
				resume_position = $8,
				updated_at = $9
			WHERE user_id = $1 AND content_id = $2`,
			user.String(), content.String(),
			p.WatchSeconds, p.TotalDuration, p.CompletionPct.Float64(),
			p.IsCompleted, p.CompletedAt, p.ResumePosition, p.UpdatedAt,
		)
		if err != nil {
			return err
		}

		updated = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply content progress: %w", err)
	}
	return updated, nil
}

// GetContent returns one content progress row.
func (r *ProgressRepository) GetContent(ctx context.Context, user shared.UserID, content shared.ContentID) (*progress.ContentProgress, error) {
	p, err := scanContentProgress(r.conn.QueryRow(ctx, `
		SELECT `+contentProgressColumns+`
		FROM content_progress
		WHERE user_id = $1 AND content_id = $2`,
		user.String(), content.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrProgressNotFound
		}
		return nil, fmt.Errorf("failed to get content progress: %w", err)
	}
	return p, nil
}

// ListContent returns every row the user has in a course.
func (r *ProgressRepository) ListContent(ctx context.Context, user shared.UserID, course shared.CourseID) ([]*progress.ContentProgress, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+contentProgressColumns+`
		FROM content_progress
		WHERE user_id = $1 AND course_id = $2
		ORDER BY content_id`,
		user.String(), course.String())
	if err != nil {
		return nil, fmt.Errorf("failed to list content progress: %w", err)
	}
	defer rows.Close()

	var result []*progress.ContentProgress
	for rows.Next() {
		p, err := scanContentProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content progress: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// CompletionOf reads the completion-backup record of a content item. Rows
// may have been written by administrative overrides rather than sessions.
func (r *ProgressRepository) CompletionOf(ctx context.Context, user shared.UserID, content shared.ContentID) (progress.Completion, error) {
	var c progress.Completion

	err := r.conn.QueryRow(ctx, `
		SELECT is_completed, completed_at
		FROM content_progress
		WHERE user_id = $1 AND content_id = $2`,
		user.String(), content.String(),
	).Scan(&c.IsCompleted, &c.CompletedAt)
	if err != nil {
		if IsNoRows(err) {
			return progress.Completion{}, nil
		}
		return progress.Completion{}, fmt.Errorf("failed to read completion: %w", err)
	}
	return c, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// COURSE ASSIGNMENTS
// ══════════════════════════════════════════════════════════════════════════════

// UpdateAssignment upserts the assignment as assigned, locks it and applies fn.
func (r *ProgressRepository) UpdateAssignment(
	ctx context.Context,
	user shared.UserID,
	course shared.CourseID,
	now time.Time,
	fn func(a *progress.CourseAssignment) error,
) (*progress.CourseAssignment, error) {
	var updated *progress.CourseAssignment

	err := r.conn.WithRowTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO course_assignments (user_id, course_id, status, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, course_id) DO NOTHING`,
			user.String(), course.String(), string(progress.StatusAssigned), now)
		if err != nil {
			return err
		}

		a, err := scanAssignment(tx.QueryRow(ctx, `
			SELECT `+assignmentColumns+`
			FROM course_assignments
			WHERE user_id = $1 AND course_id = $2
			FOR UPDATE`,
			user.String(), course.String()))
		if err != nil {
			return err
		}

		if err := fn(a); err != nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			UPDATE course_assignments SET
				status = $3,
				progress_pct = $4,
				current_item = $5,
				started_at = $6,
				completed_at = $7,
				updated_at = $8
			WHERE user_id = $1 AND course_id = $2`,
			user.String(), course.String(),
			string(a.Status), a.ProgressPct, nullString(a.CurrentItem.String()),
			a.StartedAt, a.CompletedAt, a.UpdatedAt,
		)
		if err != nil {
			return err
		}

		updated = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update assignment: %w", err)
	}
	return updated, nil
}

// GetAssignment returns one assignment.
func (r *ProgressRepository) GetAssignment(ctx context.Context, user shared.UserID, course shared.CourseID) (*progress.CourseAssignment, error) {
	a, err := scanAssignment(r.conn.QueryRow(ctx, `
		SELECT `+assignmentColumns+`
		FROM course_assignments
		WHERE user_id = $1 AND course_id = $2`,
		user.String(), course.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}
	return a, nil
}

// ListAssignmentKeys pages through assignments by (user_id, course_id).
func (r *ProgressRepository) ListAssignmentKeys(ctx context.Context, after progress.AssignmentKey, limit int) ([]progress.AssignmentKey, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT user_id, course_id
		FROM course_assignments
		WHERE (user_id, course_id) > ($1, $2)
		ORDER BY user_id, course_id
		LIMIT $3`,
		after.UserID.String(), after.CourseID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var keys []progress.AssignmentKey
	for rows.Next() {
		var user, course string
		if err := rows.Scan(&user, &course); err != nil {
			return nil, fmt.Errorf("failed to scan assignment key: %w", err)
		}
		keys = append(keys, progress.AssignmentKey{
			UserID:   shared.UserID(user),
			CourseID: shared.CourseID(course),
		})
	}
	return keys, rows.Err()
}

// ══════════════════════════════════════════════════════════════════════════════
// ROW MAPPING
// ══════════════════════════════════════════════════════════════════════════════

func scanContentProgress(row pgx.Row) (*progress.ContentProgress, error) {
	var (
		p                     progress.ContentProgress
		user, content, course string
		completion            float64
	)

	err := row.Scan(
		&user, &content, &course, &p.WatchSeconds, &p.TotalDuration,
		&completion, &p.IsCompleted, &p.CompletedAt, &p.ResumePosition, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.UserID = shared.UserID(user)
	p.ContentID = shared.ContentID(content)
	p.CourseID = shared.CourseID(course)
	p.CompletionPct = shared.ClampPercentage(completion)
	return &p, nil
}

func scanAssignment(row pgx.Row) (*progress.CourseAssignment, error) {
	var (
		a            progress.CourseAssignment
		user, course string
		status       string
		currentItem  *string
	)

	err := row.Scan(
		&user, &course, &status, &a.ProgressPct, &currentItem,
		&a.StartedAt, &a.CompletedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.UserID = shared.UserID(user)
	a.CourseID = shared.CourseID(course)
	a.Status = progress.AssignmentStatus(status)
	if currentItem != nil {
		a.CurrentItem = shared.ContentID(*currentItem)
	}
	return &a, nil
}
