package progress

import (
	"context"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

// Repository defines the interface for progress persistence.
// Every mutation is a single-row transaction; there is no cross-row lock.
type Repository interface {
	// ApplyContent loads (or initializes) the (user, content) row under a
	// row lock, applies fn and persists the result.
	ApplyContent(ctx context.Context, user shared.UserID, course shared.CourseID, content shared.ContentID, fn func(p *ContentProgress) error) (*ContentProgress, error)

	// GetContent returns one row or shared.ErrProgressNotFound.
	GetContent(ctx context.Context, user shared.UserID, content shared.ContentID) (*ContentProgress, error)

	// ListContent returns every row the user has in a course.
	ListContent(ctx context.Context, user shared.UserID, course shared.CourseID) ([]*ContentProgress, error)

	// UpdateAssignment loads (or initializes as assigned) the (user, course)
	// assignment under a row lock, applies fn and persists the result.
	UpdateAssignment(ctx context.Context, user shared.UserID, course shared.CourseID, now time.Time, fn func(a *CourseAssignment) error) (*CourseAssignment, error)

	// GetAssignment returns one assignment or shared.ErrAssignmentNotFound.
	GetAssignment(ctx context.Context, user shared.UserID, course shared.CourseID) (*CourseAssignment, error)

	// ListAssignmentKeys returns (user, course) pairs of assignments, for
	// batch recompute, ordered by key. after is an exclusive keyset cursor.
	ListAssignmentKeys(ctx context.Context, after AssignmentKey, limit int) ([]AssignmentKey, error)
}

// AssignmentKey identifies a course assignment.
type AssignmentKey struct {
	UserID   shared.UserID
	CourseID shared.CourseID
}

// CompletionSource is the read-only completion-backup source: completions
// recorded by paths other than viewing sessions, such as administrative
// overrides.
type CompletionSource interface {
	// CompletionOf returns the completion state of a content item for a user.
	// A user with no record yields a zero Completion and no error.
	CompletionOf(ctx context.Context, user shared.UserID, content shared.ContentID) (Completion, error)
}

// Completion is the completion-backup record.
type Completion struct {
	IsCompleted bool
	CompletedAt *time.Time
}
