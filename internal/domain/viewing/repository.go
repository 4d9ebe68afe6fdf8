package viewing

import (
	"context"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

// UpdateFunc mutates a session loaded under a row lock. Returning an error
// aborts the update and nothing is written.
type UpdateFunc func(s *Session) error

// Repository defines the interface for viewing session persistence.
// This interface is implemented by the infrastructure layer.
type Repository interface {
	// Create persists a new session.
	Create(ctx context.Context, session *Session) error

	// Get returns a session by ID or shared.ErrSessionNotFound.
	Get(ctx context.Context, id SessionID) (*Session, error)

	// Update loads the session under a row lock, applies fn and writes the
	// result in the same transaction. The updated session is returned.
	Update(ctx context.Context, id SessionID, fn UpdateFunc) (*Session, error)

	// ListStale returns Active sessions whose last heartbeat (or start, when
	// no heartbeat was recorded) is older than before, oldest first.
	ListStale(ctx context.Context, before time.Time, limit int) ([]*Session, error)

	// ListImplausible returns closed sessions whose EndedAt - StartedAt span
	// exceeds bound.
	ListImplausible(ctx context.Context, bound time.Duration, limit int) ([]*Session, error)

	// ListByUserCourse returns all sessions of a user in a course ordered by
	// StartedAt.
	ListByUserCourse(ctx context.Context, user shared.UserID, course shared.CourseID) ([]*Session, error)
}

// PresenceTracker keeps a low-latency view of sessions that are currently
// sending heartbeats. It is advisory: the session row stays the source of truth.
type PresenceTracker interface {
	// Touch records a heartbeat for a session.
	Touch(ctx context.Context, id SessionID, at time.Time) error

	// Remove drops a session from the live set.
	Remove(ctx context.Context, id SessionID) error

	// CountLive returns the number of sessions seen since the given time.
	CountLive(ctx context.Context, since time.Time) (int, error)
}
