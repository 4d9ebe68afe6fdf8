// Package viewing contains the viewing session aggregate: one playback or
// reading attempt by a learner against a content item, fed by client
// heartbeats and closed either by the client or by the stale-session reaper.
// This is a pure domain layer with zero external dependencies.
package viewing

import (
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

// SessionID represents a unique identifier for a viewing session.
type SessionID string

// IsValid checks if the session ID is valid.
func (s SessionID) IsValid() bool {
	return s != ""
}

// String returns the string representation of SessionID.
func (s SessionID) String() string {
	return string(s)
}

// SessionState is the lifecycle state of a session. Active is the only
// non-terminal state; a new viewing pass always creates a new session.
type SessionState int

const (
	SessionActive SessionState = iota
	SessionEnded
)

// String returns the string representation of SessionState.
func (s SessionState) String() string {
	switch s {
	case SessionActive:
		return "active"
	case SessionEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// AttentionSummary is the derived scoring data written when a session closes.
type AttentionSummary struct {
	Score               int
	IsSuspicious        bool
	WithinAllowedWindow bool
	LowConfidence       bool
	Explanation         []string
	ScoredAt            time.Time
}

// Session is one contiguous viewing attempt.
type Session struct {
	ID        SessionID
	UserID    shared.UserID
	CourseID  shared.CourseID
	ContentID shared.ContentID // zero for non-content sessions

	StartedAt       time.Time
	EndedAt         *time.Time // nil while Active
	LastHeartbeatAt *time.Time

	// Position is the last reported playback position (seconds or pages).
	Position float64

	// Accumulators. ActiveSeconds and CompletionPct never decrease.
	ActiveSeconds float64
	SkipCount     int
	SeekCount     int
	PauseCount    int
	ReplayCount   int
	CompletionPct shared.Percentage

	// Clamp diagnostics for later audit.
	ClampedHeartbeats int
	ClampedSeconds    float64

	// WatchBase is the content row's watch time when the session started.
	// Progress contributions report WatchBase+ActiveSeconds, so concurrent
	// sessions on one item fold with max instead of adding up.
	WatchBase float64

	// LeaseKeyID is the storage key leased at start, empty when the pool
	// had no capacity.
	LeaseKeyID string

	// Reaped marks sessions closed by the stale-session reaper.
	Reaped bool

	Attention *AttentionSummary

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewSession creates a new Active session. The initial position is clamped
// to zero and the start counts as the first heartbeat.
func NewSession(id SessionID, user shared.UserID, course shared.CourseID, content shared.ContentID, initialPosition float64, now time.Time) (*Session, error) {
	if !id.IsValid() {
		return nil, shared.ErrInvalidSessionID
	}
	if !user.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	if !course.IsValid() {
		return nil, shared.ErrInvalidCourseID
	}
	if initialPosition < 0 {
		initialPosition = 0
	}

	hb := now
	return &Session{
		ID:              id,
		UserID:          user,
		CourseID:        course,
		ContentID:       content,
		StartedAt:       now,
		LastHeartbeatAt: &hb,
		Position:        initialPosition,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// State derives the lifecycle state from EndedAt.
func (s *Session) State() SessionState {
	if s.EndedAt != nil {
		return SessionEnded
	}
	return SessionActive
}

// IsActive returns true if the session has not been closed.
func (s *Session) IsActive() bool {
	return s.State() == SessionActive
}

// HasContent reports whether the session is bound to a content item.
func (s *Session) HasContent() bool {
	return !s.ContentID.IsZero()
}

// LastSeen returns the most recent moment the client was known to be alive.
func (s *Session) LastSeen() time.Time {
	if s.LastHeartbeatAt != nil {
		return *s.LastHeartbeatAt
	}
	return s.StartedAt
}

// Elapsed returns wall-clock dwell: EndedAt (or the last heartbeat while
// Active) minus StartedAt. Never negative.
func (s *Session) Elapsed() time.Duration {
	end := s.LastSeen()
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	if d := end.Sub(s.StartedAt); d > 0 {
		return d
	}
	return 0
}

// Span returns EndedAt minus StartedAt for closed sessions.
func (s *Session) Span() (time.Duration, bool) {
	if s.EndedAt == nil {
		return 0, false
	}
	return s.EndedAt.Sub(s.StartedAt), true
}

// Close sets EndedAt. It returns false when the session was already ended,
// leaving it untouched.
func (s *Session) Close(endedAt time.Time) bool {
	if s.EndedAt != nil {
		return false
	}
	if endedAt.Before(s.StartedAt) {
		endedAt = s.StartedAt
	}
	s.EndedAt = &endedAt
	s.UpdatedAt = endedAt
	return true
}

// ContentWatch is the content-level watch time this session vouches for.
func (s *Session) ContentWatch() float64 {
	return s.WatchBase + s.ActiveSeconds
}

// RecordAttention stores the scorer output on the session.
func (s *Session) RecordAttention(summary AttentionSummary) {
	s.Attention = &summary
}

// RewriteEnd replaces EndedAt during corrupted-span repair. Only closed
// sessions can be repaired.
func (s *Session) RewriteEnd(endedAt time.Time, now time.Time) error {
	if s.EndedAt == nil {
		return shared.NewDomainError("viewing", "RewriteEnd", shared.ErrInvalidState, "session is still active")
	}
	if endedAt.Before(s.StartedAt) {
		endedAt = s.StartedAt
	}
	s.EndedAt = &endedAt
	s.UpdatedAt = now
	return nil
}
