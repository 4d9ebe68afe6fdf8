// Package progress contains durable learner progress: one ContentProgress row
// per (user, content item) and one CourseAssignment row per (user, course).
// Course-level values are always derived from content rows, never stored as
// an independent source of truth.
package progress

import (
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

// CompletionThreshold is the completion percentage at which a content item
// counts as completed.
const CompletionThreshold = 95.0

// ContentProgress is a learner's progress on one content item.
type ContentProgress struct {
	UserID    shared.UserID
	ContentID shared.ContentID
	CourseID  shared.CourseID

	// WatchSeconds is watch time (seconds) or pages. It grows with each
	// session and never decreases.
	WatchSeconds float64

	// TotalDuration is the catalog total (seconds or pages), nil when unknown.
	TotalDuration *float64

	CompletionPct  shared.Percentage
	IsCompleted    bool
	CompletedAt    *time.Time
	ResumePosition float64
	UpdatedAt      time.Time
}

// NewContentProgress returns an empty row.
func NewContentProgress(user shared.UserID, course shared.CourseID, content shared.ContentID) *ContentProgress {
	return &ContentProgress{UserID: user, CourseID: course, ContentID: content}
}

// Contribution is one session's update to a content item.
type Contribution struct {
	UserID    shared.UserID
	CourseID  shared.CourseID
	ContentID shared.ContentID

	// SessionWatch is the row's watch time when the session started plus
	// the session's accepted active time so far.
	SessionWatch float64

	CompletionPct float64
	Position      float64
	TotalDuration *float64
	At            time.Time
}

// Apply folds a contribution into the row. Watch time and completion take
// the max across sessions, so a session continuing after an earlier one
// accumulates while two concurrent sessions never add up the same wall
// time. Completion is a one-way transition that stamps CompletedAt once.
// It returns true when the row became completed.
func (p *ContentProgress) Apply(c Contribution) bool {
	if c.SessionWatch > p.WatchSeconds {
		p.WatchSeconds = c.SessionWatch
	}
	if c.TotalDuration != nil && p.TotalDuration == nil {
		total := *c.TotalDuration
		p.TotalDuration = &total
	}

	p.CompletionPct = p.CompletionPct.Max(shared.ClampPercentage(c.CompletionPct))
	if c.Position >= 0 {
		p.ResumePosition = c.Position
	}
	p.UpdatedAt = c.At

	if !p.IsCompleted && p.CompletionPct.AtLeast(CompletionThreshold) {
		at := c.At
		p.IsCompleted = true
		p.CompletedAt = &at
		return true
	}
	return false
}

// AssignmentStatus is the forward-only state of a course assignment.
type AssignmentStatus string

const (
	StatusAssigned   AssignmentStatus = "assigned"
	StatusInProgress AssignmentStatus = "in_progress"
	StatusCompleted  AssignmentStatus = "completed"
)

func (s AssignmentStatus) rank() int {
	switch s {
	case StatusAssigned:
		return 0
	case StatusInProgress:
		return 1
	case StatusCompleted:
		return 2
	default:
		return -1
	}
}

// IsValid checks if the status is known.
func (s AssignmentStatus) IsValid() bool {
	return s.rank() >= 0
}

// CanTransitionTo reports whether moving to next keeps the status forward-only.
// Staying in place is allowed.
func (s AssignmentStatus) CanTransitionTo(next AssignmentStatus) bool {
	return next.IsValid() && next.rank() >= s.rank()
}

// CourseAssignment is a learner's enrollment in a course.
type CourseAssignment struct {
	UserID      shared.UserID
	CourseID    shared.CourseID
	Status      AssignmentStatus
	ProgressPct float64

	// CurrentItem is the first incomplete required item, zero when none.
	CurrentItem shared.ContentID

	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

// NewCourseAssignment returns an assignment in the assigned state.
func NewCourseAssignment(user shared.UserID, course shared.CourseID, now time.Time) *CourseAssignment {
	return &CourseAssignment{
		UserID:    user,
		CourseID:  course,
		Status:    StatusAssigned,
		UpdatedAt: now,
	}
}

// Advance moves the assignment forward. Backward moves are ignored and
// reported as false. Timestamps are stamped once.
func (a *CourseAssignment) Advance(next AssignmentStatus, now time.Time) bool {
	if !a.Status.CanTransitionTo(next) || a.Status == next {
		return false
	}
	if a.StartedAt == nil && next.rank() >= StatusInProgress.rank() {
		at := now
		a.StartedAt = &at
	}
	if a.CompletedAt == nil && next == StatusCompleted {
		at := now
		a.CompletedAt = &at
	}
	a.Status = next
	a.UpdatedAt = now
	return true
}

// MarkStarted moves an assigned course to in_progress.
func (a *CourseAssignment) MarkStarted(now time.Time) bool {
	return a.Advance(StatusInProgress, now)
}
