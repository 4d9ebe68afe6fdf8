// Package memory implements the repositories in process memory. It backs
// the "memory" storage mode used for local development and the application
// and HTTP tests. A single mutex per repository stands in for row locks.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/internal/domain/viewing"
)

// SessionRepository implements viewing.Repository.
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[viewing.SessionID]*viewing.Session
}

// NewSessionRepository creates an empty session repository.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[viewing.SessionID]*viewing.Session)}
}

var _ viewing.Repository = (*SessionRepository)(nil)

// Create persists a new session.
func (r *SessionRepository) Create(_ context.Context, s *viewing.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID]; ok {
		return shared.ErrSessionExists
	}
	r.sessions[s.ID] = cloneSession(s)
	return nil
}

// Get returns a copy of a session.
func (r *SessionRepository) Get(_ context.Context, id viewing.SessionID) (*viewing.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}
	return cloneSession(s), nil
}

// Update applies fn to a copy and stores it only when fn succeeds.
func (r *SessionRepository) Update(_ context.Context, id viewing.SessionID, fn viewing.UpdateFunc) (*viewing.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.sessions[id]
	if !ok {
		return nil, shared.ErrSessionNotFound
	}

	s := cloneSession(current)
	if err := fn(s); err != nil {
		return nil, err
	}
	r.sessions[id] = s
	return cloneSession(s), nil
}

// ListStale returns Active sessions silent since before, oldest first.
func (r *SessionRepository) ListStale(_ context.Context, before time.Time, limit int) ([]*viewing.Session, error) {
	return r.filter(limit, func(s *viewing.Session) bool {
		return s.IsActive() && s.LastSeen().Before(before)
	}, func(a, b *viewing.Session) bool {
		return a.LastSeen().Before(b.LastSeen())
	}), nil
}

// ListImplausible returns closed sessions whose span exceeds bound.
func (r *SessionRepository) ListImplausible(_ context.Context, bound time.Duration, limit int) ([]*viewing.Session, error) {
	return r.filter(limit, func(s *viewing.Session) bool {
		return !s.IsActive() && s.EndedAt.Sub(s.StartedAt) > bound
	}, byStart), nil
}

// ListByUserCourse returns all sessions of a user in a course.
func (r *SessionRepository) ListByUserCourse(_ context.Context, user shared.UserID, course shared.CourseID) ([]*viewing.Session, error) {
	return r.filter(0, func(s *viewing.Session) bool {
		return s.UserID == user && s.CourseID == course
	}, byStart), nil
}

func (r *SessionRepository) filter(limit int, keep func(*viewing.Session) bool, less func(a, b *viewing.Session) bool) []*viewing.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*viewing.Session
	for _, s := range r.sessions {
		if keep(s) {
			out = append(out, cloneSession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if less(out[i], out[j]) {
			return true
		}
		if less(out[j], out[i]) {
			return false
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func byStart(a, b *viewing.Session) bool {
	return a.StartedAt.Before(b.StartedAt)
}

func cloneSession(s *viewing.Session) *viewing.Session {
	c := *s
	c.EndedAt = cloneTime(s.EndedAt)
	c.LastHeartbeatAt = cloneTime(s.LastHeartbeatAt)
	if s.Attention != nil {
		a := *s.Attention
		a.Explanation = append([]string(nil), s.Attention.Explanation...)
		c.Attention = &a
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
