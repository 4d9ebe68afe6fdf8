// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/catalog"
	"github.com/alem-hub/engagement-core/internal/domain/progress"
	"github.com/alem-hub/engagement-core/internal/domain/reconstruct"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/internal/domain/viewing"
	"github.com/alem-hub/engagement-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECONSTRUCT MINUTES QUERY
// Estimates minutes spent by a learner in a course from whatever data
// survived: active playback, session span, nominal duration, or an external
// completion record. Collaborator failures degrade a row to "unknown"
// instead of failing the report.
// ══════════════════════════════════════════════════════════════════════════════

// ReconstructMinutesQuery selects the learner and course.
type ReconstructMinutesQuery struct {
	UserID   string
	CourseID string
}

// SessionMinutes is the estimate for one session.
type SessionMinutes struct {
	SessionID viewing.SessionID
	ContentID shared.ContentID
	StartedAt time.Time
	Minutes   float64
	Strategy  reconstruct.Strategy
	Note      string
}

// ReconstructMinutesResult is the course report.
type ReconstructMinutesResult struct {
	UserID       shared.UserID
	CourseID     shared.CourseID
	TotalMinutes float64
	Sessions     []SessionMinutes

	// ByStrategy sums minutes per strategy label.
	ByStrategy map[string]float64
}

// ReconstructMinutesHandler handles ReconstructMinutesQuery.
type ReconstructMinutesHandler struct {
	sessions    viewing.Repository
	catalog     catalog.Catalog
	completions progress.CompletionSource
	params      reconstruct.Params
	logger      *logger.Logger
}

// NewReconstructMinutesHandler creates a new ReconstructMinutesHandler.
// completions may be nil.
func NewReconstructMinutesHandler(
	sessions viewing.Repository,
	cat catalog.Catalog,
	completions progress.CompletionSource,
	params reconstruct.Params,
	log *logger.Logger,
) *ReconstructMinutesHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &ReconstructMinutesHandler{
		sessions:    sessions,
		catalog:     cat,
		completions: completions,
		params:      params,
		logger:      log.With(logger.Component("reconstruct_minutes")),
	}
}

// Handle builds the report. Only a failure to list sessions is an error.
func (h *ReconstructMinutesHandler) Handle(ctx context.Context, q ReconstructMinutesQuery) (*ReconstructMinutesResult, error) {
	user, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, err
	}
	course, err := shared.NewCourseID(q.CourseID)
	if err != nil {
		return nil, err
	}

	sessions, err := h.sessions.ListByUserCourse(ctx, user, course)
	if err != nil {
		return nil, fmt.Errorf("reconstruct_minutes: %w", err)
	}

	result := &ReconstructMinutesResult{
		UserID:     user,
		CourseID:   course,
		Sessions:   make([]SessionMinutes, 0, len(sessions)),
		ByStrategy: make(map[string]float64),
	}

	nominals := make(map[shared.ContentID]*time.Duration)
	completions := make(map[shared.ContentID]*reconstruct.CompletionRecord)

	var total float64
	for _, s := range sessions {
		in := reconstruct.Input{Session: s}
		if s.HasContent() {
			in.Nominal = h.nominal(ctx, s.ContentID, nominals)
			in.Completion = h.completion(ctx, user, s.ContentID, completions)
		}

		est := reconstruct.Reconstruct(in, h.params)
		result.Sessions = append(result.Sessions, SessionMinutes{
			SessionID: s.ID,
			ContentID: s.ContentID,
			StartedAt: s.StartedAt,
			Minutes:   est.Minutes,
			Strategy:  est.Strategy,
			Note:      est.Note,
		})
		total += est.Minutes
		result.ByStrategy[est.Strategy.String()] += est.Minutes
	}

	result.TotalMinutes = shared.Round2(total)
	for k, v := range result.ByStrategy {
		result.ByStrategy[k] = shared.Round2(v)
	}
	return result, nil
}

func (h *ReconstructMinutesHandler) nominal(ctx context.Context, id shared.ContentID, seen map[shared.ContentID]*time.Duration) *time.Duration {
	if d, ok := seen[id]; ok {
		return d
	}
	d, err := catalog.NominalDuration(ctx, h.catalog, id)
	if err != nil {
		h.logger.Warn("nominal duration unavailable", logger.ContentID(id.String()), logger.Err(err))
	}
	seen[id] = d
	return d
}

func (h *ReconstructMinutesHandler) completion(ctx context.Context, user shared.UserID, id shared.ContentID, seen map[shared.ContentID]*reconstruct.CompletionRecord) *reconstruct.CompletionRecord {
	if h.completions == nil {
		return nil
	}
	if c, ok := seen[id]; ok {
		return c
	}
	var record *reconstruct.CompletionRecord
	c, err := h.completions.CompletionOf(ctx, user, id)
	if err != nil {
		h.logger.Warn("completion lookup failed", logger.ContentID(id.String()), logger.Err(err))
	} else {
		record = &reconstruct.CompletionRecord{IsCompleted: c.IsCompleted, CompletedAt: c.CompletedAt}
	}
	seen[id] = record
	return record
}
