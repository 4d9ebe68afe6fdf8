package query

import (
	"context"
	"fmt"

	"github.com/alem-hub/engagement-core/internal/domain/catalog"
	"github.com/alem-hub/engagement-core/internal/domain/progress"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery selects the learner and course.
type GetProgressQuery struct {
	UserID   string
	CourseID string
}

// ItemProgress is one required catalog item with the learner's row.
type ItemProgress struct {
	ContentID     shared.ContentID
	Title         string
	CompletionPct float64
	WatchSeconds  float64
	IsCompleted   bool
	IsCurrent     bool
}

// GetProgressResult is the course view of a learner.
type GetProgressResult struct {
	Assignment *progress.CourseAssignment
	Items      []ItemProgress

	// Extra holds rows for content that is not a required catalog item.
	Extra []*progress.ContentProgress

	// CatalogUnavailable is set when items could not be listed; Extra then
	// holds every row.
	CatalogUnavailable bool
}

// GetProgressHandler handles GetProgressQuery.
type GetProgressHandler struct {
	repo    progress.Repository
	catalog catalog.Catalog
	logger  *logger.Logger
}

// NewGetProgressHandler creates a new GetProgressHandler.
func NewGetProgressHandler(repo progress.Repository, cat catalog.Catalog, log *logger.Logger) *GetProgressHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &GetProgressHandler{repo: repo, catalog: cat, logger: log.With(logger.Component("get_progress"))}
}

// Handle returns the assignment and per-item progress in catalog order.
func (h *GetProgressHandler) Handle(ctx context.Context, q GetProgressQuery) (*GetProgressResult, error) {
	user, err := shared.NewUserID(q.UserID)
	if err != nil {
		return nil, err
	}
	course, err := shared.NewCourseID(q.CourseID)
	if err != nil {
		return nil, err
	}

	assignment, err := h.repo.GetAssignment(ctx, user, course)
	if err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}

	rows, err := h.repo.ListContent(ctx, user, course)
	if err != nil {
		return nil, fmt.Errorf("get_progress: %w", err)
	}
	byID := make(map[shared.ContentID]*progress.ContentProgress, len(rows))
	for _, row := range rows {
		byID[row.ContentID] = row
	}

	result := &GetProgressResult{Assignment: assignment}

	required, err := h.catalog.ListRequired(ctx, course)
	if err != nil {
		h.logger.Warn("catalog unavailable", logger.CourseID(course.String()), logger.Err(err))
		result.CatalogUnavailable = true
		result.Extra = rows
		return result, nil
	}

	for _, item := range required {
		ip := ItemProgress{
			ContentID: item.ContentID,
			Title:     item.Title,
			IsCurrent: item.ContentID == assignment.CurrentItem,
		}
		if row, ok := byID[item.ContentID]; ok {
			ip.CompletionPct = row.CompletionPct.Float64()
			ip.WatchSeconds = row.WatchSeconds
			ip.IsCompleted = row.IsCompleted
			delete(byID, item.ContentID)
		}
		result.Items = append(result.Items, ip)
	}
	for _, row := range rows {
		if _, ok := byID[row.ContentID]; ok {
			result.Extra = append(result.Extra, row)
		}
	}
	return result, nil
}
