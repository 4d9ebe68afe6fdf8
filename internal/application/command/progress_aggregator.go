// Package command contains write operations (CQRS - Commands).
package command

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/engagement-core/internal/domain/catalog"
	"github.com/alem-hub/engagement-core/internal/domain/progress"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS AGGREGATOR
// Folds session contributions into per-content rows and derives course-level
// progress from them. Every write is a single-row transaction; course values
// are recomputed from content rows rather than incremented, so concurrent
// sessions of the same learner converge to the same result.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressAggregator maintains ContentProgress and CourseAssignment rows.
type ProgressAggregator struct {
	repo    progress.Repository
	catalog catalog.Catalog
	logger  *logger.Logger
}

// NewProgressAggregator creates a new ProgressAggregator.
func NewProgressAggregator(repo progress.Repository, cat catalog.Catalog, log *logger.Logger) *ProgressAggregator {
	if log == nil {
		log = logger.Nop()
	}
	return &ProgressAggregator{
		repo:    repo,
		catalog: cat,
		logger:  log.With(logger.Component("progress_aggregator")),
	}
}

// ContributeResult is the state after a contribution.
type ContributeResult struct {
	Content    *progress.ContentProgress
	Assignment *progress.CourseAssignment

	// ContentCompleted is true when this contribution completed the item.
	ContentCompleted bool
}

// MarkStarted moves the (user, course) assignment from assigned to
// in_progress, creating it when missing.
func (a *ProgressAggregator) MarkStarted(ctx context.Context, user shared.UserID, course shared.CourseID, at time.Time) (*progress.CourseAssignment, error) {
	assignment, err := a.repo.UpdateAssignment(ctx, user, course, at, func(ca *progress.CourseAssignment) error {
		ca.MarkStarted(at)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark_started: %w", err)
	}
	return assignment, nil
}

// Contribute applies one session update to the content row and then
// recomputes the course. A failed recompute is logged and left for the next
// contribution or the batch backfill; the content row is already durable.
func (a *ProgressAggregator) Contribute(ctx context.Context, c progress.Contribution) (*ContributeResult, error) {
	if !c.UserID.IsValid() {
		return nil, shared.ErrInvalidUserID
	}
	if !c.CourseID.IsValid() {
		return nil, shared.ErrInvalidCourseID
	}
	if c.ContentID.IsZero() {
		assignment, err := a.MarkStarted(ctx, c.UserID, c.CourseID, c.At)
		if err != nil {
			return nil, err
		}
		return &ContributeResult{Assignment: assignment}, nil
	}

	if c.TotalDuration == nil {
		c.TotalDuration = a.totalOf(ctx, c.ContentID)
	}

	var completedNow bool
	row, err := a.repo.ApplyContent(ctx, c.UserID, c.CourseID, c.ContentID, func(p *progress.ContentProgress) error {
		completedNow = p.Apply(c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("contribute: %w", err)
	}

	result := &ContributeResult{Content: row, ContentCompleted: completedNow}
	if completedNow {
		a.logger.Info("content completed",
			logger.UserID(c.UserID.String()),
			logger.ContentID(c.ContentID.String()),
		)
	}

	assignment, _, err := a.RecomputeCourse(ctx, c.UserID, c.CourseID, c.At)
	if err != nil {
		a.logger.Warn("course recompute failed",
			logger.UserID(c.UserID.String()),
			logger.CourseID(c.CourseID.String()),
			logger.Err(err),
		)
		return result, nil
	}
	result.Assignment = assignment
	return result, nil
}

// RecomputeCourse derives course progress, the current item and the status
// from the content rows. Rows are read while the assignment row is locked,
// so the last recompute to commit always reflects every committed row.
func (a *ProgressAggregator) RecomputeCourse(ctx context.Context, user shared.UserID, course shared.CourseID, at time.Time) (*progress.CourseAssignment, progress.RecomputeResult, error) {
	required, err := a.catalog.ListRequired(ctx, course)
	if err != nil {
		return nil, progress.RecomputeResult{}, fmt.Errorf("recompute_course: list required: %w", err)
	}
	ids := make([]shared.ContentID, len(required))
	for i, item := range required {
		ids[i] = item.ContentID
	}

	var result progress.RecomputeResult
	assignment, err := a.repo.UpdateAssignment(ctx, user, course, at, func(ca *progress.CourseAssignment) error {
		rows, err := a.repo.ListContent(ctx, user, course)
		if err != nil {
			return err
		}
		byID := make(map[shared.ContentID]*progress.ContentProgress, len(rows))
		for _, row := range rows {
			byID[row.ContentID] = row
		}

		wasCompleted := ca.Status == progress.StatusCompleted
		result = progress.Recompute(ca, ids, byID, at)
		if result.Completed && !wasCompleted {
			courseCompletions.Inc()
		}
		return nil
	})
	if err != nil {
		return nil, progress.RecomputeResult{}, fmt.Errorf("recompute_course: %w", err)
	}

	if result.StatusChanged {
		a.logger.Info("course status changed",
			logger.UserID(user.String()),
			logger.CourseID(course.String()),
			logger.String("status", string(assignment.Status)),
			logger.Float64("progress_pct", assignment.ProgressPct),
		)
	}
	return assignment, result, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BATCH RECOMPUTE
// ══════════════════════════════════════════════════════════════════════════════

// RecomputeAllCommand configures a backfill over every assignment.
type RecomputeAllCommand struct {
	At          time.Time
	BatchSize   int
	Concurrency int
}

// RecomputeAllResult summarizes a backfill.
type RecomputeAllResult struct {
	Processed int
	Completed int
	Failed    int
}

// RecomputeAll recomputes every assignment, page by page. Individual
// failures are counted and logged; only a failure to list keys aborts.
func (a *ProgressAggregator) RecomputeAll(ctx context.Context, cmd RecomputeAllCommand) (*RecomputeAllResult, error) {
	if cmd.BatchSize <= 0 {
		cmd.BatchSize = 200
	}
	if cmd.Concurrency <= 0 {
		cmd.Concurrency = 4
	}

	var (
		processed, completed, failed atomic.Int64
		after                        progress.AssignmentKey
	)

	for {
		keys, err := a.repo.ListAssignmentKeys(ctx, after, cmd.BatchSize)
		if err != nil {
			return nil, fmt.Errorf("recompute_all: %w", err)
		}
		if len(keys) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cmd.Concurrency)
		for _, key := range keys {
			g.Go(func() error {
				_, res, err := a.RecomputeCourse(gctx, key.UserID, key.CourseID, cmd.At)
				processed.Add(1)
				if err != nil {
					failed.Add(1)
					a.logger.Warn("recompute failed",
						logger.UserID(key.UserID.String()),
						logger.CourseID(key.CourseID.String()),
						logger.Err(err),
					)
					return nil
				}
				if res.Completed {
					completed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		after = keys[len(keys)-1]
		if len(keys) < cmd.BatchSize {
			break
		}
	}

	return &RecomputeAllResult{
		Processed: int(processed.Load()),
		Completed: int(completed.Load()),
		Failed:    int(failed.Load()),
	}, nil
}

// totalOf looks up total_duration_or_pages. Catalog failures degrade to nil.
func (a *ProgressAggregator) totalOf(ctx context.Context, id shared.ContentID) *float64 {
	item, err := a.catalog.Lookup(ctx, id)
	if err != nil {
		if !shared.IsNotFound(err) {
			a.logger.Warn("catalog lookup failed", logger.ContentID(id.String()), logger.Err(err))
		}
		return nil
	}
	return item.Total()
}
