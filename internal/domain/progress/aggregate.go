package progress

import (
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

// RecomputeResult describes what a recompute changed.
type RecomputeResult struct {
	ProgressPct   float64
	CurrentItem   shared.ContentID
	StatusChanged bool
	Completed     bool
}

// Recompute derives course-level state from content rows.
//
// required lists the required content items of the course in catalog order.
// rows holds every content progress row the user has in the course; items
// without a row count as 0%. Any row at all means the learner has started.
// Recompute is a pure read-aggregate and can be repeated freely.
func Recompute(a *CourseAssignment, required []shared.ContentID, rows map[shared.ContentID]*ContentProgress, now time.Time) RecomputeResult {
	var (
		sum         float64
		current     shared.ContentID
		allComplete = len(required) > 0
	)

	for _, id := range required {
		row, ok := rows[id]
		if !ok {
			allComplete = false
			if current.IsZero() {
				current = id
			}
			continue
		}
		sum += row.CompletionPct.Float64()
		if !row.IsCompleted {
			allComplete = false
			if current.IsZero() {
				current = id
			}
		}
	}

	pct := 0.0
	if len(required) > 0 {
		pct = shared.Round2(sum / float64(len(required)))
	}

	a.ProgressPct = pct
	a.CurrentItem = current
	a.UpdatedAt = now

	changed := false
	if len(rows) > 0 {
		changed = a.Advance(StatusInProgress, now) || changed
	}
	if allComplete {
		a.ProgressPct = 100
		changed = a.Advance(StatusCompleted, now) || changed
	}

	return RecomputeResult{
		ProgressPct:   a.ProgressPct,
		CurrentItem:   a.CurrentItem,
		StatusChanged: changed,
		Completed:     a.Status == StatusCompleted,
	}
}
