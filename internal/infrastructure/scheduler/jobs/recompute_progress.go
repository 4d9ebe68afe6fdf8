package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alem-hub/engagement-core/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECOMPUTE PROGRESS JOB
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRecomputer is implemented by command.ProgressAggregator.
type ProgressRecomputer interface {
	RecomputeAll(ctx context.Context, cmd command.RecomputeAllCommand) (*command.RecomputeAllResult, error)
}

// RecomputeProgressJob re-derives every course assignment from its content
// rows. It heals assignments whose recompute failed after a contribution
// and picks up catalog changes to the required item list.
type RecomputeProgressJob struct {
	recomputer  ProgressRecomputer
	concurrency int
	logger      *slog.Logger
}

// NewRecomputeProgressJob creates a new backfill job.
func NewRecomputeProgressJob(recomputer ProgressRecomputer, concurrency int, logger *slog.Logger) *RecomputeProgressJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecomputeProgressJob{recomputer: recomputer, concurrency: concurrency, logger: logger}
}

// Name returns the job name.
func (j *RecomputeProgressJob) Name() string {
	return "recompute_progress"
}

// Description returns a human-readable description.
func (j *RecomputeProgressJob) Description() string {
	return "Recomputes course progress for every assignment"
}

// Run executes the backfill.
func (j *RecomputeProgressJob) Run(ctx context.Context) error {
	res, err := j.recomputer.RecomputeAll(ctx, command.RecomputeAllCommand{
		At:          time.Now().UTC(),
		Concurrency: j.concurrency,
	})
	if err != nil {
		return fmt.Errorf("recompute progress: %w", err)
	}

	j.logger.Info("progress backfill finished",
		"processed", res.Processed,
		"completed", res.Completed,
		"failed", res.Failed,
	)
	if res.Failed > 0 {
		return fmt.Errorf("recompute progress: %d of %d failed", res.Failed, res.Processed)
	}
	return nil
}
