package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/alem-hub/engagement-core/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPAIR SESSIONS JOB
// ══════════════════════════════════════════════════════════════════════════════

// SessionRepairer is implemented by command.RepairSessionsHandler.
type SessionRepairer interface {
	Handle(ctx context.Context, cmd command.RepairSessionsCommand) (*command.RepairSessionsResult, error)
}

// RepairSessionsJob rewrites closed sessions with an implausible span.
type RepairSessionsJob struct {
	repairer  SessionRepairer
	batchSize int
	logger    *slog.Logger

	lastRun atomic.Pointer[command.RepairSessionsResult]
}

// NewRepairSessionsJob creates a new repair job.
func NewRepairSessionsJob(repairer SessionRepairer, batchSize int, logger *slog.Logger) *RepairSessionsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &RepairSessionsJob{repairer: repairer, batchSize: batchSize, logger: logger}
}

// Name returns the job name.
func (j *RepairSessionsJob) Name() string {
	return "repair_sessions"
}

// Description returns a human-readable description.
func (j *RepairSessionsJob) Description() string {
	return "Repairs closed sessions whose span exceeds the plausibility bound"
}

// Run repairs batches until a partial batch shows the backlog is drained.
func (j *RepairSessionsJob) Run(ctx context.Context) error {
	var total command.RepairSessionsResult
	for {
		res, err := j.repairer.Handle(ctx, command.RepairSessionsCommand{Limit: j.batchSize})
		if err != nil {
			return fmt.Errorf("repair sessions: %w", err)
		}
		total.Scanned += res.Scanned
		total.Repaired += res.Repaired
		total.Failed += res.Failed

		// Failed rows stay implausible and would be listed again.
		if res.Scanned < j.batchSize || res.Repaired == 0 {
			break
		}
	}
	j.lastRun.Store(&total)

	j.logger.Info("repair pass finished",
		"scanned", total.Scanned,
		"repaired", total.Repaired,
		"failed", total.Failed,
	)
	if total.Failed > 0 {
		return fmt.Errorf("repair sessions: %d failed", total.Failed)
	}
	return nil
}

// LastRun returns the totals of the last successful pass.
func (j *RepairSessionsJob) LastRun() *command.RepairSessionsResult {
	return j.lastRun.Load()
}
