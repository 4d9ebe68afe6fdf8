// Package jobs contains the scheduled maintenance jobs of the engagement core.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alem-hub/engagement-core/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// REAP STALE JOB
// ══════════════════════════════════════════════════════════════════════════════

// StaleReaper is implemented by command.SessionManager.
type StaleReaper interface {
	ReapStale(ctx context.Context, cmd command.ReapStaleCommand) (*command.ReapStaleResult, error)
}

// ReapStaleConfig contains configuration for the reap job.
type ReapStaleConfig struct {
	// Threshold is the silence after which a session is abandoned.
	// Zero uses the session manager default.
	Threshold time.Duration

	// BatchSize caps the sessions handled per run.
	BatchSize int
}

// ReapStaleJob force-ends sessions whose client stopped sending heartbeats.
type ReapStaleJob struct {
	reaper StaleReaper
	config ReapStaleConfig
	logger *slog.Logger

	lastRun atomic.Pointer[command.ReapStaleResult]
}

// NewReapStaleJob creates a new reap job.
func NewReapStaleJob(reaper StaleReaper, config ReapStaleConfig, logger *slog.Logger) *ReapStaleJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	return &ReapStaleJob{reaper: reaper, config: config, logger: logger}
}

// Name returns the job name.
func (j *ReapStaleJob) Name() string {
	return "reap_stale"
}

// Description returns a human-readable description.
func (j *ReapStaleJob) Description() string {
	return "Closes active sessions that stopped sending heartbeats"
}

// Run executes one reaper pass. A full batch means more sessions may be
// waiting; the next tick picks them up.
func (j *ReapStaleJob) Run(ctx context.Context) error {
	res, err := j.reaper.ReapStale(ctx, command.ReapStaleCommand{
		Threshold: j.config.Threshold,
		Limit:     j.config.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("reap stale sessions: %w", err)
	}
	j.lastRun.Store(res)

	if res.Scanned >= j.config.BatchSize {
		j.logger.Warn("reap batch full, backlog remains", "batch_size", j.config.BatchSize)
	}
	if res.Failed > 0 {
		return fmt.Errorf("reap stale sessions: %d of %d failed", res.Failed, res.Scanned)
	}
	return nil
}

// LastRun returns the result of the last successful pass, nil before the
// first.
func (j *ReapStaleJob) LastRun() *command.ReapStaleResult {
	return j.lastRun.Load()
}
