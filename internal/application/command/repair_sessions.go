package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/attention"
	"github.com/alem-hub/engagement-core/internal/domain/catalog"
	"github.com/alem-hub/engagement-core/internal/domain/reconstruct"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/internal/domain/viewing"
	"github.com/alem-hub/engagement-core/pkg/logger"
	"github.com/alem-hub/engagement-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPAIR SESSIONS COMMAND
// Rewrites the end of closed sessions whose span is implausibly long (a
// client that never ended and was closed by a stale timestamp). The new end
// is the bounded, content-aware default: start + min(nominal + slack, cap).
// Running the repair twice changes nothing the second time.
// ══════════════════════════════════════════════════════════════════════════════

// RepairSessionsCommand configures one repair pass.
type RepairSessionsCommand struct {
	// Bound is the plausibility bound. Zero uses the configured bound.
	Bound time.Duration
	Limit int
	At    time.Time
}

// RepairSessionsResult summarizes a repair pass.
type RepairSessionsResult struct {
	Scanned  int
	Repaired int
	Failed   int
}

// RepairSessionsHandler handles RepairSessionsCommand.
type RepairSessionsHandler struct {
	sessions viewing.Repository
	catalog  catalog.Catalog
	params   reconstruct.Params
	weights  attention.Weights
	clock    timeutil.Clock
	logger   *logger.Logger
}

// NewRepairSessionsHandler creates a new RepairSessionsHandler.
func NewRepairSessionsHandler(
	sessions viewing.Repository,
	cat catalog.Catalog,
	params reconstruct.Params,
	weights attention.Weights,
	clock timeutil.Clock,
	log *logger.Logger,
) *RepairSessionsHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RepairSessionsHandler{
		sessions: sessions,
		catalog:  cat,
		params:   params,
		weights:  weights,
		clock:    clock,
		logger:   log.With(logger.Component("repair_sessions")),
	}
}

// Handle repairs implausible sessions. Repaired sessions are re-scored so
// the stored attention summary matches the repaired span.
func (h *RepairSessionsHandler) Handle(ctx context.Context, cmd RepairSessionsCommand) (*RepairSessionsResult, error) {
	bound := cmd.Bound
	if bound <= 0 {
		bound = h.params.PlausibilityBound
	}
	at := cmd.At
	if at.IsZero() {
		at = h.clock.Now()
	}

	candidates, err := h.sessions.ListImplausible(ctx, bound, cmd.Limit)
	if err != nil {
		return nil, fmt.Errorf("repair_sessions: %w", err)
	}

	result := &RepairSessionsResult{Scanned: len(candidates)}
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		repaired, err := h.repairOne(ctx, candidate, bound, at)
		if err != nil {
			result.Failed++
			h.logger.Error("session repair failed", logger.SessionID(candidate.ID.String()), logger.Err(err))
			continue
		}
		if repaired {
			result.Repaired++
		}
	}

	if result.Scanned > 0 {
		h.logger.Info("implausible sessions repaired",
			logger.Int("scanned", result.Scanned),
			logger.Int("repaired", result.Repaired),
			logger.Int("failed", result.Failed),
		)
	}
	return result, nil
}

func (h *RepairSessionsHandler) repairOne(ctx context.Context, candidate *viewing.Session, bound time.Duration, at time.Time) (bool, error) {
	nominal, err := catalog.NominalDuration(ctx, h.catalog, candidate.ContentID)
	if err != nil {
		h.logger.Warn("nominal duration unavailable, using cap",
			logger.ContentID(candidate.ContentID.String()), logger.Err(err))
	}

	var before time.Time
	updated, err := h.sessions.Update(ctx, candidate.ID, func(s *viewing.Session) error {
		if !reconstruct.NeedsRepair(s, bound) {
			return errUnchanged
		}
		before = *s.EndedAt
		if err := s.RewriteEnd(reconstruct.RepairedEnd(s.StartedAt, nominal, h.params), at); err != nil {
			return err
		}
		s.RecordAttention(attention.Score(s, nominal, h.weights).Summary(at))
		return nil
	})
	if errors.Is(err, errUnchanged) || shared.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	repairedSessions.Inc()
	h.logger.Info("session span repaired",
		logger.SessionID(updated.ID.String()),
		logger.Time("old_ended_at", before),
		logger.Time("new_ended_at", *updated.EndedAt),
	)
	return true, nil
}
