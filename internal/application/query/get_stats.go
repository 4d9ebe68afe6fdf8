package query

import (
	"context"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/leasepool"
	"github.com/alem-hub/engagement-core/internal/domain/viewing"
	"github.com/alem-hub/engagement-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STATS QUERY
// Live operational numbers: sessions heartbeating right now and the load of
// the API key pool.
// ══════════════════════════════════════════════════════════════════════════════

// StatsResult is the stats payload.
type StatsResult struct {
	LiveSessions int
	LiveWindow   time.Duration
	Keys         []leasepool.Key

	// ActiveLeases and Capacity sum over enabled keys.
	ActiveLeases int
	Capacity     int
}

// GetStatsHandler handles the stats query.
type GetStatsHandler struct {
	presence viewing.PresenceTracker
	leases   leasepool.Pool
	clock    timeutil.Clock
	window   time.Duration
}

// NewGetStatsHandler creates a new GetStatsHandler. presence and leases may
// be nil. window is how recent a heartbeat must be to count as live.
func NewGetStatsHandler(presence viewing.PresenceTracker, leases leasepool.Pool, clock timeutil.Clock, window time.Duration) *GetStatsHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &GetStatsHandler{presence: presence, leases: leases, clock: clock, window: window}
}

// Handle gathers the stats.
func (h *GetStatsHandler) Handle(ctx context.Context) (*StatsResult, error) {
	result := &StatsResult{LiveWindow: h.window}

	if h.presence != nil {
		n, err := h.presence.CountLive(ctx, h.clock.Now().Add(-h.window))
		if err != nil {
			return nil, err
		}
		result.LiveSessions = n
	}

	if h.leases != nil {
		keys, err := h.leases.List(ctx)
		if err != nil {
			return nil, err
		}
		result.Keys = keys
		for _, k := range keys {
			if k.IsEnabled {
				result.ActiveLeases += k.ActiveLeases
				result.Capacity += k.MaxLeases
			}
		}
	}
	return result, nil
}
