package service

import (
	"context"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/viewing"
	"github.com/alem-hub/engagement-core/pkg/circuitbreaker"
	"github.com/alem-hub/engagement-core/pkg/logger"
)

// PresenceAdapter wraps a viewing.PresenceTracker so that presence never
// fails a session operation. A nil tracker turns every call into a no-op,
// which is how the service runs without Redis. Calls go through a cache
// breaker, so a Redis outage costs one failed call per cool-down instead of
// a timeout on every heartbeat.
type PresenceAdapter struct {
	tracker viewing.PresenceTracker
	breaker *circuitbreaker.CircuitBreaker
	logger  *logger.Logger
}

var _ viewing.PresenceTracker = (*PresenceAdapter)(nil)

// NewPresenceAdapter creates a presence adapter. tracker may be nil.
func NewPresenceAdapter(tracker viewing.PresenceTracker, log *logger.Logger) *PresenceAdapter {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("presence"))

	return &PresenceAdapter{
		tracker: tracker,
		breaker: circuitbreaker.CacheBreaker("presence", func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.String("breaker", name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}),
		logger: log,
	}
}

// Breaker returns the presence circuit breaker, for health reporting.
func (a *PresenceAdapter) Breaker() *circuitbreaker.CircuitBreaker {
	return a.breaker
}

// Touch records a heartbeat. Failures are logged and swallowed.
func (a *PresenceAdapter) Touch(ctx context.Context, id viewing.SessionID, at time.Time) error {
	if a.tracker == nil {
		return nil
	}
	err := a.breaker.Execute(ctx, func(ctx context.Context) error {
		return a.tracker.Touch(ctx, id, at)
	})
	if err != nil && !rejected(err) {
		a.logger.Warn("presence touch failed", logger.SessionID(id.String()), logger.Err(err))
	}
	return nil
}

// Remove drops a session from the live set. Failures are logged and swallowed.
func (a *PresenceAdapter) Remove(ctx context.Context, id viewing.SessionID) error {
	if a.tracker == nil {
		return nil
	}
	err := a.breaker.Execute(ctx, func(ctx context.Context) error {
		return a.tracker.Remove(ctx, id)
	})
	if err != nil && !rejected(err) {
		a.logger.Warn("presence remove failed", logger.SessionID(id.String()), logger.Err(err))
	}
	return nil
}

// CountLive returns the number of live sessions. Unlike the writes, read
// failures and an open breaker are returned so the stats endpoint can
// report them.
func (a *PresenceAdapter) CountLive(ctx context.Context, since time.Time) (int, error) {
	if a.tracker == nil {
		return 0, nil
	}
	var n int
	err := a.breaker.Execute(ctx, func(ctx context.Context) (err error) {
		n, err = a.tracker.CountLive(ctx, since)
		return err
	})
	return n, err
}
