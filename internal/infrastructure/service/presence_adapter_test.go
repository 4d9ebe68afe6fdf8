package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/engagement-core/internal/domain/viewing"
	"github.com/alem-hub/engagement-core/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/engagement-core/pkg/circuitbreaker"
)

type downTracker struct {
	mu    sync.Mutex
	calls int
}

func (d *downTracker) fail() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return errors.New("redis: i/o timeout")
}

func (d *downTracker) Touch(context.Context, viewing.SessionID, time.Time) error { return d.fail() }
func (d *downTracker) Remove(context.Context, viewing.SessionID) error          { return d.fail() }
func (d *downTracker) CountLive(context.Context, time.Time) (int, error)        { return 0, d.fail() }

func TestPresenceAdapterPassesThrough(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	adapter := NewPresenceAdapter(memory.NewPresence(), nil)

	require.NoError(t, adapter.Touch(ctx, "s-1", at))
	require.NoError(t, adapter.Touch(ctx, "s-2", at))
	require.NoError(t, adapter.Remove(ctx, "s-2"))

	live, err := adapter.CountLive(ctx, at.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, live)
}

func TestPresenceAdapterWithoutTracker(t *testing.T) {
	adapter := NewPresenceAdapter(nil, nil)

	require.NoError(t, adapter.Touch(context.Background(), "s-1", time.Now()))
	live, err := adapter.CountLive(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, live)
}

func TestPresenceAdapterStopsCallingDownTracker(t *testing.T) {
	ctx := context.Background()
	tracker := &downTracker{}
	adapter := NewPresenceAdapter(tracker, nil)

	for range 10 {
		assert.NoError(t, adapter.Touch(ctx, "s-1", time.Now()))
	}
	assert.Equal(t, 3, tracker.calls)
	assert.True(t, adapter.Breaker().IsOpen())

	_, err := adapter.CountLive(ctx, time.Now())
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, 3, tracker.calls)
}
