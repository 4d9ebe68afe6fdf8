package viewing

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession("s-1", "u-1", "c-1", "v-1", 0, t0)
	require.NoError(t, err)
	return s
}

func TestNewSession(t *testing.T) {
	s, err := NewSession("s-1", "u-1", "c-1", "", -5, t0)
	require.NoError(t, err)

	assert.Equal(t, SessionActive, s.State())
	assert.Equal(t, 0.0, s.Position)
	assert.Equal(t, 0.0, s.ActiveSeconds)
	require.NotNil(t, s.LastHeartbeatAt)
	assert.Equal(t, t0, *s.LastHeartbeatAt)
	assert.False(t, s.HasContent())

	_, err = NewSession("", "u-1", "c-1", "", 0, t0)
	assert.ErrorIs(t, err, shared.ErrInvalidID)

	_, err = NewSession("s-2", "", "c-1", "", 0, t0)
	assert.True(t, shared.IsValidation(err))
}

func TestApplyClampsWatchDelta(t *testing.T) {
	tests := []struct {
		name        string
		delta       float64
		wantActive  float64
		wantClamped bool
	}{
		{"normal", 30, 30, false},
		{"at limit", 60, 60, false},
		{"too large", 3600, 60, true},
		{"negative", -20, 0, true},
		{"zero", 0, 0, false},
		{"nan", math.NaN(), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t)
			res := s.Apply(Telemetry{WatchDelta: tt.delta}, t0.Add(30*time.Second), DefaultLimits())

			assert.True(t, res.Applied)
			assert.Equal(t, tt.wantActive, s.ActiveSeconds)
			assert.Equal(t, tt.wantClamped, res.Clamped)
			if tt.wantClamped {
				assert.Equal(t, 1, s.ClampedHeartbeats)
			}
		})
	}
}

func TestApplyIsMonotonicUnderReordering(t *testing.T) {
	s := newTestSession(t)
	limits := DefaultLimits()

	updates := []Telemetry{
		{WatchDelta: 30, CompletionPct: 40},
		{WatchDelta: 30, CompletionPct: 20}, // delivered late
		{WatchDelta: 30, CompletionPct: 60},
		{WatchDelta: -10, CompletionPct: -5},
		{WatchDelta: 30, CompletionPct: 150},
	}

	prevActive, prevPct := s.ActiveSeconds, s.CompletionPct
	for i, u := range updates {
		s.Apply(u, t0.Add(time.Duration(i+1)*30*time.Second), limits)
		assert.GreaterOrEqual(t, s.ActiveSeconds, prevActive)
		assert.GreaterOrEqual(t, s.CompletionPct.Float64(), prevPct.Float64())
		prevActive, prevPct = s.ActiveSeconds, s.CompletionPct
	}

	assert.Equal(t, 120.0, s.ActiveSeconds)
	assert.Equal(t, shared.Percentage(100), s.CompletionPct)
}

func TestApplyCountersAreAdditive(t *testing.T) {
	s := newTestSession(t)

	s.Apply(Telemetry{SkipDelta: 1, SeekDelta: 2, PauseDelta: 3, ReplayDelta: 1}, t0.Add(time.Minute), DefaultLimits())
	s.Apply(Telemetry{SkipDelta: 1, SeekDelta: -4, PauseDelta: 1}, t0.Add(2*time.Minute), DefaultLimits())

	assert.Equal(t, 2, s.SkipCount)
	assert.Equal(t, 2, s.SeekCount)
	assert.Equal(t, 4, s.PauseCount)
	assert.Equal(t, 1, s.ReplayCount)
}

func TestApplyKeepsLatestHeartbeat(t *testing.T) {
	s := newTestSession(t)

	s.Apply(Telemetry{WatchDelta: 10}, t0.Add(2*time.Minute), DefaultLimits())
	s.Apply(Telemetry{WatchDelta: 10}, t0.Add(time.Minute), DefaultLimits())

	assert.Equal(t, t0.Add(2*time.Minute), *s.LastHeartbeatAt)
	assert.Equal(t, 20.0, s.ActiveSeconds)
}

func TestApplyOnEndedSessionIsNoop(t *testing.T) {
	s := newTestSession(t)
	require.True(t, s.Close(t0.Add(10*time.Minute)))

	res := s.Apply(Telemetry{WatchDelta: 30, CompletionPct: 90, SkipDelta: 2}, t0.Add(11*time.Minute), DefaultLimits())

	assert.False(t, res.Applied)
	assert.Equal(t, 0.0, s.ActiveSeconds)
	assert.Equal(t, 0, s.SkipCount)
	assert.Equal(t, SessionEnded, s.State())
}

func TestCloseIsOneShot(t *testing.T) {
	s := newTestSession(t)

	assert.True(t, s.Close(t0.Add(5*time.Minute)))
	assert.False(t, s.Close(t0.Add(9*time.Minute)))
	assert.Equal(t, t0.Add(5*time.Minute), *s.EndedAt)

	span, ok := s.Span()
	assert.True(t, ok)
	assert.Equal(t, 5*time.Minute, span)
}

func TestCloseBeforeStartIsPinnedToStart(t *testing.T) {
	s := newTestSession(t)
	s.Close(t0.Add(-time.Hour))
	assert.Equal(t, t0, *s.EndedAt)
}

func TestElapsed(t *testing.T) {
	s := newTestSession(t)
	s.Apply(Telemetry{}, t0.Add(4*time.Minute), DefaultLimits())
	assert.Equal(t, 4*time.Minute, s.Elapsed())

	s.Close(t0.Add(6 * time.Minute))
	assert.Equal(t, 6*time.Minute, s.Elapsed())
}

func TestRewriteEnd(t *testing.T) {
	s := newTestSession(t)
	assert.Error(t, s.RewriteEnd(t0.Add(time.Minute), t0))

	s.Close(t0.Add(260 * time.Minute))
	require.NoError(t, s.RewriteEnd(t0.Add(15*time.Minute), t0.Add(300*time.Minute)))
	assert.Equal(t, t0.Add(15*time.Minute), *s.EndedAt)
}
