package viewing

import (
	"math"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

// Default heartbeat limits.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultTolerance         = 2.0
)

// Limits bound how much active time a single update may contribute.
type Limits struct {
	HeartbeatInterval time.Duration
	Tolerance         float64
}

// DefaultLimits returns the production heartbeat limits.
func DefaultLimits() Limits {
	return Limits{
		HeartbeatInterval: DefaultHeartbeatInterval,
		Tolerance:         DefaultTolerance,
	}
}

// MaxWatchDelta returns the upper clamp for a single watch delta in seconds.
func (l Limits) MaxWatchDelta() float64 {
	return l.HeartbeatInterval.Seconds() * l.Tolerance
}

// Telemetry is one client update: a heartbeat or the final update carried by
// an end call. Deltas are increments since the previous update.
type Telemetry struct {
	Position      float64
	WatchDelta    float64
	SkipDelta     int
	SeekDelta     int
	PauseDelta    int
	ReplayDelta   int
	CompletionPct float64
}

// ApplyResult describes what an update did to the session.
type ApplyResult struct {
	// Applied is false when the session was already ended.
	Applied bool

	// AcceptedWatch is the clamped watch delta actually accumulated.
	AcceptedWatch float64

	// Clamped is true when the reported watch delta fell outside the
	// accepted range. ReportedWatch keeps the raw value for the audit log.
	Clamped       bool
	ReportedWatch float64

	// CompletionPct is the session completion after the update.
	CompletionPct shared.Percentage
}

// ClampWatchDelta forces a reported watch delta into [0, limits.MaxWatchDelta()].
func ClampWatchDelta(delta float64, limits Limits) (float64, bool) {
	if math.IsNaN(delta) || delta < 0 {
		return 0, delta != 0
	}
	if limit := limits.MaxWatchDelta(); delta > limit {
		return limit, true
	}
	return delta, false
}

// Apply folds one telemetry update into an Active session. Ended sessions
// are left untouched. Watch time is clamped then accumulated, counters are
// additive and completion only moves up, so redelivered or reordered
// updates can never reduce recorded progress.
func (s *Session) Apply(t Telemetry, now time.Time, limits Limits) ApplyResult {
	if !s.IsActive() {
		return ApplyResult{CompletionPct: s.CompletionPct}
	}

	accepted, clamped := ClampWatchDelta(t.WatchDelta, limits)
	s.ActiveSeconds += accepted
	if clamped {
		s.ClampedHeartbeats++
		if !math.IsNaN(t.WatchDelta) {
			s.ClampedSeconds += math.Abs(t.WatchDelta - accepted)
		}
	}

	s.SkipCount += nonNegative(t.SkipDelta)
	s.SeekCount += nonNegative(t.SeekDelta)
	s.PauseCount += nonNegative(t.PauseDelta)
	s.ReplayCount += nonNegative(t.ReplayDelta)

	s.CompletionPct = s.CompletionPct.Max(shared.ClampPercentage(t.CompletionPct))

	if t.Position >= 0 && !math.IsNaN(t.Position) {
		s.Position = t.Position
	}

	if s.LastHeartbeatAt == nil || now.After(*s.LastHeartbeatAt) {
		hb := now
		s.LastHeartbeatAt = &hb
	}
	s.UpdatedAt = now

	return ApplyResult{
		Applied:       true,
		AcceptedWatch: accepted,
		Clamped:       clamped,
		ReportedWatch: t.WatchDelta,
		CompletionPct: s.CompletionPct,
	}
}

// Counter deltas are increments; a negative one can only come from a broken
// client and is dropped.
func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
