// Package reconstruct estimates "minutes learned" for sessions whose primary
// telemetry is missing or implausible, and computes the bounded end time used
// to repair corrupted sessions.
//
// Estimation walks an ordered chain of strategies and stops at the first one
// that yields a usable value:
//
//	active-playback    accumulated active seconds
//	session-span       EndedAt - StartedAt, when within the plausibility bound
//	nominal-duration   catalog duration of the content item
//	completion-backup  discounted dwell until an external completion record
//	no data            zero
//
// Reconstruction never fails; reporting over sparse or legacy rows degrades
// to smaller numbers instead of errors.
package reconstruct

import (
	"fmt"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/internal/domain/viewing"
)

// Strategy identifies which signal produced an estimate.
type Strategy int

const (
	StrategyNoData Strategy = iota
	StrategyActivePlayback
	StrategySessionSpan
	StrategyNominalDuration
	StrategyCompletionBackup
)

// Strategies lists every strategy in chain order, NoData last.
var Strategies = []Strategy{
	StrategyActivePlayback,
	StrategySessionSpan,
	StrategyNominalDuration,
	StrategyCompletionBackup,
	StrategyNoData,
}

// String returns the reporting label of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyActivePlayback:
		return "active-playback"
	case StrategySessionSpan:
		return "session-span"
	case StrategyNominalDuration:
		return "nominal-duration"
	case StrategyCompletionBackup:
		return "completion-backup"
	case StrategyNoData:
		return "no data"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so strategies serialize by label.
func (s Strategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Params holds the tuning constants.
type Params struct {
	// PlausibilityBound is the longest session span trusted as-is.
	PlausibilityBound time.Duration

	// EngagementDiscount converts wall-clock dwell into estimated attention.
	EngagementDiscount float64

	// RepairSlack is added to the nominal duration of a repaired session.
	RepairSlack time.Duration

	// RepairCap is the upper bound of a repaired session span.
	RepairCap time.Duration
}

// DefaultParams returns the production constants.
func DefaultParams() Params {
	return Params{
		PlausibilityBound:  180 * time.Minute,
		EngagementDiscount: 0.6,
		RepairSlack:        5 * time.Minute,
		RepairCap:          30 * time.Minute,
	}
}

// CompletionRecord is an externally sourced completion of a content item.
type CompletionRecord struct {
	IsCompleted bool
	CompletedAt *time.Time
}

// Input is everything the chain may consult for one session. Nominal and
// Completion are nil when unknown.
type Input struct {
	Session    *viewing.Session
	Nominal    *time.Duration
	Completion *CompletionRecord
}

// Result is one estimate.
type Result struct {
	Minutes  float64
	Strategy Strategy
	Note     string
}

// Reconstruct returns the estimated minutes for one session, rounded to two
// decimal places.
func Reconstruct(in Input, p Params) Result {
	s := in.Session
	if s == nil {
		return Result{Strategy: StrategyNoData, Note: "no session"}
	}

	if s.ActiveSeconds > 0 {
		return result(s.ActiveSeconds/60, StrategyActivePlayback, "")
	}

	var note string
	if span, ok := s.Span(); ok {
		switch {
		case span > 0 && span <= p.PlausibilityBound:
			return result(span.Minutes(), StrategySessionSpan, "")
		case span > p.PlausibilityBound:
			note = fmt.Sprintf("span %s exceeds plausibility bound", span.Round(time.Minute))
		}
	}

	if in.Nominal != nil && *in.Nominal > 0 {
		return result(in.Nominal.Minutes(), StrategyNominalDuration, note)
	}

	if c := in.Completion; c != nil && c.IsCompleted && c.CompletedAt != nil && c.CompletedAt.After(s.StartedAt) {
		dwell := c.CompletedAt.Sub(s.StartedAt)
		return result(dwell.Minutes()*p.EngagementDiscount, StrategyCompletionBackup, note)
	}

	return Result{Strategy: StrategyNoData, Note: note}
}

func result(minutes float64, strategy Strategy, note string) Result {
	return Result{Minutes: shared.Round2(minutes), Strategy: strategy, Note: note}
}

// NeedsRepair reports whether a closed session spans more than bound.
func NeedsRepair(s *viewing.Session, bound time.Duration) bool {
	span, ok := s.Span()
	return ok && span > bound
}

// RepairedEnd returns the bounded, content-aware end time for a corrupted
// session: StartedAt + min(nominal + slack, cap). An unknown nominal duration
// uses the cap.
func RepairedEnd(startedAt time.Time, nominal *time.Duration, p Params) time.Time {
	return startedAt.Add(BoundedDuration(nominal, p))
}

// ReapedEnd returns the end time of an abandoned session: the repaired end,
// pushed out to the last heartbeat when the learner was seen later. Observed
// dwell is kept only up to the plausibility bound so the repair job never
// rewrites a reaped session.
func ReapedEnd(startedAt, lastSeen time.Time, nominal *time.Duration, p Params) time.Time {
	end := RepairedEnd(startedAt, nominal, p)
	if limit := startedAt.Add(p.PlausibilityBound); lastSeen.After(limit) {
		lastSeen = limit
	}
	if lastSeen.After(end) {
		return lastSeen
	}
	return end
}

// BoundedDuration returns min(nominal + slack, cap).
func BoundedDuration(nominal *time.Duration, p Params) time.Duration {
	if nominal == nil || *nominal <= 0 {
		return p.RepairCap
	}
	if d := *nominal + p.RepairSlack; d < p.RepairCap {
		return d
	}
	return p.RepairCap
}
