// Package attention derives the heuristic engagement score of a viewing
// session. Scoring is a pure function of the session and the catalog's
// nominal duration: identical inputs always produce identical results.
package attention

import (
	"fmt"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/viewing"
)

// Score bounds.
const (
	MinScore = 0
	MaxScore = 100
)

// CompletionTier awards Points when completion reaches AtLeast percent.
type CompletionTier struct {
	AtLeast float64
	Points  int
}

// Weights holds the tuning constants of the heuristic.
type Weights struct {
	// WindowFactor multiplies the nominal duration into the allowed window.
	WindowFactor float64

	// Active-time bonus tiers, as a ratio of the reference duration.
	HighActiveRatio   float64
	HighActivePoints  int
	MidActiveRatio    float64
	MidActivePoints   int
	AnyActivePoints   int
	OverWindowPoints  int
	CleanClosePoints  int
	CompletionTiers   []CompletionTier // checked in order, first match wins
	SkipPenalty       int
	SuspiciousBelow   int
	SuspiciousSkips   int
	GrossOverrunRatio float64 // multiple of the allowed window
}

// DefaultWeights returns the production scoring constants.
func DefaultWeights() Weights {
	return Weights{
		WindowFactor:     2.0,
		HighActiveRatio:  0.8,
		HighActivePoints: 30,
		MidActiveRatio:   0.5,
		MidActivePoints:  20,
		AnyActivePoints:  10,
		OverWindowPoints: 5,
		CleanClosePoints: 5,
		CompletionTiers: []CompletionTier{
			{AtLeast: 95, Points: 35},
			{AtLeast: 80, Points: 25},
			{AtLeast: 60, Points: 15},
			{AtLeast: 40, Points: 5},
		},
		SkipPenalty:       30,
		SuspiciousBelow:   30,
		SuspiciousSkips:   3,
		GrossOverrunRatio: 1.5,
	}
}

// Result is the scorer output.
type Result struct {
	Score               int
	IsSuspicious        bool
	WithinAllowedWindow bool
	LowConfidence       bool
	Explanation         []string
}

// Summary converts the result into the form persisted on the session.
func (r Result) Summary(scoredAt time.Time) viewing.AttentionSummary {
	explanation := make([]string, len(r.Explanation))
	copy(explanation, r.Explanation)
	return viewing.AttentionSummary{
		Score:               r.Score,
		IsSuspicious:        r.IsSuspicious,
		WithinAllowedWindow: r.WithinAllowedWindow,
		LowConfidence:       r.LowConfidence,
		Explanation:         explanation,
		ScoredAt:            scoredAt,
	}
}

// Score computes the attention score of a closed or closing session.
// nominal is the catalog duration of the content item and may be nil.
func Score(s *viewing.Session, nominal *time.Duration, w Weights) Result {
	res := Result{WithinAllowedWindow: true}
	var notes []string

	reference, lowConfidence := referenceDuration(s, nominal)
	res.LowConfidence = lowConfidence
	if lowConfidence {
		notes = append(notes, fmt.Sprintf("nominal duration unknown, using wall-clock %s as reference (low confidence)", reference.Round(time.Second)))
	}

	active := s.ActiveSeconds
	window := reference.Seconds() * w.WindowFactor
	score := 0
	grossOverrun := false

	switch {
	case reference > 0 && active > window:
		res.WithinAllowedWindow = false
		score += w.OverWindowPoints
		grossOverrun = active > window*w.GrossOverrunRatio
		notes = append(notes, fmt.Sprintf("active %.0fs exceeds allowed window %.0fs: +%d", active, window, w.OverWindowPoints))
	default:
		ratio := 0.0
		if reference > 0 {
			ratio = active / reference.Seconds()
		}
		pts := 0
		switch {
		case reference > 0 && ratio >= w.HighActiveRatio:
			pts = w.HighActivePoints
		case reference > 0 && ratio >= w.MidActiveRatio:
			pts = w.MidActivePoints
		case active > 0:
			pts = w.AnyActivePoints
		}
		score += pts
		notes = append(notes, fmt.Sprintf("active %.0fs (%.0f%% of reference): +%d", active, ratio*100, pts))
	}

	if s.EndedAt != nil {
		score += w.CleanClosePoints
		notes = append(notes, fmt.Sprintf("closed: +%d", w.CleanClosePoints))
	}

	completion := s.CompletionPct.Float64()
	completionPts := 0
	for _, tier := range w.CompletionTiers {
		if completion >= tier.AtLeast {
			completionPts = tier.Points
			break
		}
	}
	score += completionPts
	notes = append(notes, fmt.Sprintf("completion %.0f%%: +%d", completion, completionPts))

	if s.SkipCount >= 1 {
		score -= w.SkipPenalty
		notes = append(notes, fmt.Sprintf("%d forward skip(s): -%d", s.SkipCount, w.SkipPenalty))
	}

	notes = append(notes, fmt.Sprintf("seeks=%d pauses=%d replays=%d", s.SeekCount, s.PauseCount, s.ReplayCount))
	if s.ClampedHeartbeats > 0 {
		notes = append(notes, fmt.Sprintf("%d update(s) clamped, %.0fs of reported watch time discarded", s.ClampedHeartbeats, s.ClampedSeconds))
	}

	res.Score = clamp(score, MinScore, MaxScore)
	res.IsSuspicious = res.Score < w.SuspiciousBelow || s.SkipCount >= w.SuspiciousSkips || grossOverrun
	if res.IsSuspicious {
		notes = append(notes, suspicionReason(res.Score, s.SkipCount, grossOverrun, w))
	}
	res.Explanation = notes

	return res
}

func referenceDuration(s *viewing.Session, nominal *time.Duration) (time.Duration, bool) {
	if nominal != nil && *nominal > 0 {
		return *nominal, false
	}
	return s.Elapsed(), true
}

func suspicionReason(score, skips int, grossOverrun bool, w Weights) string {
	switch {
	case skips >= w.SuspiciousSkips:
		return fmt.Sprintf("suspicious: %d skips", skips)
	case grossOverrun:
		return "suspicious: active time far beyond allowed window"
	default:
		return fmt.Sprintf("suspicious: score %d below %d", score, w.SuspiciousBelow)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
