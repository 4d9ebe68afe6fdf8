package attention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/internal/domain/viewing"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func minutes(n int) *time.Duration {
	d := time.Duration(n) * time.Minute
	return &d
}

func closedSession(active float64, completion float64, skips int, span time.Duration) *viewing.Session {
	s, _ := viewing.NewSession("s-1", "u-1", "c-1", "v-1", 0, t0)
	s.ActiveSeconds = active
	s.CompletionPct = shared.ClampPercentage(completion)
	s.SkipCount = skips
	s.Close(t0.Add(span))
	return s
}

func TestScoreTiers(t *testing.T) {
	w := DefaultWeights()

	tests := []struct {
		name       string
		session    *viewing.Session
		nominal    *time.Duration
		wantScore  int
		wantWithin bool
		wantSusp   bool
	}{
		{"full engaged watch", closedSession(540, 96, 0, 12*time.Minute), minutes(10), 70, true, false},
		{"half watched", closedSession(300, 85, 0, 6*time.Minute), minutes(10), 50, true, false},
		{"barely watched", closedSession(60, 45, 0, 2*time.Minute), minutes(10), 20, true, true},
		{"over window", closedSession(1500, 100, 0, 30*time.Minute), minutes(10), 45, false, false},
		{"gross overrun", closedSession(2000, 100, 0, 40*time.Minute), minutes(10), 45, false, true},
		{"single skip", closedSession(540, 96, 1, 12*time.Minute), minutes(10), 40, true, false},
		{"many skips", closedSession(540, 96, 3, 12*time.Minute), minutes(10), 40, true, true},
		{"skip floors at zero", closedSession(0, 0, 5, time.Minute), minutes(10), 0, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Score(tt.session, tt.nominal, w)
			assert.Equal(t, tt.wantScore, res.Score)
			assert.Equal(t, tt.wantWithin, res.WithinAllowedWindow)
			assert.Equal(t, tt.wantSusp, res.IsSuspicious)
			assert.False(t, res.LowConfidence)
		})
	}
}

func TestScoreUnknownNominalUsesWallClock(t *testing.T) {
	s := closedSession(500, 96, 0, 10*time.Minute)

	res := Score(s, nil, DefaultWeights())

	assert.True(t, res.LowConfidence)
	assert.Equal(t, 70, res.Score)
	require.NotEmpty(t, res.Explanation)
	assert.Contains(t, res.Explanation[0], "low confidence")
}

func TestScoreActiveSessionHasNoCloseBonus(t *testing.T) {
	s, _ := viewing.NewSession("s-1", "u-1", "c-1", "v-1", 0, t0)
	s.ActiveSeconds = 540
	s.CompletionPct = 96

	res := Score(s, minutes(10), DefaultWeights())
	assert.Equal(t, 65, res.Score)
}

func TestScoreIsDeterministic(t *testing.T) {
	s := closedSession(410, 72, 1, 9*time.Minute)
	s.SeekCount, s.PauseCount, s.ReplayCount = 4, 2, 1
	s.ClampedHeartbeats, s.ClampedSeconds = 1, 3540

	first := Score(s, minutes(10), DefaultWeights())
	second := Score(s, minutes(10), DefaultWeights())

	assert.Equal(t, first, second)
	assert.Contains(t, first.Explanation, "seeks=4 pauses=2 replays=1")
	assert.Contains(t, first.Explanation, "1 update(s) clamped, 3540s of reported watch time discarded")
}

func TestReplayIsNotPenalized(t *testing.T) {
	a := closedSession(540, 96, 0, 12*time.Minute)
	b := closedSession(540, 96, 0, 12*time.Minute)
	b.ReplayCount, b.SeekCount, b.PauseCount = 7, 9, 4

	assert.Equal(t, Score(a, minutes(10), DefaultWeights()).Score, Score(b, minutes(10), DefaultWeights()).Score)
}

func TestScoreBoundsAndSkipPenalty(t *testing.T) {
	w := DefaultWeights()
	nominals := []*time.Duration{nil, minutes(1), minutes(10), minutes(90)}

	for _, nominal := range nominals {
		for active := 0.0; active <= 12000; active += 450 {
			for completion := 0.0; completion <= 100; completion += 12.5 {
				clean := closedSession(active, completion, 0, 20*time.Minute)
				skipped := closedSession(active, completion, 1, 20*time.Minute)

				cleanScore := Score(clean, nominal, w).Score
				skippedScore := Score(skipped, nominal, w).Score

				assert.GreaterOrEqual(t, cleanScore, MinScore)
				assert.LessOrEqual(t, cleanScore, MaxScore)
				assert.GreaterOrEqual(t, skippedScore, MinScore)
				assert.LessOrEqual(t, skippedScore, MaxScore)
				assert.LessOrEqual(t, skippedScore, cleanScore)
			}
		}
	}
}

func TestSummaryCopiesExplanation(t *testing.T) {
	res := Score(closedSession(540, 96, 0, 12*time.Minute), minutes(10), DefaultWeights())
	sum := res.Summary(t0)

	sum.Explanation[0] = "changed"
	assert.NotEqual(t, "changed", res.Explanation[0])
	assert.Equal(t, res.Score, sum.Score)
	assert.Equal(t, t0, sum.ScoredAt)
}
