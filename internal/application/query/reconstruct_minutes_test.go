package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/engagement-core/internal/domain/catalog"
	"github.com/alem-hub/engagement-core/internal/domain/progress"
	"github.com/alem-hub/engagement-core/internal/domain/reconstruct"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/internal/domain/viewing"
	"github.com/alem-hub/engagement-core/internal/infrastructure/persistence/memory"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func item(id string, order int, nominal time.Duration) catalog.Item {
	d := nominal
	return catalog.Item{
		ContentID:       shared.ContentID(id),
		CourseID:        "go-101",
		Title:           id,
		Kind:            catalog.KindVideo,
		NominalDuration: &d,
		IsRequired:      true,
		ModuleOrder:     1,
		ContentOrder:    order,
	}
}

func addSession(t *testing.T, repo *memory.SessionRepository, id, content string, start time.Time, active float64, span time.Duration) {
	t.Helper()
	s, err := viewing.NewSession(viewing.SessionID(id), "u-1", "go-101", shared.ContentID(content), 0, start)
	require.NoError(t, err)
	s.ActiveSeconds = active
	if span > 0 {
		s.Close(start.Add(span))
	}
	require.NoError(t, repo.Create(context.Background(), s))
}

func minutesFixture(t *testing.T) (*memory.SessionRepository, *memory.Catalog, *memory.ProgressRepository) {
	t.Helper()
	sessions := memory.NewSessionRepository()
	cat := memory.NewCatalog(item("intro", 1, 10*time.Minute))
	completions := memory.NewProgressRepository()

	addSession(t, sessions, "played", "intro", t0, 600, 12*time.Minute)
	addSession(t, sessions, "browsing", "", t0.Add(time.Hour), 0, 20*time.Minute)
	addSession(t, sessions, "corrupt", "intro", t0.Add(2*time.Hour), 0, 26*time.Hour)
	addSession(t, sessions, "override", "gone", t0.Add(3*time.Hour), 0, 26*time.Hour)
	addSession(t, sessions, "silent", "lost", t0.Add(4*time.Hour), 0, 0)

	done := t0.Add(3*time.Hour + 50*time.Minute)
	completions.PutContent(progress.ContentProgress{
		UserID: "u-1", CourseID: "go-101", ContentID: "gone",
		CompletionPct: 100, IsCompleted: true, CompletedAt: &done,
	})
	return sessions, cat, completions
}

func TestReconstructMinutes(t *testing.T) {
	sessions, cat, completions := minutesFixture(t)
	h := NewReconstructMinutesHandler(sessions, cat, completions, reconstruct.DefaultParams(), nil)

	res, err := h.Handle(context.Background(), ReconstructMinutesQuery{UserID: "u-1", CourseID: "go-101"})
	require.NoError(t, err)
	require.Len(t, res.Sessions, 5)

	want := []struct {
		id       viewing.SessionID
		minutes  float64
		strategy reconstruct.Strategy
	}{
		{"played", 10, reconstruct.StrategyActivePlayback},
		{"browsing", 20, reconstruct.StrategySessionSpan},
		{"corrupt", 10, reconstruct.StrategyNominalDuration},
		{"override", 30, reconstruct.StrategyCompletionBackup},
		{"silent", 0, reconstruct.StrategyNoData},
	}
	for i, w := range want {
		got := res.Sessions[i]
		assert.Equal(t, w.id, got.SessionID)
		assert.Equal(t, w.minutes, got.Minutes, "session %s", w.id)
		assert.Equal(t, w.strategy, got.Strategy, "session %s", w.id)
	}
	assert.NotEmpty(t, res.Sessions[2].Note)

	assert.Equal(t, 70.0, res.TotalMinutes)
	assert.Equal(t, 10.0, res.ByStrategy["active-playback"])
	assert.Equal(t, 30.0, res.ByStrategy["completion-backup"])
	assert.Equal(t, 0.0, res.ByStrategy["no data"])
}

func TestReconstructMinutesDegradesWhenCatalogDown(t *testing.T) {
	sessions, cat, completions := minutesFixture(t)
	cat.Err = shared.ErrCatalogDown
	h := NewReconstructMinutesHandler(sessions, cat, completions, reconstruct.DefaultParams(), nil)

	res, err := h.Handle(context.Background(), ReconstructMinutesQuery{UserID: "u-1", CourseID: "go-101"})
	require.NoError(t, err)

	assert.Equal(t, reconstruct.StrategyNoData, res.Sessions[2].Strategy)
	assert.Equal(t, reconstruct.StrategyCompletionBackup, res.Sessions[3].Strategy)
	assert.Equal(t, 60.0, res.TotalMinutes)
}

func TestReconstructMinutesWithoutCompletionSource(t *testing.T) {
	sessions, cat, _ := minutesFixture(t)
	h := NewReconstructMinutesHandler(sessions, cat, nil, reconstruct.DefaultParams(), nil)

	res, err := h.Handle(context.Background(), ReconstructMinutesQuery{UserID: "u-1", CourseID: "go-101"})
	require.NoError(t, err)
	assert.Equal(t, reconstruct.StrategyNoData, res.Sessions[3].Strategy)
	assert.Equal(t, 40.0, res.TotalMinutes)
}

func TestReconstructMinutesValidation(t *testing.T) {
	h := NewReconstructMinutesHandler(memory.NewSessionRepository(), memory.NewCatalog(), nil, reconstruct.DefaultParams(), nil)

	_, err := h.Handle(context.Background(), ReconstructMinutesQuery{UserID: "", CourseID: "go-101"})
	assert.ErrorIs(t, err, shared.ErrInvalidUserID)

	res, err := h.Handle(context.Background(), ReconstructMinutesQuery{UserID: "u-9", CourseID: "go-101"})
	require.NoError(t, err)
	assert.Empty(t, res.Sessions)
	assert.Zero(t, res.TotalMinutes)
}
