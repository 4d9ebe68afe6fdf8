package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/engagement-core/internal/domain/attention"
	"github.com/alem-hub/engagement-core/internal/domain/reconstruct"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/internal/domain/viewing"
	"github.com/alem-hub/engagement-core/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/engagement-core/pkg/timeutil"
)

func closedSession(t *testing.T, repo *memory.SessionRepository, id, content string, span time.Duration) {
	t.Helper()
	s, err := viewing.NewSession(viewing.SessionID(id), "u-1", "go-101", shared.ContentID(content), 0, t0)
	require.NoError(t, err)
	s.ActiveSeconds = 120
	s.Close(t0.Add(span))
	require.NoError(t, repo.Create(context.Background(), s))
}

func TestRepairSessions(t *testing.T) {
	ctx := context.Background()
	sessions := memory.NewSessionRepository()
	cat := memory.NewCatalog(video("go-101", "intro", 1, minutes(10)))

	closedSession(t, sessions, "corrupt-known", "intro", 26*time.Hour)
	closedSession(t, sessions, "corrupt-unknown", "gone", 9*time.Hour)
	closedSession(t, sessions, "fine", "intro", 12*time.Minute)

	repair := NewRepairSessionsHandler(sessions, cat, reconstruct.DefaultParams(), attention.DefaultWeights(),
		timeutil.NewFixedClock(t0.Add(48*time.Hour)), nil)

	res, err := repair.Handle(ctx, RepairSessionsCommand{})
	require.NoError(t, err)
	assert.Equal(t, &RepairSessionsResult{Scanned: 2, Repaired: 2}, res)

	known, err := sessions.Get(ctx, "corrupt-known")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(15*time.Minute), *known.EndedAt)
	require.NotNil(t, known.Attention)
	assert.False(t, known.Attention.LowConfidence)

	unknown, err := sessions.Get(ctx, "corrupt-unknown")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(30*time.Minute), *unknown.EndedAt)

	fine, err := sessions.Get(ctx, "fine")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(12*time.Minute), *fine.EndedAt)
	assert.Nil(t, fine.Attention)

	again, err := repair.Handle(ctx, RepairSessionsCommand{})
	require.NoError(t, err)
	assert.Zero(t, again.Scanned)
	assert.Zero(t, again.Repaired)
}

func TestRepairSessionsCustomBound(t *testing.T) {
	ctx := context.Background()
	sessions := memory.NewSessionRepository()
	cat := memory.NewCatalog(video("go-101", "intro", 1, minutes(10)))
	closedSession(t, sessions, "long", "intro", 50*time.Minute)

	repair := NewRepairSessionsHandler(sessions, cat, reconstruct.DefaultParams(), attention.DefaultWeights(), nil, nil)

	res, err := repair.Handle(ctx, RepairSessionsCommand{})
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)

	res, err = repair.Handle(ctx, RepairSessionsCommand{Bound: 40 * time.Minute, At: t0.Add(time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Repaired)

	long, err := sessions.Get(ctx, "long")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(15*time.Minute), *long.EndedAt)
}
