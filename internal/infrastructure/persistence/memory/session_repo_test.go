package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/internal/domain/viewing"
)

func newSession(t *testing.T, id string, start time.Time) *viewing.Session {
	t.Helper()
	s, err := viewing.NewSession(viewing.SessionID(id), "u1", "c1", "v1", 0, start)
	require.NoError(t, err)
	return s
}

func TestSessionRepositoryUpdateIsolation(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	require.NoError(t, repo.Create(ctx, newSession(t, "s1", t0)))
	assert.ErrorIs(t, repo.Create(ctx, newSession(t, "s1", t0)), shared.ErrSessionExists)

	_, err := repo.Update(ctx, "s1", func(s *viewing.Session) error {
		s.ActiveSeconds = 99
		return errors.New("abort")
	})
	require.Error(t, err)

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, got.ActiveSeconds)

	got.ActiveSeconds = 50
	again, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, again.ActiveSeconds)

	_, err = repo.Update(ctx, "missing", func(*viewing.Session) error { return nil })
	assert.True(t, shared.IsNotFound(err))
}

func TestSessionRepositoryListings(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()

	stale := newSession(t, "stale", t0)
	fresh := newSession(t, "fresh", t0.Add(4*time.Hour))
	long := newSession(t, "long", t0)
	long.Close(t0.Add(5 * time.Hour))
	short := newSession(t, "short", t0)
	short.Close(t0.Add(10 * time.Minute))

	for _, s := range []*viewing.Session{stale, fresh, long, short} {
		require.NoError(t, repo.Create(ctx, s))
	}

	now := t0.Add(5 * time.Hour)
	staleList, err := repo.ListStale(ctx, now.Add(-3*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, staleList, 1)
	assert.Equal(t, viewing.SessionID("stale"), staleList[0].ID)

	implausible, err := repo.ListImplausible(ctx, 180*time.Minute, 10)
	require.NoError(t, err)
	require.Len(t, implausible, 1)
	assert.Equal(t, viewing.SessionID("long"), implausible[0].ID)

	all, err := repo.ListByUserCourse(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Len(t, all, 4)
}
