package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errNotFound = errors.New("not found")
	boom        = errors.New("boom")
)

func fail(context.Context) error    { return boom }
func succeed(context.Context) error { return nil }

// withClock swaps the breaker clock for one the test moves by hand.
func withClock(cb *CircuitBreaker) *time.Time {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }
	return &now
}

func TestCatalogBreakerIgnoresNotFound(t *testing.T) {
	cb := CatalogBreaker(nil, func(err error) bool { return !errors.Is(err, errNotFound) })

	for i := 0; i < 10; i++ {
		err := cb.Execute(context.Background(), func(context.Context) error { return errNotFound })
		assert.ErrorIs(t, err, errNotFound)
	}
	assert.Equal(t, StateClosed, cb.State())
}

func TestSuccessResetsFailureRun(t *testing.T) {
	cb := New(Settings{Name: "test", FailureThreshold: 3})
	ctx := context.Background()

	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)
	require.NoError(t, cb.Execute(ctx, succeed))
	_ = cb.Execute(ctx, fail)
	_ = cb.Execute(ctx, fail)

	assert.Equal(t, StateClosed, cb.State())
}

func TestBreakerLifecycle(t *testing.T) {
	var transitions []State
	cb := CatalogBreaker(func(name string, _, to State) {
		assert.Equal(t, "catalog", name)
		transitions = append(transitions, to)
	}, nil)
	now := withClock(cb)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
	}
	require.True(t, cb.IsOpen())

	calls := 0
	err := cb.Execute(ctx, func(context.Context) error { calls++; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Zero(t, calls)

	// After the cool-down two successful trial calls close it again.
	*now = now.Add(15 * time.Second)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Equal(t, StateClosed, cb.State())

	assert.Equal(t, []State{StateOpen, StateHalfOpen, StateClosed}, transitions)
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := CacheBreaker("presence", nil)
	now := withClock(cb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	require.True(t, cb.IsOpen())

	*now = now.Add(5 * time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
	assert.True(t, cb.IsOpen())
	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
}

func TestHalfOpenLimitsConcurrentTrials(t *testing.T) {
	cb := CacheBreaker("presence", nil)
	now := withClock(cb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = cb.Execute(ctx, fail)
	}
	*now = now.Add(5 * time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(ctx, func(context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrTooManyRequests)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, "presence", cb.Name())
}
