package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/engagement-core/internal/domain/leasepool"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestLeasePoolExhaustion(t *testing.T) {
	ctx := context.Background()
	pool := NewLeasePool(
		leasepool.Key{ID: "k1", MaxLeases: 1, IsEnabled: true},
		leasepool.Key{ID: "k2", MaxLeases: 1, IsEnabled: true},
	)

	first, err := pool.Lease(ctx, t0)
	require.NoError(t, err)
	second, err := pool.Lease(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	assert.NotEqual(t, first.KeyID, second.KeyID)

	_, err = pool.Lease(ctx, t0.Add(2*time.Second))
	assert.ErrorIs(t, err, leasepool.ErrNoCapacity)
	assert.True(t, shared.IsNoCapacity(err))

	require.NoError(t, pool.Release(ctx, first.KeyID))
	third, err := pool.Lease(ctx, t0.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, first.KeyID, third.KeyID)
}

func TestLeasePoolConcurrentLeasesNeverOverfill(t *testing.T) {
	ctx := context.Background()
	pool := NewLeasePool(
		leasepool.Key{ID: "a", MaxLeases: 3, IsEnabled: true},
		leasepool.Key{ID: "b", MaxLeases: 2, IsEnabled: true},
		leasepool.Key{ID: "off", MaxLeases: 10, IsEnabled: false},
	)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
		denied  int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Lease(ctx, t0)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				denied++
				return
			}
			granted++
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, granted)
	assert.Equal(t, 15, denied)

	keys, err := pool.List(ctx)
	require.NoError(t, err)
	for _, k := range keys {
		assert.LessOrEqual(t, k.ActiveLeases, k.MaxLeases, string(k.ID))
		assert.GreaterOrEqual(t, k.ActiveLeases, 0, string(k.ID))
	}
}

func TestLeasePoolReleaseFloorsAtZero(t *testing.T) {
	ctx := context.Background()
	pool := NewLeasePool(leasepool.Key{ID: "k1", MaxLeases: 2, IsEnabled: true})

	require.NoError(t, pool.Release(ctx, "k1"))
	require.NoError(t, pool.Release(ctx, "k1"))

	keys, err := pool.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, keys[0].ActiveLeases)

	assert.True(t, shared.IsNotFound(pool.Release(ctx, "missing")))
}

func TestLeasePoolSeedClampsActiveLeases(t *testing.T) {
	ctx := context.Background()
	pool := NewLeasePool(leasepool.Key{ID: "k1", MaxLeases: 3, IsEnabled: true})
	for i := 0; i < 3; i++ {
		_, err := pool.Lease(ctx, t0)
		require.NoError(t, err)
	}

	pool.Seed([]leasepool.Key{{ID: "k1", Label: "primary", MaxLeases: 1, IsEnabled: true}})

	keys, err := pool.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "primary", keys[0].Label)
	assert.Equal(t, 1, keys[0].ActiveLeases)
}
