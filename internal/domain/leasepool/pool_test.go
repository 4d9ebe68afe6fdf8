package leasepool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

func at(min int) *time.Time {
	t := time.Date(2026, 3, 2, 9, min, 0, 0, time.UTC)
	return &t
}

func TestSelectKey(t *testing.T) {
	tests := []struct {
		name string
		keys []Key
		want int
	}{
		{
			name: "fewest leases wins",
			keys: []Key{
				{ID: "a", ActiveLeases: 3, MaxLeases: 5, IsEnabled: true},
				{ID: "b", ActiveLeases: 1, MaxLeases: 5, IsEnabled: true},
			},
			want: 1,
		},
		{
			name: "tie broken by least recently leased",
			keys: []Key{
				{ID: "a", ActiveLeases: 1, MaxLeases: 5, IsEnabled: true, LastLeasedAt: at(30)},
				{ID: "b", ActiveLeases: 1, MaxLeases: 5, IsEnabled: true, LastLeasedAt: at(10)},
			},
			want: 1,
		},
		{
			name: "never leased beats recently leased",
			keys: []Key{
				{ID: "a", ActiveLeases: 0, MaxLeases: 5, IsEnabled: true, LastLeasedAt: at(1)},
				{ID: "b", ActiveLeases: 0, MaxLeases: 5, IsEnabled: true},
			},
			want: 1,
		},
		{
			name: "full and disabled keys are skipped",
			keys: []Key{
				{ID: "a", ActiveLeases: 0, MaxLeases: 5, IsEnabled: false},
				{ID: "b", ActiveLeases: 2, MaxLeases: 2, IsEnabled: true},
				{ID: "c", ActiveLeases: 4, MaxLeases: 5, IsEnabled: true},
			},
			want: 2,
		},
		{
			name: "nothing available",
			keys: []Key{
				{ID: "a", ActiveLeases: 1, MaxLeases: 1, IsEnabled: true},
				{ID: "b", ActiveLeases: 1, MaxLeases: 1, IsEnabled: true},
			},
			want: -1,
		},
		{
			name: "empty pool",
			want: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SelectKey(tt.keys))
		})
	}
}

func TestErrNoCapacityIsDistinct(t *testing.T) {
	assert.True(t, shared.IsNoCapacity(ErrNoCapacity))
	assert.False(t, shared.IsNotFound(ErrNoCapacity))
}
