// Package leasepool arbitrates a small set of external-storage API keys
// across concurrent viewing sessions. Every key carries a lease counter
// bounded by its capacity; leasing picks the least loaded key and fails fast
// when none has room.
package leasepool

import (
	"context"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

// ErrNoCapacity is returned by Lease when every enabled key is full.
var ErrNoCapacity = shared.ErrPoolExhausted

// KeyID identifies an API key.
type KeyID string

// String returns the string representation.
func (k KeyID) String() string {
	return string(k)
}

// Key is one pooled API key.
type Key struct {
	ID           KeyID
	Label        string
	ActiveLeases int
	MaxLeases    int
	IsEnabled    bool
	LastLeasedAt *time.Time
}

// Available reports whether the key can take another lease.
func (k Key) Available() bool {
	return k.IsEnabled && k.ActiveLeases < k.MaxLeases
}

// Less orders keys for selection: fewest active leases first, then least
// recently leased (never-leased first), then ID for determinism.
func (k Key) Less(other Key) bool {
	if k.ActiveLeases != other.ActiveLeases {
		return k.ActiveLeases < other.ActiveLeases
	}
	switch {
	case k.LastLeasedAt == nil && other.LastLeasedAt != nil:
		return true
	case k.LastLeasedAt != nil && other.LastLeasedAt == nil:
		return false
	case k.LastLeasedAt != nil && !k.LastLeasedAt.Equal(*other.LastLeasedAt):
		return k.LastLeasedAt.Before(*other.LastLeasedAt)
	}
	return k.ID < other.ID
}

// SelectKey returns the index of the key a lease should go to, or -1 when
// no key is available.
func SelectKey(keys []Key) int {
	best := -1
	for i, k := range keys {
		if !k.Available() {
			continue
		}
		if best < 0 || k.Less(keys[best]) {
			best = i
		}
	}
	return best
}

// Lease is a granted lease.
type Lease struct {
	KeyID    KeyID
	Label    string
	LeasedAt time.Time
}

// Pool is the lease pool. Lease and Release must be atomic with respect to
// each other: two concurrent leases can never both take the last slot of a key.
type Pool interface {
	// Lease picks a key and increments its counter, or returns ErrNoCapacity.
	Lease(ctx context.Context, now time.Time) (*Lease, error)

	// Release decrements the counter of a key, never below zero.
	Release(ctx context.Context, id KeyID) error

	// List returns all keys ordered by ID.
	List(ctx context.Context) ([]Key, error)
}
