package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/leasepool"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

// LeasePool implements leasepool.Pool. Selection and increment happen under
// one mutex, so concurrent leases never overfill a key.
type LeasePool struct {
	mu   sync.Mutex
	keys []leasepool.Key
}

// NewLeasePool creates a pool holding keys.
func NewLeasePool(keys ...leasepool.Key) *LeasePool {
	p := &LeasePool{}
	p.Seed(keys)
	return p
}

var _ leasepool.Pool = (*LeasePool)(nil)

// Seed adds keys that are missing and updates label, capacity and enabled
// flag of the ones present, clamping active leases to the new capacity.
func (p *LeasePool) Seed(keys []leasepool.Key) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, k := range keys {
		if i := p.index(k.ID); i >= 0 {
			current := &p.keys[i]
			current.Label = k.Label
			current.MaxLeases = k.MaxLeases
			current.IsEnabled = k.IsEnabled
			current.ActiveLeases = min(current.ActiveLeases, k.MaxLeases)
			continue
		}
		k.LastLeasedAt = cloneTime(k.LastLeasedAt)
		p.keys = append(p.keys, k)
	}
	sort.Slice(p.keys, func(i, j int) bool { return p.keys[i].ID < p.keys[j].ID })
}

// Lease takes a slot on the least loaded enabled key.
func (p *LeasePool) Lease(_ context.Context, now time.Time) (*leasepool.Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := leasepool.SelectKey(p.keys)
	if i < 0 {
		return nil, leasepool.ErrNoCapacity
	}

	k := &p.keys[i]
	k.ActiveLeases++
	at := now
	k.LastLeasedAt = &at

	return &leasepool.Lease{KeyID: k.ID, Label: k.Label, LeasedAt: now}, nil
}

// Release returns a slot. The counter never drops below zero.
func (p *LeasePool) Release(_ context.Context, id leasepool.KeyID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	i := p.index(id)
	if i < 0 {
		return shared.ErrKeyNotFound
	}
	if p.keys[i].ActiveLeases > 0 {
		p.keys[i].ActiveLeases--
	}
	return nil
}

// List returns all keys ordered by ID.
func (p *LeasePool) List(_ context.Context) ([]leasepool.Key, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]leasepool.Key, len(p.keys))
	for i, k := range p.keys {
		k.LastLeasedAt = cloneTime(k.LastLeasedAt)
		out[i] = k
	}
	return out, nil
}

func (p *LeasePool) index(id leasepool.KeyID) int {
	for i := range p.keys {
		if p.keys[i].ID == id {
			return i
		}
	}
	return -1
}
