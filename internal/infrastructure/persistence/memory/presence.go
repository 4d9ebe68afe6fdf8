package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/viewing"
)

// Presence implements viewing.PresenceTracker.
type Presence struct {
	mu       sync.Mutex
	lastSeen map[viewing.SessionID]time.Time
}

// NewPresence creates an empty presence tracker.
func NewPresence() *Presence {
	return &Presence{lastSeen: make(map[viewing.SessionID]time.Time)}
}

var _ viewing.PresenceTracker = (*Presence)(nil)

// Touch records a heartbeat.
func (p *Presence) Touch(_ context.Context, id viewing.SessionID, at time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen[id] = at
	return nil
}

// Remove drops a session.
func (p *Presence) Remove(_ context.Context, id viewing.SessionID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.lastSeen, id)
	return nil
}

// CountLive returns the number of sessions seen at or after since.
func (p *Presence) CountLive(_ context.Context, since time.Time) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, at := range p.lastSeen {
		if !at.Before(since) {
			n++
		}
	}
	return n, nil
}
