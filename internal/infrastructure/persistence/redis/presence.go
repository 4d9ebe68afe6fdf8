package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/engagement-core/internal/domain/viewing"
)

// SessionPresence tracks sessions that are currently sending heartbeats.
//
// Architecture:
//   - A sorted set "engagement:presence:sessions" holds every live session
//     scored by the unix time of its last heartbeat
//   - Entries older than the retention window are trimmed on every write
//
// The session row in Postgres stays the source of truth; presence only feeds
// live counters.
type SessionPresence struct {
	cache     *Cache
	retention time.Duration
}

// keyLiveSessions is the sorted set of live sessions.
const keyLiveSessions = PrefixPresence + "sessions"

// DefaultPresenceRetention is how long a silent session stays in the set.
const DefaultPresenceRetention = 30 * time.Minute

// NewSessionPresence creates a presence tracker. A non-positive retention
// falls back to DefaultPresenceRetention.
func NewSessionPresence(cache *Cache, retention time.Duration) *SessionPresence {
	if retention <= 0 {
		retention = DefaultPresenceRetention
	}
	return &SessionPresence{cache: cache, retention: retention}
}

var _ viewing.PresenceTracker = (*SessionPresence)(nil)

// Touch records a heartbeat and trims entries past the retention window.
func (p *SessionPresence) Touch(ctx context.Context, id viewing.SessionID, at time.Time) error {
	pipe := p.cache.Client().Pipeline()

	pipe.ZAdd(ctx, keyLiveSessions, redis.Z{
		Score:  float64(at.Unix()),
		Member: id.String(),
	})
	pipe.ZRemRangeByScore(ctx, keyLiveSessions, "-inf", scoreBefore(at.Add(-p.retention)))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to touch session presence: %w", err)
	}
	return nil
}

// Remove drops a session from the live set.
func (p *SessionPresence) Remove(ctx context.Context, id viewing.SessionID) error {
	if err := p.cache.Client().ZRem(ctx, keyLiveSessions, id.String()).Err(); err != nil {
		return fmt.Errorf("failed to remove session presence: %w", err)
	}
	return nil
}

// CountLive returns the number of sessions seen at or after since.
func (p *SessionPresence) CountLive(ctx context.Context, since time.Time) (int, error) {
	n, err := p.cache.Client().ZCount(ctx, keyLiveSessions,
		strconv.FormatInt(since.Unix(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count live sessions: %w", err)
	}
	return int(n), nil
}

// scoreBefore formats an exclusive upper bound for ZRANGEBYSCORE.
func scoreBefore(t time.Time) string {
	return "(" + strconv.FormatInt(t.Unix(), 10)
}
