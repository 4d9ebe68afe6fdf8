package command

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/alem-hub/engagement-core/internal/domain/attention"
	"github.com/alem-hub/engagement-core/internal/domain/catalog"
	"github.com/alem-hub/engagement-core/internal/domain/leasepool"
	"github.com/alem-hub/engagement-core/internal/domain/progress"
	"github.com/alem-hub/engagement-core/internal/domain/reconstruct"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/internal/domain/viewing"
	"github.com/alem-hub/engagement-core/pkg/logger"
	"github.com/alem-hub/engagement-core/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SESSION LIFECYCLE MANAGER
// Owns the Active -> Ended lifecycle of viewing sessions. Heartbeats are
// applied under the session row lock; closing a session scores it in the
// same row update. Downstream effects (lease release, presence, progress)
// run after the row commits and never fail the session operation.
// ══════════════════════════════════════════════════════════════════════════════

// errUnchanged aborts a row update without writing.
var errUnchanged = errors.New("session unchanged")

// Reasons reported for ignored heartbeats.
const (
	IgnoredUnknownSession = "unknown session"
	IgnoredSessionEnded   = "session already ended"
)

// SessionManagerConfig holds the tuning of the lifecycle.
type SessionManagerConfig struct {
	Limits      viewing.Limits
	Weights     attention.Weights
	Reconstruct reconstruct.Params

	// StaleThreshold is the default silence after which the reaper closes
	// a session.
	StaleThreshold time.Duration

	// ReapConcurrency bounds parallel reaps.
	ReapConcurrency int
}

// DefaultSessionManagerConfig returns the production tuning.
func DefaultSessionManagerConfig() SessionManagerConfig {
	return SessionManagerConfig{
		Limits:          viewing.DefaultLimits(),
		Weights:         attention.DefaultWeights(),
		Reconstruct:     reconstruct.DefaultParams(),
		StaleThreshold:  3 * time.Hour,
		ReapConcurrency: 8,
	}
}

// SessionManagerDeps are the collaborators of the manager. Leases and
// Presence may be nil.
type SessionManagerDeps struct {
	Sessions   viewing.Repository
	Progress   progress.Repository
	Catalog    catalog.Catalog
	Leases     leasepool.Pool
	Presence   viewing.PresenceTracker
	Aggregator *ProgressAggregator
	Clock      timeutil.Clock
	Logger     *logger.Logger

	// NewID generates session IDs. Defaults to random UUIDs.
	NewID func() string
}

// SessionManager handles start, heartbeat, end and reap_stale.
type SessionManager struct {
	deps   SessionManagerDeps
	config SessionManagerConfig
	logger *logger.Logger
}

// NewSessionManager creates a new SessionManager.
func NewSessionManager(deps SessionManagerDeps, config SessionManagerConfig) *SessionManager {
	if deps.Clock == nil {
		deps.Clock = timeutil.SystemClock{}
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if config.ReapConcurrency <= 0 {
		config.ReapConcurrency = 1
	}
	return &SessionManager{
		deps:   deps,
		config: config,
		logger: deps.Logger.With(logger.Component("session_manager")),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT
// ══════════════════════════════════════════════════════════════════════════════

// SessionSnapshot is the client-facing view of a session.
type SessionSnapshot struct {
	SessionID       viewing.SessionID
	UserID          shared.UserID
	CourseID        shared.CourseID
	ContentID       shared.ContentID
	State           viewing.SessionState
	StartedAt       time.Time
	EndedAt         *time.Time
	LastHeartbeatAt *time.Time
	Position        float64
	ActiveSeconds   float64
	CompletionPct   float64
	SkipCount       int
	SeekCount       int
	PauseCount      int
	ReplayCount     int
	Reaped          bool
	Attention       *viewing.AttentionSummary

	// LeaseKeyID is the storage key leased at start; StorageFallback is set
	// when the pool had no capacity and the client must use the fallback path.
	LeaseKeyID      string
	StorageFallback bool

	// Clamped is set when this update's watch delta was clamped.
	Clamped bool

	// Ignored is set when a heartbeat was accepted as a no-op.
	Ignored       bool
	IgnoredReason string

	// UI flags.
	IsCompleted   bool
	CanAccessNext bool
}

func snapshotOf(s *viewing.Session) *SessionSnapshot {
	return &SessionSnapshot{
		SessionID:       s.ID,
		UserID:          s.UserID,
		CourseID:        s.CourseID,
		ContentID:       s.ContentID,
		State:           s.State(),
		StartedAt:       s.StartedAt,
		EndedAt:         s.EndedAt,
		LastHeartbeatAt: s.LastHeartbeatAt,
		Position:        s.Position,
		ActiveSeconds:   s.ActiveSeconds,
		CompletionPct:   s.CompletionPct.Float64(),
		SkipCount:       s.SkipCount,
		SeekCount:       s.SeekCount,
		PauseCount:      s.PauseCount,
		ReplayCount:     s.ReplayCount,
		Reaped:          s.Reaped,
		Attention:       s.Attention,
		LeaseKeyID:      s.LeaseKeyID,
		CanAccessNext:   !s.HasContent(),
	}
}

// withFlags fills the UI flags from the content progress row. row may be
// nil, in which case it is looked up.
func (m *SessionManager) withFlags(ctx context.Context, snap *SessionSnapshot, row *progress.ContentProgress) *SessionSnapshot {
	if snap.ContentID.IsZero() {
		snap.CanAccessNext = true
		return snap
	}
	if row == nil && m.deps.Progress != nil {
		found, err := m.deps.Progress.GetContent(ctx, snap.UserID, snap.ContentID)
		if err != nil && !shared.IsNotFound(err) {
			m.logger.Warn("content progress lookup failed", logger.SessionID(snap.SessionID.String()), logger.Err(err))
		}
		row = found
	}
	if row != nil {
		snap.IsCompleted = row.IsCompleted
	}
	snap.CanAccessNext = snap.IsCompleted
	return snap
}

// ══════════════════════════════════════════════════════════════════════════════
// START
// ══════════════════════════════════════════════════════════════════════════════

// StartSessionCommand opens a session.
type StartSessionCommand struct {
	UserID          string
	CourseID        string
	ContentID       string
	InitialPosition float64
	At              time.Time
}

// Start creates an Active session and, when it names a content item, leases
// a storage key for it. Lease exhaustion does not fail the start; the
// snapshot carries StorageFallback instead.
func (m *SessionManager) Start(ctx context.Context, cmd StartSessionCommand) (*SessionSnapshot, error) {
	user, err := shared.NewUserID(cmd.UserID)
	if err != nil {
		return nil, err
	}
	course, err := shared.NewCourseID(cmd.CourseID)
	if err != nil {
		return nil, err
	}
	if cmd.InitialPosition < 0 {
		return nil, shared.ErrInvalidPosition
	}
	at := m.at(cmd.At)

	session, err := viewing.NewSession(
		viewing.SessionID(m.deps.NewID()), user, course, shared.ContentID(cmd.ContentID), cmd.InitialPosition, at)
	if err != nil {
		return nil, err
	}

	var (
		lease    *leasepool.Lease
		fallback bool
		row      *progress.ContentProgress
	)
	if session.HasContent() {
		row = m.contentRow(ctx, session)
		if row != nil {
			session.WatchBase = row.WatchSeconds
		}
		lease, fallback = m.lease(ctx, session.ID, at)
	}
	if lease != nil {
		session.LeaseKeyID = lease.KeyID.String()
	}

	if err := m.deps.Sessions.Create(ctx, session); err != nil {
		if lease != nil {
			m.release(ctx, session.ID, lease.KeyID)
		}
		sessionEvents.WithLabelValues("start", "error").Inc()
		return nil, fmt.Errorf("start_session: %w", err)
	}

	m.touch(ctx, session.ID, at)
	if m.deps.Aggregator != nil {
		if _, err := m.deps.Aggregator.MarkStarted(ctx, user, course, at); err != nil {
			m.logger.Warn("mark started failed", logger.SessionID(session.ID.String()), logger.Err(err))
		}
	}

	sessionEvents.WithLabelValues("start", "ok").Inc()
	m.logger.Info("session started",
		logger.SessionID(session.ID.String()),
		logger.UserID(user.String()),
		logger.CourseID(course.String()),
		logger.ContentID(session.ContentID.String()),
		logger.Bool("storage_fallback", fallback),
	)

	snap := snapshotOf(session)
	snap.StorageFallback = fallback
	return m.withFlags(ctx, snap, row), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HEARTBEAT
// ══════════════════════════════════════════════════════════════════════════════

// HeartbeatCommand carries one telemetry update. UserID, when set, must own
// the session.
type HeartbeatCommand struct {
	SessionID string
	UserID    string
	Telemetry viewing.Telemetry
	At        time.Time
}

// Heartbeat applies telemetry to an Active session. Heartbeats for unknown
// or ended sessions succeed as no-ops with Ignored set.
func (m *SessionManager) Heartbeat(ctx context.Context, cmd HeartbeatCommand) (*SessionSnapshot, error) {
	id := viewing.SessionID(cmd.SessionID)
	if !id.IsValid() {
		return nil, shared.ErrInvalidSessionID
	}
	at := m.at(cmd.At)

	var (
		applied viewing.ApplyResult
		current *viewing.Session
	)
	updated, err := m.deps.Sessions.Update(ctx, id, func(s *viewing.Session) error {
		if err := checkOwner(s, cmd.UserID); err != nil {
			return err
		}
		if !s.IsActive() {
			current = s
			return errUnchanged
		}
		applied = s.Apply(cmd.Telemetry, at, m.config.Limits)
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		sessionEvents.WithLabelValues("heartbeat", "ignored").Inc()
		snap := snapshotOf(current)
		snap.Ignored, snap.IgnoredReason = true, IgnoredSessionEnded
		return m.withFlags(ctx, snap, nil), nil
	case shared.IsNotFound(err):
		sessionEvents.WithLabelValues("heartbeat", "ignored").Inc()
		return &SessionSnapshot{SessionID: id, Ignored: true, IgnoredReason: IgnoredUnknownSession}, nil
	case err != nil:
		sessionEvents.WithLabelValues("heartbeat", "error").Inc()
		return nil, fmt.Errorf("heartbeat: %w", err)
	}

	m.recordClamp(updated, applied)
	m.touch(ctx, id, at)
	row := m.contribute(ctx, updated, applied, cmd.Telemetry, at)

	sessionEvents.WithLabelValues("heartbeat", "ok").Inc()
	snap := snapshotOf(updated)
	snap.Clamped = applied.Clamped
	return m.withFlags(ctx, snap, row), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// END
// ══════════════════════════════════════════════════════════════════════════════

// EndSessionCommand closes a session with its final telemetry.
type EndSessionCommand struct {
	SessionID string
	UserID    string
	Telemetry viewing.Telemetry
	At        time.Time
}

// End applies the final telemetry, closes the session and scores it in one
// row update. Ending an already ended session returns it unchanged.
func (m *SessionManager) End(ctx context.Context, cmd EndSessionCommand) (*SessionSnapshot, error) {
	id := viewing.SessionID(cmd.SessionID)
	if !id.IsValid() {
		return nil, shared.ErrInvalidSessionID
	}
	at := m.at(cmd.At)

	existing, err := m.deps.Sessions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("end_session: %w", err)
	}
	if err := checkOwner(existing, cmd.UserID); err != nil {
		return nil, err
	}
	if !existing.IsActive() {
		sessionEvents.WithLabelValues("end", "ignored").Inc()
		return m.withFlags(ctx, snapshotOf(existing), nil), nil
	}

	// Catalog lookups stay outside the row transaction.
	nominal := m.nominal(ctx, existing.ContentID)

	var (
		applied viewing.ApplyResult
		current *viewing.Session
	)
	updated, err := m.deps.Sessions.Update(ctx, id, func(s *viewing.Session) error {
		if !s.IsActive() {
			current = s
			return errUnchanged
		}
		applied = s.Apply(cmd.Telemetry, at, m.config.Limits)
		s.Close(at)
		s.RecordAttention(attention.Score(s, nominal, m.config.Weights).Summary(at))
		return nil
	})
	switch {
	case errors.Is(err, errUnchanged):
		sessionEvents.WithLabelValues("end", "ignored").Inc()
		return m.withFlags(ctx, snapshotOf(current), nil), nil
	case err != nil:
		sessionEvents.WithLabelValues("end", "error").Inc()
		return nil, fmt.Errorf("end_session: %w", err)
	}

	m.recordClamp(updated, applied)
	m.afterClose(ctx, updated)
	row := m.contribute(ctx, updated, applied, cmd.Telemetry, at)

	sessionEvents.WithLabelValues("end", "ok").Inc()
	m.logger.Info("session ended",
		logger.SessionID(id.String()),
		logger.UserID(updated.UserID.String()),
		logger.Float64("active_seconds", updated.ActiveSeconds),
		logger.Int("attention_score", updated.Attention.Score),
		logger.Bool("suspicious", updated.Attention.IsSuspicious),
	)

	snap := snapshotOf(updated)
	snap.Clamped = applied.Clamped
	return m.withFlags(ctx, snap, row), nil
}

// ══════════════════════════════════════════════════════════════════════════════
// REAP STALE
// ══════════════════════════════════════════════════════════════════════════════

// ReapStaleCommand configures one reaper pass.
type ReapStaleCommand struct {
	// Threshold is the silence after which a session is abandoned.
	// Zero uses the configured default.
	Threshold time.Duration
	At        time.Time
	Limit     int
}

// ReapStaleResult summarizes a reaper pass.
type ReapStaleResult struct {
	Scanned int
	Reaped  int
	Skipped int
	Failed  int
}

// ReapStale force-ends Active sessions silent for longer than the
// threshold. The end time is the bounded repair duration after the start,
// never before the last heartbeat and never after now; no active time is
// credited for the silence.
func (m *SessionManager) ReapStale(ctx context.Context, cmd ReapStaleCommand) (*ReapStaleResult, error) {
	threshold := cmd.Threshold
	if threshold <= 0 {
		threshold = m.config.StaleThreshold
	}
	at := m.at(cmd.At)
	cutoff := at.Add(-threshold)

	stale, err := m.deps.Sessions.ListStale(ctx, cutoff, cmd.Limit)
	if err != nil {
		return nil, fmt.Errorf("reap_stale: %w", err)
	}

	var reaped, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.ReapConcurrency)
	for _, s := range stale {
		g.Go(func() error {
			ok, err := m.reapOne(gctx, s, cutoff, at)
			switch {
			case err != nil:
				failed.Add(1)
				sessionEvents.WithLabelValues("reap", "error").Inc()
				m.logger.Error("reap failed", logger.SessionID(s.ID.String()), logger.Err(err))
			case ok:
				reaped.Add(1)
				sessionEvents.WithLabelValues("reap", "ok").Inc()
			default:
				skipped.Add(1)
				sessionEvents.WithLabelValues("reap", "ignored").Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	result := &ReapStaleResult{
		Scanned: len(stale),
		Reaped:  int(reaped.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}
	if result.Scanned > 0 {
		m.logger.Info("stale sessions reaped",
			logger.Int("scanned", result.Scanned),
			logger.Int("reaped", result.Reaped),
			logger.Int("skipped", result.Skipped),
			logger.Int("failed", result.Failed),
		)
	}
	return result, nil
}

// reapOne closes one stale session. It reports false when the session was
// closed or heartbeated by someone else in the meantime.
func (m *SessionManager) reapOne(ctx context.Context, candidate *viewing.Session, cutoff, at time.Time) (bool, error) {
	nominal := m.nominal(ctx, candidate.ContentID)

	updated, err := m.deps.Sessions.Update(ctx, candidate.ID, func(s *viewing.Session) error {
		if !s.IsActive() || !s.LastSeen().Before(cutoff) {
			return errUnchanged
		}
		end := reconstruct.ReapedEnd(s.StartedAt, s.LastSeen(), nominal, m.config.Reconstruct)
		end = timeutil.Earlier(end, at)

		s.Close(end)
		s.Reaped = true
		s.UpdatedAt = at
		s.RecordAttention(attention.Score(s, nominal, m.config.Weights).Summary(at))
		return nil
	})
	if errors.Is(err, errUnchanged) || shared.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	m.afterClose(ctx, updated)
	if updated.HasContent() && m.deps.Aggregator != nil {
		if _, _, err := m.deps.Aggregator.RecomputeCourse(ctx, updated.UserID, updated.CourseID, at); err != nil {
			m.logger.Warn("course recompute after reap failed", logger.SessionID(updated.ID.String()), logger.Err(err))
		}
	}

	m.logger.Info("session reaped",
		logger.SessionID(updated.ID.String()),
		logger.Time("ended_at", *updated.EndedAt),
		logger.Int("attention_score", updated.Attention.Score),
	)
	return true, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func checkOwner(s *viewing.Session, user string) error {
	if user != "" && s.UserID.String() != user {
		return shared.ErrSessionOwner
	}
	return nil
}

func (m *SessionManager) at(t time.Time) time.Time {
	if t.IsZero() {
		return m.deps.Clock.Now()
	}
	return t.UTC()
}

func (m *SessionManager) nominal(ctx context.Context, id shared.ContentID) *time.Duration {
	d, err := catalog.NominalDuration(ctx, m.deps.Catalog, id)
	if err != nil {
		m.logger.Warn("nominal duration unavailable", logger.ContentID(id.String()), logger.Err(err))
	}
	return d
}

func (m *SessionManager) lease(ctx context.Context, id viewing.SessionID, at time.Time) (*leasepool.Lease, bool) {
	if m.deps.Leases == nil {
		return nil, false
	}
	lease, err := m.deps.Leases.Lease(ctx, at)
	switch {
	case err == nil:
		leaseOutcomes.WithLabelValues("granted").Inc()
		return lease, false
	case shared.IsNoCapacity(err):
		leaseOutcomes.WithLabelValues("exhausted").Inc()
		m.logger.Warn("api key pool exhausted", logger.SessionID(id.String()))
	default:
		leaseOutcomes.WithLabelValues("error").Inc()
		m.logger.Error("api key lease failed", logger.SessionID(id.String()), logger.Err(err))
	}
	return nil, true
}

func (m *SessionManager) release(ctx context.Context, id viewing.SessionID, key leasepool.KeyID) {
	if m.deps.Leases == nil || key == "" {
		return
	}
	if err := m.deps.Leases.Release(ctx, key); err != nil {
		m.logger.Error("api key release failed",
			logger.SessionID(id.String()),
			logger.KeyID(key.String()),
			logger.Err(err),
		)
	}
}

func (m *SessionManager) touch(ctx context.Context, id viewing.SessionID, at time.Time) {
	if m.deps.Presence == nil {
		return
	}
	if err := m.deps.Presence.Touch(ctx, id, at); err != nil {
		m.logger.Warn("presence touch failed", logger.SessionID(id.String()), logger.Err(err))
	}
}

// afterClose runs the side effects of a session that was just closed.
func (m *SessionManager) afterClose(ctx context.Context, s *viewing.Session) {
	m.release(ctx, s.ID, leasepool.KeyID(s.LeaseKeyID))
	if m.deps.Presence != nil {
		if err := m.deps.Presence.Remove(ctx, s.ID); err != nil {
			m.logger.Warn("presence remove failed", logger.SessionID(s.ID.String()), logger.Err(err))
		}
	}
	if s.Attention != nil {
		attentionScores.Observe(float64(s.Attention.Score))
		if s.Attention.IsSuspicious {
			suspiciousSessions.Inc()
			m.logger.Warn("suspicious session",
				logger.SessionID(s.ID.String()),
				logger.UserID(s.UserID.String()),
				logger.Int("attention_score", s.Attention.Score),
				logger.Any("explanation", s.Attention.Explanation),
			)
		}
	}
}

func (m *SessionManager) recordClamp(s *viewing.Session, applied viewing.ApplyResult) {
	if !applied.Clamped {
		return
	}
	clampedHeartbeats.Inc()
	m.logger.Warn("implausible watch delta clamped",
		logger.SessionID(s.ID.String()),
		logger.UserID(s.UserID.String()),
		logger.Float64("reported", applied.ReportedWatch),
		logger.Float64("accepted", applied.AcceptedWatch),
	)
}

// contribute forwards the accepted update to the aggregator and returns the
// resulting content row, nil when there is none.
// contentRow reads the learner's row for the session's item, nil when there
// is none yet or the read failed.
func (m *SessionManager) contentRow(ctx context.Context, s *viewing.Session) *progress.ContentProgress {
	if m.deps.Progress == nil {
		return nil
	}
	row, err := m.deps.Progress.GetContent(ctx, s.UserID, s.ContentID)
	if err != nil {
		if !shared.IsNotFound(err) {
			m.logger.Warn("content progress lookup failed", logger.SessionID(s.ID.String()), logger.Err(err))
		}
		return nil
	}
	return row
}

func (m *SessionManager) contribute(ctx context.Context, s *viewing.Session, applied viewing.ApplyResult, t viewing.Telemetry, at time.Time) *progress.ContentProgress {
	if m.deps.Aggregator == nil || !applied.Applied || !s.HasContent() {
		return nil
	}
	res, err := m.deps.Aggregator.Contribute(ctx, progress.Contribution{
		UserID:        s.UserID,
		CourseID:      s.CourseID,
		ContentID:     s.ContentID,
		SessionWatch:  s.ContentWatch(),
		CompletionPct: t.CompletionPct,
		Position:      s.Position,
		At:            at,
	})
	if err != nil {
		m.logger.Warn("progress contribution failed", logger.SessionID(s.ID.String()), logger.Err(err))
		return nil
	}
	return res.Content
}
