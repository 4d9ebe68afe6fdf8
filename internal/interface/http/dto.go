package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/alem-hub/engagement-core/internal/application/command"
	"github.com/alem-hub/engagement-core/internal/application/query"
	"github.com/alem-hub/engagement-core/internal/domain/leasepool"
	"github.com/alem-hub/engagement-core/internal/domain/progress"
	"github.com/alem-hub/engagement-core/internal/domain/viewing"
)

// ══════════════════════════════════════════════════════════════════════════════
// REQUESTS
// ══════════════════════════════════════════════════════════════════════════════

var validate = validator.New(validator.WithRequiredStructEnabled())

// StartSessionRequest opens a viewing session.
type StartSessionRequest struct {
	UserID          string  `json:"user_id" validate:"required,max=128"`
	CourseID        string  `json:"course_id" validate:"required,max=128"`
	ContentID       string  `json:"content_id" validate:"omitempty,max=128"`
	InitialPosition float64 `json:"initial_position" validate:"gte=0"`
}

// TelemetryRequest is the body of heartbeat and end. Implausible values are
// clamped by the session rather than rejected here, so a buggy player keeps
// its session.
type TelemetryRequest struct {
	UserID        string  `json:"user_id" validate:"omitempty,max=128"`
	Position      float64 `json:"position"`
	WatchDelta    float64 `json:"watch_delta"`
	SkipDelta     int     `json:"skip_delta"`
	SeekDelta     int     `json:"seek_delta"`
	PauseDelta    int     `json:"pause_delta"`
	ReplayDelta   int     `json:"replay_delta"`
	CompletionPct float64 `json:"completion_pct"`
}

func (r TelemetryRequest) telemetry() viewing.Telemetry {
	return viewing.Telemetry{
		Position:      r.Position,
		WatchDelta:    r.WatchDelta,
		SkipDelta:     r.SkipDelta,
		SeekDelta:     r.SeekDelta,
		PauseDelta:    r.PauseDelta,
		ReplayDelta:   r.ReplayDelta,
		CompletionPct: r.CompletionPct,
	}
}

// ReapStaleRequest overrides the reaper defaults.
type ReapStaleRequest struct {
	ThresholdMinutes int `json:"threshold_minutes" validate:"gte=0"`
	Limit            int `json:"limit" validate:"gte=0,lte=100000"`
}

// RepairSessionsRequest overrides the repair defaults.
type RepairSessionsRequest struct {
	BoundMinutes int `json:"bound_minutes" validate:"gte=0"`
	Limit        int `json:"limit" validate:"gte=0,lte=100000"`
}

// RecomputeProgressRequest tunes a progress backfill.
type RecomputeProgressRequest struct {
	BatchSize   int `json:"batch_size" validate:"gte=0,lte=10000"`
	Concurrency int `json:"concurrency" validate:"gte=0,lte=64"`
}

// errEmptyBody is returned by decodeJSON for a missing required body.
var errEmptyBody = errors.New("request body is required")

// decodeJSON reads and validates a request body. With allowEmpty an absent
// body leaves dst at its zero value.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !errors.Is(err, io.EOF) {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		if !allowEmpty {
			return errEmptyBody
		}
	}
	return validate.Struct(dst)
}

// validationDetails maps failed fields to the rule they broke.
func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		details[jsonName(fe.StructField())] = rule
	}
	return details
}

// jsonName converts a Go field name to its snake_case JSON name.
func jsonName(field string) string {
	var b strings.Builder
	for i := 0; i < len(field); i++ {
		c := field[i]
		if c >= 'A' && c <= 'Z' {
			if i > 0 && field[i-1] >= 'a' && field[i-1] <= 'z' {
				b.WriteByte('_')
			}
			c += 'a' - 'A'
		}
		b.WriteByte(c)
	}
	return b.String()
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSES
// ══════════════════════════════════════════════════════════════════════════════

// AttentionDTO is the scoring summary of a closed session.
type AttentionDTO struct {
	Score               int       `json:"score"`
	IsSuspicious        bool      `json:"is_suspicious"`
	WithinAllowedWindow bool      `json:"within_allowed_window"`
	LowConfidence       bool      `json:"low_confidence"`
	Explanation         []string  `json:"explanation"`
	ScoredAt            time.Time `json:"scored_at"`
}

// SessionDTO is the client-facing session state.
type SessionDTO struct {
	SessionID       string        `json:"session_id"`
	UserID          string        `json:"user_id,omitempty"`
	CourseID        string        `json:"course_id,omitempty"`
	ContentID       string        `json:"content_id,omitempty"`
	State           string        `json:"state,omitempty"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	LastHeartbeatAt *time.Time    `json:"last_heartbeat_at,omitempty"`
	Position        float64       `json:"position"`
	ActiveSeconds   float64       `json:"active_seconds"`
	CompletionPct   float64       `json:"completion_pct"`
	SkipCount       int           `json:"skip_count"`
	SeekCount       int           `json:"seek_count"`
	PauseCount      int           `json:"pause_count"`
	ReplayCount     int           `json:"replay_count"`
	Reaped          bool          `json:"reaped,omitempty"`
	Attention       *AttentionDTO `json:"attention,omitempty"`
	LeaseKeyID      string        `json:"lease_key_id,omitempty"`
	StorageFallback bool          `json:"storage_fallback"`
	Clamped         bool          `json:"clamped,omitempty"`
	Ignored         bool          `json:"ignored,omitempty"`
	IgnoredReason   string        `json:"ignored_reason,omitempty"`
	IsCompleted     bool          `json:"is_completed"`
	CanAccessNext   bool          `json:"can_access_next"`
}

func sessionDTO(s *command.SessionSnapshot) SessionDTO {
	dto := SessionDTO{
		SessionID:       s.SessionID.String(),
		UserID:          s.UserID.String(),
		CourseID:        s.CourseID.String(),
		ContentID:       s.ContentID.String(),
		EndedAt:         s.EndedAt,
		LastHeartbeatAt: s.LastHeartbeatAt,
		Position:        s.Position,
		ActiveSeconds:   s.ActiveSeconds,
		CompletionPct:   s.CompletionPct,
		SkipCount:       s.SkipCount,
		SeekCount:       s.SeekCount,
		PauseCount:      s.PauseCount,
		ReplayCount:     s.ReplayCount,
		Reaped:          s.Reaped,
		LeaseKeyID:      s.LeaseKeyID,
		StorageFallback: s.StorageFallback,
		Clamped:         s.Clamped,
		Ignored:         s.Ignored,
		IgnoredReason:   s.IgnoredReason,
		IsCompleted:     s.IsCompleted,
		CanAccessNext:   s.CanAccessNext,
	}
	// Ignored heartbeats for unknown sessions carry no session state.
	if !s.StartedAt.IsZero() {
		started := s.StartedAt
		dto.StartedAt = &started
		dto.State = s.State.String()
	}
	if a := s.Attention; a != nil {
		dto.Attention = &AttentionDTO{
			Score:               a.Score,
			IsSuspicious:        a.IsSuspicious,
			WithinAllowedWindow: a.WithinAllowedWindow,
			LowConfidence:       a.LowConfidence,
			Explanation:         a.Explanation,
			ScoredAt:            a.ScoredAt,
		}
	}
	return dto
}

// SessionMinutesDTO is the estimate of one session.
type SessionMinutesDTO struct {
	SessionID string    `json:"session_id"`
	ContentID string    `json:"content_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Minutes   float64   `json:"minutes"`
	Strategy  string    `json:"strategy"`
	Note      string    `json:"note,omitempty"`
}

// MinutesDTO is the reconstructed minutes report.
type MinutesDTO struct {
	UserID       string              `json:"user_id"`
	CourseID     string              `json:"course_id"`
	TotalMinutes float64             `json:"total_minutes"`
	ByStrategy   map[string]float64  `json:"by_strategy"`
	Sessions     []SessionMinutesDTO `json:"sessions"`
}

func minutesDTO(r *query.ReconstructMinutesResult) MinutesDTO {
	dto := MinutesDTO{
		UserID:       r.UserID.String(),
		CourseID:     r.CourseID.String(),
		TotalMinutes: r.TotalMinutes,
		ByStrategy:   r.ByStrategy,
		Sessions:     make([]SessionMinutesDTO, len(r.Sessions)),
	}
	for i, s := range r.Sessions {
		dto.Sessions[i] = SessionMinutesDTO{
			SessionID: s.SessionID.String(),
			ContentID: s.ContentID.String(),
			StartedAt: s.StartedAt,
			Minutes:   s.Minutes,
			Strategy:  s.Strategy.String(),
			Note:      s.Note,
		}
	}
	return dto
}

// AssignmentDTO is the course-level state.
type AssignmentDTO struct {
	Status      string     `json:"status"`
	ProgressPct float64    `json:"progress_pct"`
	CurrentItem string     `json:"current_item,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ItemProgressDTO is one required item.
type ItemProgressDTO struct {
	ContentID     string  `json:"content_id"`
	Title         string  `json:"title,omitempty"`
	CompletionPct float64 `json:"completion_pct"`
	WatchSeconds  float64 `json:"watch_seconds"`
	IsCompleted   bool    `json:"is_completed"`
	IsCurrent     bool    `json:"is_current"`
}

// ContentProgressDTO is a raw content row outside the required list.
type ContentProgressDTO struct {
	ContentID      string     `json:"content_id"`
	WatchSeconds   float64    `json:"watch_seconds"`
	CompletionPct  float64    `json:"completion_pct"`
	IsCompleted    bool       `json:"is_completed"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ResumePosition float64    `json:"resume_position"`
}

// ProgressDTO is the course progress report.
type ProgressDTO struct {
	UserID             string               `json:"user_id"`
	CourseID           string               `json:"course_id"`
	Assignment         *AssignmentDTO       `json:"assignment"`
	Items              []ItemProgressDTO    `json:"items"`
	Extra              []ContentProgressDTO `json:"extra,omitempty"`
	CatalogUnavailable bool                 `json:"catalog_unavailable,omitempty"`
}

func progressDTO(user, course string, r *query.GetProgressResult) ProgressDTO {
	dto := ProgressDTO{
		UserID:             user,
		CourseID:           course,
		Items:              make([]ItemProgressDTO, len(r.Items)),
		CatalogUnavailable: r.CatalogUnavailable,
	}
	if a := r.Assignment; a != nil {
		dto.Assignment = assignmentDTO(a)
	}
	for i, it := range r.Items {
		dto.Items[i] = ItemProgressDTO{
			ContentID:     it.ContentID.String(),
			Title:         it.Title,
			CompletionPct: it.CompletionPct,
			WatchSeconds:  it.WatchSeconds,
			IsCompleted:   it.IsCompleted,
			IsCurrent:     it.IsCurrent,
		}
	}
	for _, row := range r.Extra {
		dto.Extra = append(dto.Extra, ContentProgressDTO{
			ContentID:      row.ContentID.String(),
			WatchSeconds:   row.WatchSeconds,
			CompletionPct:  row.CompletionPct.Float64(),
			IsCompleted:    row.IsCompleted,
			CompletedAt:    row.CompletedAt,
			ResumePosition: row.ResumePosition,
		})
	}
	return dto
}

func assignmentDTO(a *progress.CourseAssignment) *AssignmentDTO {
	return &AssignmentDTO{
		Status:      string(a.Status),
		ProgressPct: a.ProgressPct,
		CurrentItem: a.CurrentItem.String(),
		StartedAt:   a.StartedAt,
		CompletedAt: a.CompletedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// KeyDTO is the load of one API key. The key material never leaves the
// pool; only the label is shown.
type KeyDTO struct {
	ID           string `json:"id"`
	Label        string `json:"label"`
	ActiveLeases int    `json:"active_leases"`
	MaxLeases    int    `json:"max_leases"`
	IsEnabled    bool   `json:"is_enabled"`
}

// StatsDTO is the live operational summary.
type StatsDTO struct {
	LiveSessions      int      `json:"live_sessions"`
	LiveWindowSeconds float64  `json:"live_window_seconds"`
	ActiveLeases      int      `json:"active_leases"`
	Capacity          int      `json:"capacity"`
	Keys              []KeyDTO `json:"keys"`
}

func statsDTO(r *query.StatsResult) StatsDTO {
	dto := StatsDTO{
		LiveSessions:      r.LiveSessions,
		LiveWindowSeconds: r.LiveWindow.Seconds(),
		ActiveLeases:      r.ActiveLeases,
		Capacity:          r.Capacity,
		Keys:              make([]KeyDTO, len(r.Keys)),
	}
	for i, k := range r.Keys {
		dto.Keys[i] = keyDTO(k)
	}
	return dto
}

func keyDTO(k leasepool.Key) KeyDTO {
	return KeyDTO{
		ID:           k.ID.String(),
		Label:        k.Label,
		ActiveLeases: k.ActiveLeases,
		MaxLeases:    k.MaxLeases,
		IsEnabled:    k.IsEnabled,
	}
}
