package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alem-hub/engagement-core/internal/application/command"
	"github.com/alem-hub/engagement-core/internal/application/query"
	"github.com/alem-hub/engagement-core/internal/domain/catalog"
	"github.com/alem-hub/engagement-core/internal/domain/leasepool"
	"github.com/alem-hub/engagement-core/internal/domain/reconstruct"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/engagement-core/internal/interface/http/handlers"
	"github.com/alem-hub/engagement-core/pkg/timeutil"
)

const operatorKey = "let-me-in"

var t0 = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type apiHarness struct {
	clock    *timeutil.FixedClock
	sessions *memory.SessionRepository
	handler  http.Handler
}

func video(id string, order int, nominal time.Duration) catalog.Item {
	return catalog.Item{
		ContentID:       shared.ContentID(id),
		CourseID:        "go-101",
		Title:           id,
		Kind:            catalog.KindVideo,
		NominalDuration: &nominal,
		IsRequired:      true,
		ModuleOrder:     1,
		ContentOrder:    order,
	}
}

func newAPI(t *testing.T, mutate func(*Config, *Dependencies)) *apiHarness {
	t.Helper()

	clock := timeutil.NewFixedClock(t0)
	sessions := memory.NewSessionRepository()
	prog := memory.NewProgressRepository()
	cat := memory.NewCatalog(
		video("intro", 1, 10*time.Minute),
		video("types", 2, 20*time.Minute),
	)
	leases := memory.NewLeasePool(leasepool.Key{ID: "k1", Label: "primary", MaxLeases: 5, IsEnabled: true})
	presence := memory.NewPresence()

	aggregator := command.NewProgressAggregator(prog, cat, nil)
	var seq atomic.Int64
	manager := command.NewSessionManager(command.SessionManagerDeps{
		Sessions:   sessions,
		Progress:   prog,
		Catalog:    cat,
		Leases:     leases,
		Presence:   presence,
		Aggregator: aggregator,
		Clock:      clock,
		NewID:      func() string { return fmt.Sprintf("s-%d", seq.Add(1)) },
	}, command.DefaultSessionManagerConfig())

	hash, err := bcrypt.GenerateFromPassword([]byte(operatorKey), bcrypt.MinCost)
	require.NoError(t, err)
	auth, err := handlers.NewOperatorAuth(string(hash))
	require.NoError(t, err)

	config := DefaultConfig()
	config.RateLimit = 0
	deps := Dependencies{
		Sessions:     manager,
		Repair:       command.NewRepairSessionsHandler(sessions, cat, reconstruct.DefaultParams(), command.DefaultSessionManagerConfig().Weights, clock, nil),
		Aggregator:   aggregator,
		Minutes:      query.NewReconstructMinutesHandler(sessions, cat, prog, reconstruct.DefaultParams(), nil),
		Progress:     query.NewGetProgressHandler(prog, cat, nil),
		Stats:        query.NewGetStatsHandler(presence, leases, clock, 2*time.Minute),
		OperatorAuth: auth,
	}
	if mutate != nil {
		mutate(&config, &deps)
	}

	return &apiHarness{
		clock:    clock,
		sessions: sessions,
		handler:  NewServer(config, deps).Handler(),
	}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	RequestID string          `json:"request_id"`
}

func (h *apiHarness) do(t *testing.T, method, path, body string, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func (h *apiHarness) startSession(t *testing.T, content string) SessionDTO {
	t.Helper()
	rec, env := h.do(t, http.MethodPost, "/api/v1/sessions",
		`{"user_id":"u-1","course_id":"go-101","content_id":"`+content+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeData[SessionDTO](t, env)
}

func TestStartSessionEndpoint(t *testing.T) {
	api := newAPI(t, nil)

	snap := api.startSession(t, "intro")

	assert.Equal(t, "s-1", snap.SessionID)
	assert.Equal(t, "active", snap.State)
	assert.Equal(t, "k1", snap.LeaseKeyID)
	assert.False(t, snap.StorageFallback)
	assert.False(t, snap.CanAccessNext)
}

func TestStartSessionEndpointValidation(t *testing.T) {
	api := newAPI(t, nil)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{name: "missing course", body: `{"user_id":"u-1"}`, wantCode: "validation_failed"},
		{name: "negative position", body: `{"user_id":"u-1","course_id":"go-101","initial_position":-1}`, wantCode: "validation_failed"},
		{name: "unknown field", body: `{"user_id":"u-1","course_id":"go-101","speed":2}`, wantCode: "bad_request"},
		{name: "empty body", body: "", wantCode: "bad_request"},
		{name: "malformed", body: `{"user_id":`, wantCode: "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := api.do(t, http.MethodPost, "/api/v1/sessions", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.wantCode, env.Error.Code)
		})
	}

	_, env := api.do(t, http.MethodPost, "/api/v1/sessions", `{"user_id":"u-1"}`)
	details, ok := env.Error.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "required", details["course_id"])
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	api := newAPI(t, nil)
	snap := api.startSession(t, "intro")

	api.clock.Advance(30 * time.Second)
	rec, env := api.do(t, http.MethodPost, "/api/v1/sessions/"+snap.SessionID+"/heartbeat",
		`{"user_id":"u-1","position":30,"watch_delta":500,"completion_pct":5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	hb := decodeData[SessionDTO](t, env)
	assert.True(t, hb.Clamped)
	assert.InDelta(t, 60, hb.ActiveSeconds, 0.001)

	api.clock.Advance(30 * time.Second)
	rec, env = api.do(t, http.MethodPost, "/api/v1/sessions/"+snap.SessionID+"/end",
		`{"user_id":"u-1","position":60,"completion_pct":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ended := decodeData[SessionDTO](t, env)
	assert.Equal(t, "ended", ended.State)
	require.NotNil(t, ended.EndedAt)
	require.NotNil(t, ended.Attention)
	assert.NotEmpty(t, ended.Attention.Explanation)

	// Heartbeats after the end are accepted as no-ops.
	rec, env = api.do(t, http.MethodPost, "/api/v1/sessions/"+snap.SessionID+"/heartbeat", `{"watch_delta":30}`)
	require.Equal(t, http.StatusOK, rec.Code)
	late := decodeData[SessionDTO](t, env)
	assert.True(t, late.Ignored)
	assert.Equal(t, command.IgnoredSessionEnded, late.IgnoredReason)
	assert.InDelta(t, 60, late.ActiveSeconds, 0.001)
}

func TestHeartbeatUnknownSessionIsIgnored(t *testing.T) {
	api := newAPI(t, nil)

	rec, env := api.do(t, http.MethodPost, "/api/v1/sessions/nope/heartbeat", "")

	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeData[SessionDTO](t, env)
	assert.True(t, snap.Ignored)
	assert.Equal(t, command.IgnoredUnknownSession, snap.IgnoredReason)
	assert.Empty(t, snap.State)
}

func TestEndSessionEndpointErrors(t *testing.T) {
	api := newAPI(t, nil)
	snap := api.startSession(t, "intro")

	rec, env := api.do(t, http.MethodPost, "/api/v1/sessions/nope/end", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)

	rec, env = api.do(t, http.MethodPost, "/api/v1/sessions/"+snap.SessionID+"/end", `{"user_id":"someone-else"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", env.Error.Code)
}

func TestStartSessionEndpointConflict(t *testing.T) {
	api := newAPI(t, func(_ *Config, deps *Dependencies) {
		deps.Sessions = command.NewSessionManager(command.SessionManagerDeps{
			Sessions: memory.NewSessionRepository(),
			Catalog:  memory.NewCatalog(video("intro", 1, 10*time.Minute)),
			Leases:   memory.NewLeasePool(leasepool.Key{ID: "k1", MaxLeases: 5, IsEnabled: true}),
			Clock:    timeutil.NewFixedClock(t0),
			NewID:    func() string { return "dup" },
		}, command.DefaultSessionManagerConfig())
	})
	api.startSession(t, "intro")

	rec, env := api.do(t, http.MethodPost, "/api/v1/sessions",
		`{"user_id":"u-1","course_id":"go-101","content_id":"intro"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "conflict", env.Error.Code)
}

func TestProgressEndpoint(t *testing.T) {
	api := newAPI(t, nil)

	rec, env := api.do(t, http.MethodGet, "/api/v1/users/u-1/courses/go-101/progress", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", env.Error.Code)

	snap := api.startSession(t, "intro")
	api.clock.Advance(30 * time.Second)
	_, _ = api.do(t, http.MethodPost, "/api/v1/sessions/"+snap.SessionID+"/end", `{"completion_pct":100}`)

	rec, env = api.do(t, http.MethodGet, "/api/v1/users/u-1/courses/go-101/progress", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeData[ProgressDTO](t, env)

	require.NotNil(t, got.Assignment)
	assert.Equal(t, "in_progress", got.Assignment.Status)
	assert.Equal(t, "types", got.Assignment.CurrentItem)
	require.Len(t, got.Items, 2)
	assert.True(t, got.Items[0].IsCompleted)
	assert.True(t, got.Items[1].IsCurrent)
}

func TestMinutesEndpoint(t *testing.T) {
	api := newAPI(t, nil)
	snap := api.startSession(t, "intro")

	api.clock.Advance(30 * time.Second)
	_, _ = api.do(t, http.MethodPost, "/api/v1/sessions/"+snap.SessionID+"/end", `{"watch_delta":60}`)

	rec, env := api.do(t, http.MethodGet, "/api/v1/users/u-1/courses/go-101/minutes", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeData[MinutesDTO](t, env)

	assert.InDelta(t, 1, got.TotalMinutes, 0.001)
	require.Len(t, got.Sessions, 1)
	assert.Equal(t, "active-playback", got.Sessions[0].Strategy)
	assert.InDelta(t, 1, got.ByStrategy["active-playback"], 0.001)
}

func TestStatsEndpoint(t *testing.T) {
	api := newAPI(t, nil)
	api.startSession(t, "intro")

	rec, env := api.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[StatsDTO](t, env)

	assert.Equal(t, 1, got.LiveSessions)
	assert.Equal(t, 1, got.ActiveLeases)
	assert.Equal(t, 5, got.Capacity)
	require.Len(t, got.Keys, 1)
	assert.Equal(t, "primary", got.Keys[0].Label)
}

func TestMaintenanceRequiresOperatorKey(t *testing.T) {
	api := newAPI(t, nil)

	rec, env := api.do(t, http.MethodPost, "/api/v1/maintenance/reap-stale", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", env.Error.Code)

	rec, _ = api.do(t, http.MethodPost, "/api/v1/maintenance/reap-stale", "", handlers.OperatorKeyHeader, "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMaintenanceEndpoints(t *testing.T) {
	api := newAPI(t, nil)
	api.startSession(t, "intro")
	api.clock.Advance(4 * time.Hour)

	rec, env := api.do(t, http.MethodPost, "/api/v1/maintenance/reap-stale", "", handlers.OperatorKeyHeader, operatorKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reaped := decodeData[map[string]int](t, env)
	assert.Equal(t, 1, reaped["reaped"])

	reaped1, err := api.sessions.Get(context.Background(), "s-1")
	require.NoError(t, err)
	assert.True(t, reaped1.Reaped)

	rec, env = api.do(t, http.MethodPost, "/api/v1/maintenance/repair-sessions", `{"bound_minutes":5}`,
		"Authorization", "Bearer "+operatorKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	repaired := decodeData[map[string]int](t, env)
	assert.Equal(t, 1, repaired["scanned"])

	rec, env = api.do(t, http.MethodPost, "/api/v1/maintenance/recompute-progress", `{"batch_size":10}`,
		handlers.OperatorKeyHeader, operatorKey)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	recomputed := decodeData[map[string]int](t, env)
	assert.Equal(t, 1, recomputed["processed"])

	rec, _ = api.do(t, http.MethodPost, "/api/v1/maintenance/recompute-progress", `{"concurrency":1000}`,
		handlers.OperatorKeyHeader, operatorKey)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaintenanceDisabledWithoutOperatorAuth(t *testing.T) {
	api := newAPI(t, func(_ *Config, d *Dependencies) { d.OperatorAuth = nil })

	rec, _ := api.do(t, http.MethodPost, "/api/v1/maintenance/reap-stale", "", handlers.OperatorKeyHeader, operatorKey)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit(t *testing.T) {
	api := newAPI(t, func(c *Config, _ *Dependencies) {
		c.RateLimit = 0.001
		c.RateLimitBurst = 1
	})

	rec, _ := api.do(t, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := api.do(t, http.MethodGet, "/live", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limit_exceeded", env.Error.Code)
}

func TestRequestIDAndServiceEndpoints(t *testing.T) {
	api := newAPI(t, nil)

	rec, env := api.do(t, http.MethodGet, "/live", "", RequestIDHeader, "req-42")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, "req-42", env.RequestID)

	rec, _ = api.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec, _ = api.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "engagement_http_requests_total")
}

func TestReadyReportsFailedCheck(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("database", func(context.Context) error { return fmt.Errorf("connection refused") })
	api := newAPI(t, func(_ *Config, d *Dependencies) { d.Health = checker })

	rec, env := api.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", env.Error.Code)

	rec, _ = api.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
