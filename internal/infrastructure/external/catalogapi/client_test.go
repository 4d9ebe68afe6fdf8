package catalogapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/engagement-core/internal/domain/catalog"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

func int64p(v int64) *int64 { return &v }

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := DefaultClientConfig(srv.URL)
	cfg.APIKey = "secret"
	cfg.PerPage = 2
	cfg.RateLimit = 0
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func writeBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestItemDTOToDomain(t *testing.T) {
	item, err := ItemDTO{
		ContentID:              "intro",
		CourseID:               "go-101",
		Kind:                   "video",
		NominalDurationSeconds: int64p(600),
		IsRequired:             true,
	}.ToDomain()
	require.NoError(t, err)
	require.NotNil(t, item.NominalDuration)
	assert.Equal(t, 10*time.Minute, *item.NominalDuration)

	item, err = ItemDTO{ContentID: "x", Kind: "video", NominalDurationSeconds: int64p(0)}.ToDomain()
	require.NoError(t, err)
	assert.Nil(t, item.NominalDuration)

	_, err = ItemDTO{ContentID: "x", Kind: "podcast"}.ToDomain()
	assert.Error(t, err)
	_, err = ItemDTO{Kind: "video"}.ToDomain()
	assert.Error(t, err)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "catalog.local", "ftp://catalog.local"} {
		_, err := NewClient(DefaultClientConfig(raw))
		assert.Error(t, err, raw)
	}
}

func TestLookup(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/content/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if r.PathValue("id") != "intro" {
			writeBody(w, http.StatusNotFound, map[string]string{"code": "NOT_FOUND", "message": "no such item"})
			return
		}
		writeBody(w, http.StatusOK, APIResponse[ItemDTO]{Success: true, Data: ItemDTO{
			ContentID: "intro", CourseID: "go-101", Kind: "video",
			NominalDurationSeconds: int64p(300), IsRequired: true,
		}})
	})
	c := newTestClient(t, mux)

	item, err := c.Lookup(context.Background(), "intro")
	require.NoError(t, err)
	assert.Equal(t, catalog.KindVideo, item.Kind)
	assert.Equal(t, 5*time.Minute, *item.NominalDuration)

	_, err = c.Lookup(context.Background(), "missing")
	assert.ErrorIs(t, err, shared.ErrContentNotFound)
}

func TestListRequiredFollowsPages(t *testing.T) {
	pages := map[int][]ItemDTO{
		1: {
			{ContentID: "b", CourseID: "go-101", Kind: "video", IsRequired: true, ModuleOrder: 1, ContentOrder: 2},
			{ContentID: "extra", CourseID: "go-101", Kind: "document", IsRequired: false},
		},
		2: {
			{ContentID: "a", CourseID: "go-101", Kind: "video", IsRequired: true, ModuleOrder: 1, ContentOrder: 1},
		},
	}
	var requests int
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/courses/{course}/items", func(w http.ResponseWriter, r *http.Request) {
		requests++
		assert.Equal(t, "true", r.URL.Query().Get("required"))
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		writeBody(w, http.StatusOK, APIResponse[[]ItemDTO]{
			Success: true,
			Data:    pages[page],
			Meta:    &Meta{Page: page, PerPage: 2, TotalPages: 2},
		})
	})
	c := newTestClient(t, mux)

	items, err := c.ListRequired(context.Background(), "go-101")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, shared.ContentID("a"), items[0].ContentID)
	assert.Equal(t, shared.ContentID("b"), items[1].ContentID)
	assert.Equal(t, 2, requests)
}

func TestListRequiredUnknownCourse(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())

	items, err := c.ListRequired(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestErrorResponses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/content/limited", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	mux.HandleFunc("GET /api/v1/content/broken", func(w http.ResponseWriter, _ *http.Request) {
		writeBody(w, http.StatusBadGateway, map[string]string{"code": "UPSTREAM", "message": "db down"})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	_, err := c.Lookup(ctx, "limited")
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 7*time.Second, rl.RetryAfter)

	_, err = c.Lookup(ctx, "broken")
	var apiErr *APIErrorDTO
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "UPSTREAM", apiErr.Code)
	assert.False(t, shared.IsNotFound(err))

	assert.Error(t, c.Ping(ctx))
}
