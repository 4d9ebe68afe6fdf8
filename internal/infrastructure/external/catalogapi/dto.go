// Package catalogapi implements a client for the content catalog service.
// The engagement core only reads from the catalog: item lookups and the
// required-item list of a course.
package catalogapi

import (
	"fmt"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/catalog"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// API RESPONSE WRAPPERS
// ══════════════════════════════════════════════════════════════════════════════

// APIResponse represents a generic API response wrapper.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	Total      int `json:"total,omitempty"`
	Page       int `json:"page,omitempty"`
	PerPage    int `json:"per_page,omitempty"`
	TotalPages int `json:"total_pages,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// CONTENT ITEM DTOs
// ══════════════════════════════════════════════════════════════════════════════

// ItemDTO is a content item as returned by the catalog service.
type ItemDTO struct {
	ContentID string `json:"content_id"`
	CourseID  string `json:"course_id"`
	Title     string `json:"title"`
	Kind      string `json:"kind"`

	// NominalDurationSeconds is absent when the catalog does not know it.
	NominalDurationSeconds *int64 `json:"nominal_duration_seconds,omitempty"`

	// TotalPages is set for documents.
	TotalPages *int `json:"total_pages,omitempty"`

	IsRequired   bool `json:"is_required"`
	ModuleOrder  int  `json:"module_order"`
	ContentOrder int  `json:"content_order"`
}

// ToDomain maps the DTO to a catalog item. Unknown kinds and non-positive
// durations are rejected rather than guessed.
func (d ItemDTO) ToDomain() (catalog.Item, error) {
	if d.ContentID == "" {
		return catalog.Item{}, fmt.Errorf("catalog item without content_id")
	}

	item := catalog.Item{
		ContentID:    shared.ContentID(d.ContentID),
		CourseID:     shared.CourseID(d.CourseID),
		Title:        d.Title,
		IsRequired:   d.IsRequired,
		ModuleOrder:  d.ModuleOrder,
		ContentOrder: d.ContentOrder,
	}

	switch catalog.Kind(d.Kind) {
	case catalog.KindVideo, catalog.KindDocument:
		item.Kind = catalog.Kind(d.Kind)
	default:
		return catalog.Item{}, fmt.Errorf("catalog item %s: unknown kind %q", d.ContentID, d.Kind)
	}

	if d.NominalDurationSeconds != nil && *d.NominalDurationSeconds > 0 {
		nominal := time.Duration(*d.NominalDurationSeconds) * time.Second
		item.NominalDuration = &nominal
	}
	if d.TotalPages != nil && *d.TotalPages > 0 {
		pages := *d.TotalPages
		item.TotalPages = &pages
	}
	return item, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR DTOs
// ══════════════════════════════════════════════════════════════════════════════

// APIErrorDTO is the error body of a failed request.
type APIErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	// Status is the HTTP status of the response, not part of the body.
	Status int `json:"-"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("catalog api: %s: %s (status %d)", e.Code, e.Message, e.Status)
	}
	return fmt.Sprintf("catalog api: status %d", e.Status)
}

// RateLimitError is returned when the catalog answers 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("catalog api: rate limited, retry after %s", e.RetryAfter)
}
