// Package catalog describes the read-only view of course content that the
// engagement core consumes: nominal durations, required flags and ordering.
// Catalog CRUD lives in another system; this package only models lookups.
package catalog

import (
	"context"
	"sort"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

// Kind is the media kind of a content item.
type Kind string

const (
	KindVideo    Kind = "video"
	KindDocument Kind = "document"
)

// Item is one content item as seen by the engagement core.
type Item struct {
	ContentID shared.ContentID
	CourseID  shared.CourseID
	Title     string
	Kind      Kind

	// NominalDuration is nil when the catalog does not know it.
	NominalDuration *time.Duration

	// TotalPages is set for documents.
	TotalPages *int

	IsRequired   bool
	ModuleOrder  int
	ContentOrder int
}

// Total returns total_duration_or_pages for progress rows: seconds for
// video, pages for documents, nil when unknown.
func (i Item) Total() *float64 {
	switch {
	case i.Kind == KindDocument && i.TotalPages != nil:
		v := float64(*i.TotalPages)
		return &v
	case i.NominalDuration != nil:
		v := i.NominalDuration.Seconds()
		return &v
	default:
		return nil
	}
}

// Before reports whether i precedes other in catalog order.
func (i Item) Before(other Item) bool {
	if i.ModuleOrder != other.ModuleOrder {
		return i.ModuleOrder < other.ModuleOrder
	}
	if i.ContentOrder != other.ContentOrder {
		return i.ContentOrder < other.ContentOrder
	}
	return i.ContentID < other.ContentID
}

// SortByCatalogOrder sorts items by module order, then content order.
func SortByCatalogOrder(items []Item) {
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].Before(items[b])
	})
}

// Catalog is the consumed, read-only catalog adapter.
type Catalog interface {
	// Lookup returns a content item or shared.ErrContentNotFound.
	Lookup(ctx context.Context, id shared.ContentID) (*Item, error)

	// ListRequired returns the required items of a course in catalog order.
	ListRequired(ctx context.Context, course shared.CourseID) ([]Item, error)
}

// NominalDuration looks up the nominal duration of a content item. Missing
// content, an unknown duration and lookup failures all yield nil; callers
// degrade to wall-clock estimates. The lookup error is returned for logging.
func NominalDuration(ctx context.Context, c Catalog, id shared.ContentID) (*time.Duration, error) {
	if id.IsZero() || c == nil {
		return nil, nil
	}
	item, err := c.Lookup(ctx, id)
	if err != nil {
		if shared.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return item.NominalDuration, nil
}
