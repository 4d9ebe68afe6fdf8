package redis

import (
	"context"
	"time"

	"github.com/alem-hub/engagement-core/internal/domain/catalog"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

// DefaultCatalogTTL is the lifetime of cached catalog entries.
const DefaultCatalogTTL = 10 * time.Minute

// CatalogCache stores content items and required-item lists of courses.
// Catalog data changes rarely and is owned elsewhere, so entries simply
// expire; there is no invalidation.
type CatalogCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewCatalogCache creates a catalog cache. A non-positive ttl falls back to
// DefaultCatalogTTL.
func NewCatalogCache(cache *Cache, ttl time.Duration) *CatalogCache {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &CatalogCache{cache: cache, ttl: ttl}
}

// cachedItem is the JSON form of a catalog item.
type cachedItem struct {
	ContentID      string `json:"content_id"`
	CourseID       string `json:"course_id"`
	Title          string `json:"title"`
	Kind           string `json:"kind"`
	NominalSeconds *int64 `json:"nominal_seconds,omitempty"`
	TotalPages     *int   `json:"total_pages,omitempty"`
	IsRequired     bool   `json:"is_required"`
	ModuleOrder    int    `json:"module_order"`
	ContentOrder   int    `json:"content_order"`
}

func toCachedItem(item catalog.Item) cachedItem {
	c := cachedItem{
		ContentID:    item.ContentID.String(),
		CourseID:     item.CourseID.String(),
		Title:        item.Title,
		Kind:         string(item.Kind),
		TotalPages:   item.TotalPages,
		IsRequired:   item.IsRequired,
		ModuleOrder:  item.ModuleOrder,
		ContentOrder: item.ContentOrder,
	}
	if item.NominalDuration != nil {
		s := int64(item.NominalDuration.Seconds())
		c.NominalSeconds = &s
	}
	return c
}

func (c cachedItem) item() catalog.Item {
	item := catalog.Item{
		ContentID:    shared.ContentID(c.ContentID),
		CourseID:     shared.CourseID(c.CourseID),
		Title:        c.Title,
		Kind:         catalog.Kind(c.Kind),
		TotalPages:   c.TotalPages,
		IsRequired:   c.IsRequired,
		ModuleOrder:  c.ModuleOrder,
		ContentOrder: c.ContentOrder,
	}
	if c.NominalSeconds != nil {
		d := time.Duration(*c.NominalSeconds) * time.Second
		item.NominalDuration = &d
	}
	return item
}

// ItemKey returns the cache key of a content item.
func ItemKey(id shared.ContentID) string {
	return PrefixCatalog + "item:" + id.String()
}

// RequiredKey returns the cache key of a course's required-item list.
func RequiredKey(course shared.CourseID) string {
	return PrefixCatalog + "required:" + course.String()
}

// GetItem returns a cached item or ErrCacheMiss.
func (c *CatalogCache) GetItem(ctx context.Context, id shared.ContentID) (*catalog.Item, error) {
	var cached cachedItem
	if err := c.cache.Get(ctx, ItemKey(id), &cached); err != nil {
		return nil, err
	}
	item := cached.item()
	return &item, nil
}

// SetItem caches an item.
func (c *CatalogCache) SetItem(ctx context.Context, item catalog.Item) error {
	return c.cache.Set(ctx, ItemKey(item.ContentID), toCachedItem(item), c.ttl)
}

// GetRequired returns a cached required-item list or ErrCacheMiss.
func (c *CatalogCache) GetRequired(ctx context.Context, course shared.CourseID) ([]catalog.Item, error) {
	var cached []cachedItem
	if err := c.cache.Get(ctx, RequiredKey(course), &cached); err != nil {
		return nil, err
	}
	items := make([]catalog.Item, len(cached))
	for i, ci := range cached {
		items[i] = ci.item()
	}
	return items, nil
}

// SetRequired caches a required-item list.
func (c *CatalogCache) SetRequired(ctx context.Context, course shared.CourseID, items []catalog.Item) error {
	cached := make([]cachedItem, len(items))
	for i, item := range items {
		cached[i] = toCachedItem(item)
	}
	return c.cache.Set(ctx, RequiredKey(course), cached, c.ttl)
}
