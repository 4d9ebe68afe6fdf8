package memory

import (
	"context"
	"sync"

	"github.com/alem-hub/engagement-core/internal/domain/catalog"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
)

// Catalog implements catalog.Catalog over a fixed set of items.
type Catalog struct {
	mu    sync.RWMutex
	items map[shared.ContentID]catalog.Item

	// Err, when set, is returned by every lookup.
	Err error
}

// NewCatalog creates a catalog holding items.
func NewCatalog(items ...catalog.Item) *Catalog {
	c := &Catalog{items: make(map[shared.ContentID]catalog.Item)}
	for _, item := range items {
		c.items[item.ContentID] = item
	}
	return c
}

var _ catalog.Catalog = (*Catalog)(nil)

// Lookup returns a content item.
func (c *Catalog) Lookup(_ context.Context, id shared.ContentID) (*catalog.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Err != nil {
		return nil, c.Err
	}
	item, ok := c.items[id]
	if !ok {
		return nil, shared.ErrContentNotFound
	}
	return &item, nil
}

// ListRequired returns the required items of a course in catalog order.
func (c *Catalog) ListRequired(_ context.Context, course shared.CourseID) ([]catalog.Item, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Err != nil {
		return nil, c.Err
	}
	var items []catalog.Item
	for _, item := range c.items {
		if item.CourseID == course && item.IsRequired {
			items = append(items, item)
		}
	}
	catalog.SortByCatalogOrder(items)
	return items, nil
}
