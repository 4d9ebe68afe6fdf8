package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/alem-hub/engagement-core/internal/domain/catalog"
	"github.com/alem-hub/engagement-core/internal/domain/shared"
	"github.com/alem-hub/engagement-core/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/engagement-core/pkg/circuitbreaker"
	"github.com/alem-hub/engagement-core/pkg/logger"
	"github.com/alem-hub/engagement-core/pkg/retry"
)

// CatalogCache is the cache the adapter reads through. Implemented by
// redis.CatalogCache.
type CatalogCache interface {
	GetItem(ctx context.Context, id shared.ContentID) (*catalog.Item, error)
	SetItem(ctx context.Context, item catalog.Item) error
	GetRequired(ctx context.Context, course shared.CourseID) ([]catalog.Item, error)
	SetRequired(ctx context.Context, course shared.CourseID, items []catalog.Item) error
}

// CatalogAdapter fronts the catalog source with a read-through cache, a
// short retry and a circuit breaker. When the breaker is open lookups fail
// fast with shared.ErrCatalogDown and callers degrade to "unknown". The
// cache sits behind its own breaker; while it is open lookups go straight
// to the source.
type CatalogAdapter struct {
	source       catalog.Catalog
	cache        CatalogCache
	breaker      *circuitbreaker.CircuitBreaker
	cacheBreaker *circuitbreaker.CircuitBreaker
	retrier      *retry.Retrier
	logger       *logger.Logger
}

var _ catalog.Catalog = (*CatalogAdapter)(nil)

// NewCatalogAdapter creates a catalog adapter. cache may be nil.
func NewCatalogAdapter(source catalog.Catalog, cache CatalogCache, log *logger.Logger) *CatalogAdapter {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With(logger.Component("catalog_adapter"))

	onStateChange := func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	}
	isFailure := func(err error) bool {
		return !shared.IsNotFound(err)
	}

	return &CatalogAdapter{
		source:       source,
		cache:        cache,
		breaker:      circuitbreaker.CatalogBreaker(onStateChange, isFailure),
		cacheBreaker: circuitbreaker.CacheBreaker("catalog_cache", onStateChange),
		retrier:      retry.CatalogRetrier(isFailure),
		logger:       log,
	}
}

// Breaker returns the catalog circuit breaker, for health reporting.
func (a *CatalogAdapter) Breaker() *circuitbreaker.CircuitBreaker {
	return a.breaker
}

// CacheBreaker returns the cache circuit breaker, for health reporting.
func (a *CatalogAdapter) CacheBreaker() *circuitbreaker.CircuitBreaker {
	return a.cacheBreaker
}

// Lookup returns a content item.
func (a *CatalogAdapter) Lookup(ctx context.Context, id shared.ContentID) (*catalog.Item, error) {
	var cached *catalog.Item
	if a.readCache(ctx, func(ctx context.Context) (err error) {
		cached, err = a.cache.GetItem(ctx, id)
		return err
	}, logger.ContentID(id.String())) {
		return cached, nil
	}

	var item *catalog.Item
	err := a.call(ctx, func(ctx context.Context) error {
		var err error
		item, err = a.source.Lookup(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	a.writeCache(ctx, func(ctx context.Context) error {
		return a.cache.SetItem(ctx, *item)
	}, logger.ContentID(id.String()))
	return item, nil
}

// ListRequired returns the required items of a course in catalog order.
func (a *CatalogAdapter) ListRequired(ctx context.Context, course shared.CourseID) ([]catalog.Item, error) {
	var cached []catalog.Item
	if a.readCache(ctx, func(ctx context.Context) (err error) {
		cached, err = a.cache.GetRequired(ctx, course)
		return err
	}, logger.CourseID(course.String())) {
		return cached, nil
	}

	var items []catalog.Item
	err := a.call(ctx, func(ctx context.Context) error {
		var err error
		items, err = a.source.ListRequired(ctx, course)
		return err
	})
	if err != nil {
		return nil, err
	}
	catalog.SortByCatalogOrder(items)

	a.writeCache(ctx, func(ctx context.Context) error {
		return a.cache.SetRequired(ctx, course, items)
	}, logger.CourseID(course.String()))
	return items, nil
}

// readCache runs a cache read behind the cache breaker. It reports a hit;
// misses, failures and an open breaker all fall through to the source.
func (a *CatalogAdapter) readCache(ctx context.Context, read func(context.Context) error, field logger.Field) bool {
	if a.cache == nil {
		return false
	}
	miss := false
	err := a.cacheBreaker.Execute(ctx, func(ctx context.Context) error {
		err := read(ctx)
		if errors.Is(err, redis.ErrCacheMiss) {
			miss = true
			return nil
		}
		return err
	})
	if err != nil && !rejected(err) {
		a.logger.Warn("catalog cache read failed", field, logger.Err(err))
	}
	return err == nil && !miss
}

func (a *CatalogAdapter) writeCache(ctx context.Context, write func(context.Context) error, field logger.Field) {
	if a.cache == nil {
		return
	}
	if err := a.cacheBreaker.Execute(ctx, write); err != nil && !rejected(err) {
		a.logger.Warn("catalog cache write failed", field, logger.Err(err))
	}
}

// rejected reports an error produced by a breaker without calling through.
func rejected(err error) bool {
	return errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests)
}

func (a *CatalogAdapter) call(ctx context.Context, fn func(context.Context) error) error {
	err := a.breaker.Execute(ctx, func(ctx context.Context) error {
		return a.retrier.Do(ctx, fn)
	})
	switch {
	case err == nil:
		return nil
	case shared.IsNotFound(err):
		return err
	case rejected(err):
		return shared.ErrCatalogDown
	default:
		return fmt.Errorf("%w: %v", shared.ErrCatalogDown, err)
	}
}
