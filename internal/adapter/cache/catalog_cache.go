package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/rl1809/bookstore/internal/core/domain"
	"github.com/rl1809/bookstore/internal/port"
)

const (
	defaultSize = 1024
	defaultTTL  = 30 * time.Second
)

// CatalogCache serves catalog reads for cart display from a bounded,
// expiring LRU. Concurrent misses for one book share a single backend read.
// It must not back stock verification: entries can lag the catalog by up to
// the TTL.
type CatalogCache struct {
	next  port.BookReader
	items *expirable.LRU[string, domain.CatalogItem]
	group singleflight.Group
	log   zerolog.Logger

	// gens counts invalidations per book; a read only fills the cache if
	// no invalidation happened while it was in flight
	mu   sync.Mutex
	gens map[string]uint64
}

func NewCatalogCache(next port.BookReader, size int, ttl time.Duration, logger zerolog.Logger) *CatalogCache {
	if size <= 0 {
		size = defaultSize
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &CatalogCache{
		next:  next,
		items: expirable.NewLRU[string, domain.CatalogItem](size, nil, ttl),
		gens:  map[string]uint64{},
		log:   logger.With().Str("component", "catalog_cache").Logger(),
	}
}

func (c *CatalogCache) GetItem(ctx context.Context, bookID string) (*domain.CatalogItem, error) {
	if item, ok := c.items.Get(bookID); ok {
		return &item, nil
	}

	v, err, shared := c.group.Do(bookID, func() (any, error) {
		gen := c.generation(bookID)
		item, err := c.next.GetItem(ctx, bookID)
		if err != nil {
			return nil, err
		}
		c.fill(bookID, gen, *item)
		return *item, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.log.Debug().Str("book_id", bookID).Msg("shared catalog read")
	}

	item := v.(domain.CatalogItem)
	return &item, nil
}

// Invalidate drops bookID so the next read goes to the catalog.
func (c *CatalogCache) Invalidate(bookID string) {
	c.mu.Lock()
	c.gens[bookID]++
	c.items.Remove(bookID)
	c.mu.Unlock()
	c.group.Forget(bookID)
}

func (c *CatalogCache) generation(bookID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[bookID]
}

func (c *CatalogCache) fill(bookID string, gen uint64, item domain.CatalogItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[bookID] != gen {
		c.log.Debug().Str("book_id", bookID).Msg("discarding read raced by invalidation")
		return
	}
	c.items.Add(bookID, item)
}

func (c *CatalogCache) Len() int {
	return c.items.Len()
}
