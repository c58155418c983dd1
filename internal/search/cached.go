package search

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/ppiankov/kurral/internal/cache"
)

// Cached serves repeated queries from a cache before hitting the wrapped searcher
type Cached struct {
	next  Searcher
	cache cache.Cache
	ttl   time.Duration
}

// NewCached wraps next; a nil cache disables caching
func NewCached(next Searcher, c cache.Cache, ttl time.Duration) *Cached {
	return &Cached{next: next, cache: c, ttl: ttl}
}

// Search returns cached results when present, otherwise queries and stores them
func (c *Cached) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if c.cache == nil {
		return c.next.Search(ctx, query, limit)
	}

	key := cache.Key("search", strconv.Itoa(limit), query)
	if raw, ok := c.cache.Get(key); ok {
		var results []Result
		if err := json.Unmarshal(raw, &results); err == nil {
			return results, nil
		}
		_ = c.cache.Delete(key)
	}

	results, err := c.next.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(results); err == nil {
		_ = c.cache.Set(key, raw, c.ttl)
	}
	return results, nil
}
