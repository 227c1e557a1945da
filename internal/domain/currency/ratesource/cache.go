package ratesource

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cached memoizes successful lookups of the wrapped source per currency and day.
type Cached struct {
	next  Source
	store *cache.Cache
}

// NewCached wraps next with an in-memory cache.
func NewCached(next Source, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Cached{
		next:  next,
		store: cache.New(ttl, 2*ttl),
	}
}

// Rate implements Source.
func (c *Cached) Rate(ctx context.Context, currencyCode string, date time.Time) (float64, error) {
	key := cacheKey(currencyCode, date)
	if v, ok := c.store.Get(key); ok {
		return v.(float64), nil
	}

	rate, err := c.next.Rate(ctx, currencyCode, date)
	if err != nil {
		return 0, err
	}
	c.store.Set(key, rate, cache.DefaultExpiration)
	return rate, nil
}
