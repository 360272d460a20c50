package storage

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// Fetcher reads artifact bytes by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// CachingFetcher memoizes artifact reads. Artifact URLs are content addressed,
// so a cached entry can never go stale, only be evicted.
type CachingFetcher struct {
	next  Fetcher
	cache *cache.Cache
}

func NewCachingFetcher(next Fetcher, ttl time.Duration) *CachingFetcher {
	return &CachingFetcher{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (f *CachingFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if v, ok := f.cache.Get(url); ok {
		return v.([]byte), nil
	}
	data, err := f.next.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	f.cache.SetDefault(url, data)
	return data, nil
}
