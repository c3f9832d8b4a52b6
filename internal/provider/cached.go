package provider

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/pulserank/pulserank/internal/cache"
	"github.com/pulserank/pulserank/internal/faults"
	"github.com/pulserank/pulserank/internal/model"
)

// CachedFetcher wraps a Fetcher with a TTL cache. Concurrent fetches of the
// same account collapse into one upstream call; unrelated accounts fetch in
// parallel.
type CachedFetcher struct {
	inner  Fetcher
	loader *cache.Loader
	ttl    time.Duration
}

// NewCachedFetcher wraps inner with the given cache handle and TTL.
func NewCachedFetcher(inner Fetcher, c cache.Cache, ttl time.Duration) *CachedFetcher {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &CachedFetcher{inner: inner, loader: cache.NewLoader(c), ttl: ttl}
}

func contentKey(account string, since time.Time) string {
	return "content:" + strings.ToLower(account) + ":" + since.UTC().Format("2006-01-02")
}

func searchKey(query string, since time.Time) string {
	return "search:" + strings.ToLower(query) + ":" + since.UTC().Format("2006-01-02")
}

// FetchContent serves from cache when fresh, otherwise fetches and caches.
func (f *CachedFetcher) FetchContent(ctx context.Context, account string, since time.Time) ([]model.ContentItem, error) {
	data, err := f.loader.GetOrCompute(ctx, contentKey(account, since), f.ttl, func(ctx context.Context) ([]byte, error) {
		items, err := f.inner.FetchContent(ctx, account, since)
		if err != nil {
			return nil, err
		}
		return json.Marshal(items)
	})
	if err != nil {
		return nil, err
	}

	var items []model.ContentItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, faults.Integrity(err, "corrupt cached content for %s", account)
	}
	return items, nil
}

// SearchContent serves from cache when fresh, otherwise searches and caches.
func (f *CachedFetcher) SearchContent(ctx context.Context, query string, since time.Time) ([]model.ContentItem, error) {
	data, err := f.loader.GetOrCompute(ctx, searchKey(query, since), f.ttl, func(ctx context.Context) ([]byte, error) {
		items, err := f.inner.SearchContent(ctx, query, since)
		if err != nil {
			return nil, err
		}
		return json.Marshal(items)
	})
	if err != nil {
		return nil, err
	}

	var items []model.ContentItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, faults.Integrity(err, "corrupt cached search for %q", query)
	}
	return items, nil
}
