package stitch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
	"github.com/JakeFAU/gazette-ingest/internal/metrics"
)

const defaultCacheSize = 64

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Downloads int64 `json:"downloads"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

// PageCache is a bounded, FIFO-evicted cache of page bodies in front of a
// PageFetcher. Concurrent lookups of the same missing key share one fetch.
type PageCache struct {
	fetcher gazette.PageFetcher
	now     func() time.Time
	maxSize int

	mu    sync.Mutex
	pages map[gazette.PageKey]gazette.CachedPage
	order []gazette.PageKey
	stats CacheStats

	group singleflight.Group
}

// NewPageCache builds a cache holding at most maxSize pages.
func NewPageCache(fetcher gazette.PageFetcher, maxSize int) *PageCache {
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}
	return &PageCache{
		fetcher: fetcher,
		now:     func() time.Time { return time.Now().UTC() },
		maxSize: maxSize,
		pages:   make(map[gazette.PageKey]gazette.CachedPage, maxSize),
	}
}

// GetOrFetch returns the cached body for key, fetching and storing it on a
// miss. Fetch failures are not cached.
func (c *PageCache) GetOrFetch(ctx context.Context, key gazette.PageKey) (string, error) {
	c.mu.Lock()
	if page, ok := c.pages[key]; ok {
		c.stats.Hits++
		c.mu.Unlock()
		metrics.ObserveCacheLookup(true)
		return page.Content, nil
	}
	c.stats.Misses++
	c.mu.Unlock()
	metrics.ObserveCacheLookup(false)

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		c.mu.Lock()
		if page, ok := c.pages[key]; ok {
			c.mu.Unlock()
			return page.Content, nil
		}
		c.mu.Unlock()

		content, err := c.fetcher.Fetch(ctx, key)
		metrics.ObservePageDownload(err)
		if err != nil {
			return "", fmt.Errorf("fetch page %s: %w", key, err)
		}
		c.store(key, content)
		return content, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Stats returns a snapshot of the cache counters.
func (c *PageCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.pages)
	return s
}

func (c *PageCache) store(key gazette.PageKey, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pages[key]; ok {
		return
	}
	c.pages[key] = gazette.CachedPage{Key: key, Content: content, FetchedAt: c.now()}
	c.order = append(c.order, key)
	c.stats.Downloads++
	for len(c.order) > c.maxSize {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.pages, oldest)
		c.stats.Evictions++
	}
}
