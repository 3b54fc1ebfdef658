package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Cache memoizes Extractor results per input URL. Concurrent misses for the
// same URL each call the extractor.
type Cache struct {
	extractor Extractor

	mu         sync.Mutex
	entries    map[string]*AudioInfo
	ttl        time.Duration
	youtubeTTL time.Duration
	now        func() time.Time
}

// NewCache creates a cache in front of ex using the default TTLs.
func NewCache(ex Extractor) *Cache {
	return &Cache{
		extractor:  ex,
		entries:    make(map[string]*AudioInfo),
		ttl:        DefaultTTL,
		youtubeTTL: YouTubeTTL,
		now:        time.Now,
	}
}

// SetTTL overrides the generic and YouTube entry lifetimes. Non-positive
// values keep the current setting.
func (c *Cache) SetTTL(ttl, youtubeTTL time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl > 0 {
		c.ttl = ttl
	}
	if youtubeTTL > 0 {
		c.youtubeTTL = youtubeTTL
	}
}

// SetClock replaces the time source. Used by tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// TTL returns the lifetime applied to entries for url.
func (c *Cache) TTL(url string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttlLocked(url)
}

func (c *Cache) ttlLocked(url string) time.Duration {
	if IsYouTube(url) {
		return c.youtubeTTL
	}
	return c.ttl
}

// GetAudioInfo returns the cached entry for url or resolves it. Failures
// are returned wrapped in ErrResolveFailed and are not cached.
func (c *Cache) GetAudioInfo(ctx context.Context, url string) (*AudioInfo, error) {
	c.mu.Lock()
	if entry, ok := c.entries[url]; ok {
		if !entry.Expired(c.now(), c.ttlLocked(url)) {
			c.mu.Unlock()
			return entry, nil
		}
		log.Debug("Cache entry expired", "url", url)
		delete(c.entries, url)
	}
	now := c.now
	c.mu.Unlock()

	log.Debug("Extracting audio info", "url", url)
	start := now()
	info, err := c.extractor.Extract(ctx, url)
	if err != nil {
		log.Error("Failed to extract audio info", "url", url, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrResolveFailed, url, err)
	}
	if info == nil || info.AudioURL == "" {
		return nil, fmt.Errorf("%w: %s: no audio url", ErrResolveFailed, url)
	}

	entry := &AudioInfo{
		AudioURL:        info.AudioURL,
		DurationSeconds: info.DurationSeconds,
		Title:           info.Title,
		HTTPHeaders:     info.HTTPHeaders,
	}

	c.mu.Lock()
	entry.Timestamp = c.now()
	c.entries[url] = entry
	c.mu.Unlock()

	log.Info("Cached audio info", "url", url, "title", entry.Title,
		"duration", entry.DurationSeconds, "took", entry.Timestamp.Sub(start))
	return entry, nil
}

// Invalidate drops the entry for url, typically after its stream URL
// stopped working.
func (c *Cache) Invalidate(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[url]; ok {
		delete(c.entries, url)
		log.Debug("Invalidated cache entry", "url", url)
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.entries)
}

// Len returns the number of stored entries, including expired ones that
// have not been looked up since.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
