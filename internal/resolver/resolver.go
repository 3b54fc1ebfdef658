// Package resolver turns user supplied media URLs into directly playable
// audio URLs and caches the result.
package resolver

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTTL is how long a resolved URL stays valid in the cache.
	DefaultTTL = 5 * time.Minute
	// YouTubeTTL is shorter because googlevideo URLs expire quickly.
	YouTubeTTL = 2 * time.Minute
	// UnknownTitle is used when the extractor reports no title.
	UnknownTitle = "Unknown"
)

var ErrResolveFailed = errors.New("failed to resolve audio url")

// AudioInfo describes a playable audio stream. It is never modified after
// it has been stored in a Cache.
type AudioInfo struct {
	AudioURL        string
	DurationSeconds int
	Title           string
	HTTPHeaders     map[string]string
	Timestamp       time.Time
}

// Expired reports whether the entry is older than ttl at now.
func (i *AudioInfo) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(i.Timestamp) > ttl
}

// Extractor resolves a page URL to audio stream information.
type Extractor interface {
	Extract(ctx context.Context, url string) (*AudioInfo, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, url string) (*AudioInfo, error)

func (f ExtractorFunc) Extract(ctx context.Context, url string) (*AudioInfo, error) {
	return f(ctx, url)
}

// IsYouTube reports whether raw points at a YouTube host.
func IsYouTube(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "youtu.be", host == "youtube.com":
		return true
	case strings.HasSuffix(host, ".youtube.com"):
		return true
	}
	return false
}
