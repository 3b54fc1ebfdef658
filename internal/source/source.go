// Package source turns what a user typed (a page URL, a direct stream URL
// or a local path) into something the decoder can open.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/blacktop/harmonics/internal/resolver"
	"github.com/charmbracelet/log"
)

// Kind names a source implementation.
type Kind string

const (
	KindYTDLP Kind = "ytdlp"
	KindHTTP  Kind = "http"
	KindFile  Kind = "file"
)

var (
	ErrDomainNotAllowed = errors.New("http domain not in allowed list")
	ErrFileNotFound     = errors.New("audio file not found")
	ErrEmptyInput       = errors.New("empty source")
)

// directExtensions are served by plain HTTP without page extraction.
var directExtensions = []string{
	".mp3", ".ogg", ".oga", ".opus", ".wav", ".flac", ".m4a", ".aac", ".webm", ".weba",
}

// Info is what the decoder needs to open a source.
type Info struct {
	URL             string
	DurationSeconds int
	Title           string
	Headers         map[string]string
}

// Source resolves to a decodable URL or path.
type Source interface {
	// ID identifies the source as the user gave it.
	ID() string
	Kind() Kind
	Resolve(ctx context.Context) (*Info, error)
	// Invalidate forgets any cached resolution, for URLs that expired.
	Invalidate()
}

// Deps are the shared services sources resolve through.
type Deps struct {
	Cache  *resolver.Cache
	Prober *resolver.Prober
	// AllowedDomains restricts direct HTTP sources. Empty allows all.
	AllowedDomains []string
}

// New picks a Source implementation for raw.
func New(raw string, d Deps) (Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrEmptyInput
	}
	if p, ok := strings.CutPrefix(raw, "file://"); ok {
		return NewFile(p), nil
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return NewFile(raw), nil
	}

	if !resolver.IsYouTube(raw) && IsDirectAudio(u) {
		if !DomainAllowed(u.Hostname(), d.AllowedDomains) {
			return nil, fmt.Errorf("%w: %s", ErrDomainNotAllowed, u.Hostname())
		}
		return NewHTTP(raw, d.Prober), nil
	}
	if d.Cache == nil {
		return nil, fmt.Errorf("no resolver configured for %s", raw)
	}
	return NewYTDLP(raw, d.Cache), nil
}

// IsDirectAudio reports whether u points straight at an audio file.
func IsDirectAudio(u *url.URL) bool {
	return slices.Contains(directExtensions, strings.ToLower(path.Ext(u.Path)))
}

// DomainAllowed reports whether host matches one of allowed, including
// subdomains. An empty list allows every host.
func DomainAllowed(host string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, d := range allowed {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "."))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// YTDLP resolves page URLs through the shared resolver cache.
type YTDLP struct {
	url   string
	cache *resolver.Cache
}

func NewYTDLP(url string, cache *resolver.Cache) *YTDLP {
	return &YTDLP{url: url, cache: cache}
}

func (s *YTDLP) ID() string { return s.url }
func (s *YTDLP) Kind() Kind { return KindYTDLP }

func (s *YTDLP) Resolve(ctx context.Context) (*Info, error) {
	ai, err := s.cache.GetAudioInfo(ctx, s.url)
	if err != nil {
		return nil, err
	}
	return &Info{
		URL:             ai.AudioURL,
		DurationSeconds: ai.DurationSeconds,
		Title:           ai.Title,
		Headers:         ai.HTTPHeaders,
	}, nil
}

func (s *YTDLP) Invalidate() { s.cache.Invalidate(s.url) }

// HTTP is a direct audio URL. Duration and title come from ffprobe when a
// prober is available.
type HTTP struct {
	url    string
	prober *resolver.Prober
}

func NewHTTP(url string, prober *resolver.Prober) *HTTP {
	return &HTTP{url: url, prober: prober}
}

func (s *HTTP) ID() string  { return s.url }
func (s *HTTP) Kind() Kind  { return KindHTTP }
func (s *HTTP) Invalidate() {}

func (s *HTTP) Resolve(ctx context.Context) (*Info, error) {
	info := &Info{URL: s.url, Title: resolver.UnknownTitle}
	if u, err := url.Parse(s.url); err == nil {
		if base := path.Base(u.Path); base != "/" && base != "." {
			info.Title = base
		}
	}
	if s.prober == nil {
		return info, nil
	}
	probe, err := s.prober.Probe(ctx, s.url)
	if err != nil {
		// Metadata is optional for direct streams
		log.Debug("Probe failed, continuing without metadata", "url", s.url, "error", err)
		return info, nil
	}
	info.DurationSeconds = probe.DurationSeconds
	if probe.Title != "" {
		info.Title = probe.Title
	}
	return info, nil
}

// File is a local audio file.
type File struct {
	path string
}

func NewFile(path string) *File {
	return &File{path: path}
}

func (s *File) ID() string  { return "file://" + s.path }
func (s *File) Kind() Kind  { return KindFile }
func (s *File) Invalidate() {}

func (s *File) Resolve(context.Context) (*Info, error) {
	abs, err := filepath.Abs(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", s.path, err)
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, s.path)
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrFileNotFound, s.path)
	}
	return &Info{
		URL:   abs,
		Title: strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs)),
	}, nil
}
