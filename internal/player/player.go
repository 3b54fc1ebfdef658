// Package player wires sources, the decoder and the streaming adapter into
// playback sessions.
package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/blacktop/harmonics/internal/config"
	"github.com/blacktop/harmonics/internal/effect"
	"github.com/blacktop/harmonics/internal/process"
	"github.com/blacktop/harmonics/internal/source"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	// Maximum number of concurrent sessions to track (prevent runaway decoders)
	MaxSessions = 32
	// Delay before re-resolving an expired URL
	DefaultRetryDelay = 500 * time.Millisecond
	// Attempts made for a source whose resolved URL was rejected
	maxAttempts = 2
)

var ErrTooManySessions = errors.New("too many concurrent sessions")

// Callbacks report session lifecycle events. They run on internal
// goroutines and must not block.
type Callbacks struct {
	OnPreBuffered func(ok bool)
	OnEnd         func()
	OnHang        func()
	// OnTitle fires once the source title is known.
	OnTitle func(title string)
}

// Options configure a single session.
type Options struct {
	// Chain is applied on read. Nil builds the configured default chain
	// without pitch shifting.
	Chain *effect.Chain
	// Seek skips into the source, in seconds.
	Seek      float64
	Callbacks Callbacks
}

// Player opens playback sessions and tracks them until they close.
type Player struct {
	cfg     *config.Config
	reg     *process.Registry
	deps    source.Deps
	locator *process.Locator

	mu          sync.RWMutex
	sessions    map[string]*Session
	maxSessions int
	retryDelay  time.Duration
}

// New returns a player. The registry and the resolver cache in deps are
// shared by every session; the caller owns their shutdown.
func New(cfg *config.Config, reg *process.Registry, deps source.Deps) *Player {
	if deps.AllowedDomains == nil {
		deps.AllowedDomains = cfg.HTTP.AllowedDomains
	}
	return &Player{
		cfg:         cfg,
		reg:         reg,
		deps:        deps,
		locator:     process.NewLocator(),
		sessions:    make(map[string]*Session),
		maxSessions: MaxSessions,
		retryDelay:  DefaultRetryDelay,
	}
}

func (p *Player) ffmpegName() string {
	if p.cfg.Tools.FFmpeg != "" {
		return p.cfg.Tools.FFmpeg
	}
	return "ffmpeg"
}

// Open starts a session for raw. It fails fast when ffmpeg is missing or
// raw cannot be classified; resolution and decoding happen in the
// background.
func (p *Player) Open(ctx context.Context, raw string, opts Options) (*Session, error) {
	ffmpeg, err := p.locator.Locate(p.ffmpegName())
	if err != nil {
		return nil, err
	}
	src, err := source.New(raw, p.deps)
	if err != nil {
		return nil, err
	}
	if opts.Chain == nil {
		opts.Chain = BuildChain(p.cfg, nil)
	}

	p.mu.Lock()
	// Check capacity limit to prevent resource exhaustion
	if len(p.sessions) >= p.maxSessions {
		log.Warn("Maximum concurrent sessions reached, rejecting new session",
			"current", len(p.sessions), "max", p.maxSessions)
		p.mu.Unlock()
		return nil, ErrTooManySessions
	}
	s := newSession(uuid.NewString(), p, src, process.NewDecoder(ffmpeg, p.reg), opts)
	p.sessions[s.id] = s
	p.mu.Unlock()

	s.start(ctx)

	log.Info("Opened playback session", "id", s.id, "source", src.ID(), "kind", src.Kind(), "direct", p.cfg.Buffer.Direct)
	return s, nil
}

// Get returns a tracked session.
func (p *Player) Get(id string) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[id]
	return s, ok
}

// Stop closes a session by ID
func (p *Player) Stop(id string, reason string) bool {
	if id == "" {
		log.Warn("Empty session ID provided for stop")
		return false
	}
	s, ok := p.Get(id)
	if !ok {
		log.Debug("Stop requested for unknown session", "id", id, "reason", reason)
		return false
	}
	log.Info("Stopping session", "id", id, "reason", reason)
	s.Close()
	return true
}

// complete removes a session from tracking
func (p *Player) complete(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sessions, id)
	log.Debug("Cleaned up session tracking", "id", id)
}

// Active returns the number of open sessions
func (p *Player) Active() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Shutdown closes every open session.
func (p *Player) Shutdown() {
	p.mu.RLock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.RUnlock()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(s.Close)
	}
	_ = g.Wait()

	log.Info("Player shutdown completed", "closed", len(sessions))
}
