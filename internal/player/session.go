package player

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/blacktop/harmonics/internal/pcm"
	"github.com/blacktop/harmonics/internal/process"
	"github.com/blacktop/harmonics/internal/source"
	"github.com/blacktop/harmonics/internal/stream"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

// Session is one source being decoded and read. It owns its decoder, ring
// buffer and effect chain.
type Session struct {
	id      string
	player  *Player
	src     source.Source
	dec     *process.Decoder
	opts    Options
	reader  *stream.EffectReader
	ring    *pcm.RingBuffer
	sink    sink
	cancel  context.CancelFunc
	g       *errgroup.Group
	started time.Time

	mu   sync.RWMutex
	info *source.Info

	titleOnce sync.Once
	closeOnce sync.Once
}

func newSession(id string, p *Player, src source.Source, dec *process.Decoder, opts Options) *Session {
	return &Session{
		id:     id,
		player: p,
		src:    src,
		dec:    dec,
		opts:   opts,
	}
}

func (s *Session) start(parent context.Context) {
	cfg := s.player.cfg
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.started = time.Now()

	var in io.ReadCloser
	if cfg.Buffer.Direct {
		pr, pw := io.Pipe()
		in, s.sink = pr, pipeSink{pw: pw}
	} else {
		s.ring = pcm.NewRingBuffer(cfg.Buffer.RingCapacity)
		in, s.sink = stream.NewRingReader(s.ring, stream.DefaultWaitTimeout), &ringSink{rb: s.ring}
	}

	cb := s.opts.Callbacks
	s.reader = stream.NewEffectReader(in, s.opts.Chain, cfg.Audio.SampleRate, stream.Options{
		Callbacks: stream.Callbacks{
			OnPreBuffered: cb.OnPreBuffered,
			OnEnd:         cb.OnEnd,
			OnHang:        cb.OnHang,
		},
		ReadyAttempts: cfg.Buffer.ReadyAttempts,
		ReadyInterval: cfg.Buffer.ReadyInterval,
	})

	s.g, ctx = errgroup.WithContext(ctx)
	s.g.Go(func() error {
		defer s.sink.finish()
		return s.produce(ctx)
	})
}

// produce resolves the source and decodes it into the sink. A URL that is
// rejected before any audio arrives is treated as expired: the cached
// resolution is dropped and the source resolved once more.
func (s *Session) produce(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		info, err := s.src.Resolve(ctx)
		if err != nil {
			log.Error("Failed to resolve source", "session", s.id, "source", s.src.ID(), "error", err)
			return err
		}
		s.setInfo(info)

		written, err := s.decode(ctx, info)
		switch {
		case err == nil, errors.Is(err, errConsumerGone):
			log.Debug("Decode finished", "session", s.id, "bytes", written, "elapsed", time.Since(s.started))
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case written > 0:
			// The stream still ends normally for the reader.
			log.Warn("Decoder failed mid-stream", "session", s.id, "bytes", written, "error", err)
			return err
		case !isExpiredURL(err) || attempt >= maxAttempts:
			log.Error("Decoder failed", "session", s.id, "attempt", attempt, "error", err)
			return err
		}

		log.Warn("Detected expired URL, invalidating cache and retrying", "session", s.id, "attempt", attempt)
		s.src.Invalidate()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.player.retryDelay):
		}
	}
}

func (s *Session) decode(ctx context.Context, info *source.Info) (int, error) {
	sampleRate := s.player.cfg.Audio.SampleRate
	var written int

	if s.src.Kind() == source.KindFile && s.opts.Seek <= 0 {
		for chunk, err := range s.dec.DecodeFile(ctx, info.URL, sampleRate) {
			if err != nil {
				return written, err
			}
			if _, err := s.sink.Write(chunk); err != nil {
				return written, err
			}
			written += len(chunk)
		}
		return written, nil
	}

	err := s.dec.CreateStream(ctx, info.URL, sampleRate, s.opts.Seek, process.WithHeaders(info.Headers))
	if err != nil {
		return 0, err
	}
	defer s.dec.Destroy()

	stdout := s.dec.Stdout()
	if stdout == nil {
		return 0, process.ErrAlreadyRunning
	}
	buf := make([]byte, process.ChunkSize)
	for {
		n, rerr := stdout.Read(buf)
		if n > 0 {
			if _, err := s.sink.Write(buf[:n]); err != nil {
				return written, err
			}
			written += n
		}
		if rerr != nil {
			break
		}
	}
	return written, s.dec.Wait()
}

// isExpiredURL reports whether a decoder failure looks like a signed URL
// that is no longer accepted.
func isExpiredURL(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "403") ||
		strings.Contains(msg, "Forbidden") ||
		strings.Contains(msg, "HTTP error")
}

func (s *Session) setInfo(info *source.Info) {
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()

	s.titleOnce.Do(func() {
		log.Info("Resolved source", "session", s.id, "title", info.Title, "duration", info.DurationSeconds)
		if s.opts.Callbacks.OnTitle != nil {
			s.opts.Callbacks.OnTitle(info.Title)
		}
	})
}

func (s *Session) ID() string { return s.id }

func (s *Session) Source() source.Source { return s.src }

// Info returns the latest resolution, or nil before the source resolved.
func (s *Session) Info() *source.Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Title returns the resolved title, or "" before resolution.
func (s *Session) Title() string {
	if info := s.Info(); info != nil {
		return info.Title
	}
	return ""
}

// Reader is the processed PCM stream.
func (s *Session) Reader() *stream.EffectReader { return s.reader }

// HostStream wraps the reader for hosts that treat short reads as the end.
func (s *Session) HostStream(strategy stream.CloseStrategy) *stream.HostStream {
	return stream.NewHostStream(s.reader, s.player.cfg.Audio.SampleRate, strategy)
}

// AwaitPreBuffering waits until playback can start. A non-positive timeout
// uses the configured pre-buffer timeout.
func (s *Session) AwaitPreBuffering(timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = s.player.cfg.Buffer.PreBufferTimeout
	}
	return s.reader.AwaitPreBuffering(timeout)
}

// Wait blocks until decoding has finished and returns its error. A session
// stopped by its context or by Close reports nil.
func (s *Session) Wait() error {
	err := s.g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close stops decoding, releases every resource and stops tracking the
// session. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.reader.Close()
		if s.ring != nil {
			s.ring.MarkComplete()
		}
		s.dec.Destroy()
		_ = s.g.Wait()
		s.player.complete(s.id)
		log.Debug("Closed session", "session", s.id, "elapsed", time.Since(s.started))
	})
	return nil
}
