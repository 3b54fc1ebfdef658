package player

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blacktop/harmonics/internal/config"
	"github.com/blacktop/harmonics/internal/effect"
	"github.com/blacktop/harmonics/internal/pcm"
	"github.com/blacktop/harmonics/internal/process"
	"github.com/blacktop/harmonics/internal/resolver"
	"github.com/blacktop/harmonics/internal/source"
	"github.com/blacktop/harmonics/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pattern = "yes A | head -c 20000"

func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("Skipping shell script tool test on Windows")
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

func newTestPlayer(t *testing.T, ffmpegBody string, mut func(*config.Config), deps source.Deps) (*Player, *process.Registry) {
	t.Helper()
	cfg := config.Default()
	cfg.Tools.FFmpeg = writeScript(t, "ffmpeg", ffmpegBody)
	cfg.Buffer.ReadyAttempts = 50
	cfg.Buffer.ReadyInterval = 20 * time.Millisecond
	if mut != nil {
		mut(cfg)
	}
	cfg.Normalize()

	reg := process.NewRegistry()
	reg.SetStopGrace(500 * time.Millisecond)
	t.Cleanup(reg.Shutdown)

	p := New(cfg, reg, deps)
	p.retryDelay = 10 * time.Millisecond
	t.Cleanup(p.Shutdown)
	return p, reg
}

// readAll drains r until io.EOF, tolerating the 0, nil reads of a stream
// that is not ready yet.
func readAll(t *testing.T, r io.Reader) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 4096)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatal("stream did not end")
	return nil
}

type recorder struct {
	mu          sync.Mutex
	prebuffered []bool
	titles      []string
	ends        atomic.Int32
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnPreBuffered: func(ok bool) {
			r.mu.Lock()
			r.prebuffered = append(r.prebuffered, ok)
			r.mu.Unlock()
		},
		OnEnd: func() { r.ends.Add(1) },
		OnTitle: func(title string) {
			r.mu.Lock()
			r.titles = append(r.titles, title)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) snapshot() ([]bool, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.prebuffered...), append([]string(nil), r.titles...)
}

func countingCache(calls *atomic.Int32, fail error) *resolver.Cache {
	return resolver.NewCache(resolver.ExtractorFunc(func(context.Context, string) (*resolver.AudioInfo, error) {
		n := calls.Add(1)
		if fail != nil {
			return nil, fail
		}
		return &resolver.AudioInfo{
			AudioURL:        fmt.Sprintf("https://cdn.example/%d", n),
			DurationSeconds: 30,
			Title:           "Track",
			HTTPHeaders:     map[string]string{"User-Agent": "test"},
		}, nil
	}))
}

func TestPlayerFileSource(t *testing.T) {
	p, _ := newTestPlayer(t, pattern, nil, source.Deps{})
	path := filepath.Join(t.TempDir(), "song.ogg")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	var rec recorder
	s, err := p.Open(context.Background(), path, Options{Callbacks: rec.callbacks()})
	require.NoError(t, err)
	assert.Equal(t, source.KindFile, s.Source().Kind())
	assert.Equal(t, 1, p.Active())

	assert.True(t, s.AwaitPreBuffering(5*time.Second))
	out := readAll(t, s.Reader())
	assert.Equal(t, bytes.Repeat([]byte("A\n"), 10000), out)
	require.NoError(t, s.Wait())

	pre, titles := rec.snapshot()
	assert.Equal(t, []bool{true}, pre)
	assert.Equal(t, []string{"song"}, titles)
	assert.Equal(t, int32(1), rec.ends.Load())
	assert.Equal(t, "song", s.Title())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 0, p.Active())
	_, ok := p.Get(s.ID())
	assert.False(t, ok)
}

func TestPlayerDirectMode(t *testing.T) {
	p, _ := newTestPlayer(t, pattern, func(c *config.Config) { c.Buffer.Direct = true }, source.Deps{})

	s, err := p.Open(context.Background(), "https://radio.example/live.mp3", Options{})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, source.KindHTTP, s.Source().Kind())

	out := readAll(t, s.Reader())
	assert.Len(t, out, 20000)
	assert.NoError(t, s.Wait())
	assert.Equal(t, "live.mp3", s.Title())
}

func TestPlayerAppliesChain(t *testing.T) {
	p, _ := newTestPlayer(t, "printf '\\144\\000\\234\\377'", nil, source.Deps{})

	s, err := p.Open(context.Background(), "https://radio.example/a.wav", Options{
		Chain: effect.NewChain(effect.NewVolume(2)),
	})
	require.NoError(t, err)
	defer s.Close()

	out := readAll(t, s.Reader())
	assert.Equal(t, []int16{200, -200}, pcm.Decode(out))
}

func TestPlayerRetriesExpiredURL(t *testing.T) {
	var calls atomic.Int32
	deps := source.Deps{Cache: countingCache(&calls, nil)}
	body := `case "$*" in
*cdn.example/1*) echo "Server returned 403 Forbidden (access denied)" >&2; exit 1;;
esac
` + pattern
	p, _ := newTestPlayer(t, body, nil, deps)

	var rec recorder
	s, err := p.Open(context.Background(), "https://www.youtube.com/watch?v=abc", Options{Callbacks: rec.callbacks()})
	require.NoError(t, err)
	defer s.Close()

	out := readAll(t, s.Reader())
	assert.Len(t, out, 20000)
	require.NoError(t, s.Wait())
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "https://cdn.example/2", s.Info().URL)

	_, titles := rec.snapshot()
	assert.Equal(t, []string{"Track"}, titles, "title reported once")
}

func TestPlayerDoesNotRetryOtherFailures(t *testing.T) {
	var calls atomic.Int32
	deps := source.Deps{Cache: countingCache(&calls, nil)}
	p, _ := newTestPlayer(t, "echo 'Invalid data found when processing input' >&2; exit 1", nil, deps)

	var rec recorder
	s, err := p.Open(context.Background(), "https://www.youtube.com/watch?v=abc", Options{Callbacks: rec.callbacks()})
	require.NoError(t, err)
	defer s.Close()

	assert.False(t, s.AwaitPreBuffering(5*time.Second))
	assert.Empty(t, readAll(t, s.Reader()))
	err = s.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid data")
	assert.Equal(t, int32(1), calls.Load())

	pre, _ := rec.snapshot()
	assert.Equal(t, []bool{false}, pre)
}

func TestPlayerResolveFailure(t *testing.T) {
	var calls atomic.Int32
	deps := source.Deps{Cache: countingCache(&calls, errors.New("video unavailable"))}
	p, reg := newTestPlayer(t, pattern, nil, deps)

	s, err := p.Open(context.Background(), "https://www.youtube.com/watch?v=gone", Options{})
	require.NoError(t, err)
	defer s.Close()

	assert.ErrorIs(t, s.Wait(), resolver.ErrResolveFailed)
	assert.False(t, s.AwaitPreBuffering(5*time.Second))
	assert.Empty(t, s.Title())
	assert.Equal(t, 0, reg.Active(), "no decoder for an unresolved source")
}

func TestPlayerMissingFFmpeg(t *testing.T) {
	p, _ := newTestPlayer(t, pattern, func(c *config.Config) {
		c.Tools.FFmpeg = filepath.Join(t.TempDir(), "missing", "ffmpeg")
	}, source.Deps{})

	_, err := p.Open(context.Background(), "https://radio.example/a.mp3", Options{})
	assert.ErrorIs(t, err, process.ErrBinaryNotFound)
	assert.Equal(t, 0, p.Active())
}

func TestPlayerRejectsBadSource(t *testing.T) {
	p, _ := newTestPlayer(t, pattern, func(c *config.Config) {
		c.HTTP.AllowedDomains = []string{"example.com"}
	}, source.Deps{})

	_, err := p.Open(context.Background(), "https://evil.org/a.mp3", Options{})
	assert.ErrorIs(t, err, source.ErrDomainNotAllowed)
	_, err = p.Open(context.Background(), " ", Options{})
	assert.ErrorIs(t, err, source.ErrEmptyInput)
	assert.Equal(t, 0, p.Active())
}

func TestSessionCloseStopsDecoder(t *testing.T) {
	for _, direct := range []bool{false, true} {
		t.Run(fmt.Sprintf("direct=%v", direct), func(t *testing.T) {
			p, reg := newTestPlayer(t, "exec yes A", func(c *config.Config) { c.Buffer.Direct = direct }, source.Deps{})

			s, err := p.Open(context.Background(), "https://radio.example/endless.mp3", Options{})
			require.NoError(t, err)
			require.True(t, s.AwaitPreBuffering(5*time.Second))

			start := time.Now()
			require.NoError(t, s.Close())
			assert.Less(t, time.Since(start), 5*time.Second)
			assert.NoError(t, s.Wait())
			assert.Equal(t, 0, p.Active())
			assert.Eventually(t, func() bool { return reg.Active() == 0 }, 2*time.Second, 10*time.Millisecond)

			_, err = s.Reader().Read(make([]byte, 16))
			assert.ErrorIs(t, err, stream.ErrClosed)
		})
	}
}

func TestPlayerContextCancel(t *testing.T) {
	p, reg := newTestPlayer(t, "exec yes A", nil, source.Deps{})

	ctx, cancel := context.WithCancel(context.Background())
	s, err := p.Open(ctx, "https://radio.example/endless.mp3", Options{})
	require.NoError(t, err)
	defer s.Close()
	require.True(t, s.AwaitPreBuffering(5*time.Second))

	cancel()
	assert.NoError(t, s.Wait())
	assert.Eventually(t, func() bool { return reg.Active() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestPlayerCapacityAndStop(t *testing.T) {
	p, _ := newTestPlayer(t, "exec sleep 30", nil, source.Deps{})
	p.maxSessions = 1

	s, err := p.Open(context.Background(), "https://radio.example/a.mp3", Options{})
	require.NoError(t, err)

	_, err = p.Open(context.Background(), "https://radio.example/b.mp3", Options{})
	assert.ErrorIs(t, err, ErrTooManySessions)

	got, ok := p.Get(s.ID())
	require.True(t, ok)
	assert.Same(t, s, got)

	assert.False(t, p.Stop("", "empty"))
	assert.False(t, p.Stop("nope", "unknown"))
	assert.True(t, p.Stop(s.ID(), "test"))
	assert.Equal(t, 0, p.Active())
}

func TestBuildChain(t *testing.T) {
	cfg := config.Default()
	assert.True(t, BuildChain(cfg, nil).IsEmpty())

	cfg.Effects.HighPassCutoff = 100
	cfg.Effects.LowPassCutoff = 3000
	cfg.Effects.BitCrush = 0.5
	cfg.Effects.ReverbWet = 0.3
	cfg.Effects.Volume = 0.5
	cfg.Effects.Bands = []effect.Band{{Frequency: 60, Q: 0.7, Gain: 6}}
	c := BuildChain(cfg, func(float64) float32 { return 1.5 })

	require.Equal(t, 7, c.Len())
	assert.IsType(t, &effect.PitchShift{}, c.At(0))
	assert.IsType(t, &effect.HighPass{}, c.At(1))
	assert.IsType(t, &effect.LowPass{}, c.At(2))
	assert.IsType(t, &effect.Equalizer{}, c.At(3))
	assert.IsType(t, &effect.BitCrush{}, c.At(4))
	assert.IsType(t, &effect.Reverb{}, c.At(5))
	assert.IsType(t, &effect.Volume{}, c.At(6))
	assert.Equal(t, "EQ(60Hz:6dB)", c.At(3).Name())
}

func TestBuildChainSkipsFlatEqualizer(t *testing.T) {
	cfg := config.Default()
	cfg.Effects.Bands = effect.DefaultBands()
	assert.True(t, BuildChain(cfg, nil).IsEmpty())
}

func TestPitchFunc(t *testing.T) {
	cfg := config.Default()
	fn, err := PitchFunc(cfg)
	require.NoError(t, err)
	assert.Nil(t, fn)

	cfg.Audio.Pitch = "linear:1,2,10"
	fn, err = PitchFunc(cfg)
	require.NoError(t, err)
	require.NotNil(t, fn)
	assert.InDelta(t, 1.5, fn(5), 1e-6)

	cfg.Audio.Pitch = "wobble:3"
	_, err = PitchFunc(cfg)
	assert.Error(t, err)
}

func TestRingSinkCarriesOddByte(t *testing.T) {
	rb := pcm.NewRingBuffer(16)
	s := &ringSink{rb: rb}

	n, err := s.Write([]byte{0x01})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, rb.Available())

	n, err = s.Write([]byte{0x00, 0x02, 0x00})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got := make([]int16, 4)
	assert.Equal(t, 2, rb.Read(got))
	assert.Equal(t, []int16{1, 2}, got[:2])

	rb.MarkComplete()
	_, err = s.Write([]byte{0x00, 0x00})
	assert.ErrorIs(t, err, errConsumerGone)
}

func TestIsExpiredURL(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"ffmpeg: exit status 1: Server returned 403 Forbidden (access denied)", true},
		{"HTTP error 403", true},
		{"Forbidden", true},
		{"Invalid data found when processing input", false},
		{"Connection refused", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, isExpiredURL(errors.New(tt.msg)))
		})
	}
}
