// Package stream adapts raw decoder output into pull-based PCM streams with
// the effect chain applied on demand.
package stream

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blacktop/harmonics/internal/effect"
	"github.com/blacktop/harmonics/internal/pcm"
	"github.com/charmbracelet/log"
)

const (
	// RawReadSize is the size of a single read from the source.
	RawReadSize = 16384
	// EffectChunkSize is how many raw bytes are run through the chain at once.
	EffectChunkSize = 4096

	RawBufferMin    = 16384
	RawBufferTarget = 65536
	RawBufferMax    = 131072
	// LowWaterMark is the raw buffer level under which a ready stream is
	// considered hung.
	LowWaterMark = 4096

	// PreBufferEffects is the pre-buffer needed before playback when the
	// chain is not empty; effects need lead-in context.
	PreBufferEffects = 16384
	// PreBufferRaw is the pre-buffer needed for pass-through playback.
	PreBufferRaw = 8192

	DefaultReadyAttempts = 100
	DefaultReadyInterval = 100 * time.Millisecond
	DefaultPollInterval  = 20 * time.Millisecond
)

var ErrClosed = errors.New("stream closed")

// State is the lifecycle phase of an EffectReader.
type State int32

const (
	PreBuffering State = iota
	Ready
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case PreBuffering:
		return "PreBuffering"
	case Ready:
		return "Ready"
	case Draining:
		return "Draining"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Callbacks are invoked from internal goroutines and must not block.
type Callbacks struct {
	// OnPreBuffered reports whether enough audio was buffered to start.
	OnPreBuffered func(ok bool)
	// OnEnd fires once, when the last byte has been read.
	OnEnd func()
	// OnHang fires when a ready stream runs low on raw audio.
	OnHang func()
}

// Options tune an EffectReader. Zero values select the defaults.
type Options struct {
	Callbacks

	// ReadyAttempts and ReadyInterval bound how long the source may take to
	// produce its first byte.
	ReadyAttempts int
	ReadyInterval time.Duration
	// PollInterval is the back-off used when the raw buffer is full or the
	// source returned no data.
	PollInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.ReadyAttempts <= 0 {
		o.ReadyAttempts = DefaultReadyAttempts
	}
	if o.ReadyInterval <= 0 {
		o.ReadyInterval = DefaultReadyInterval
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
}

// EffectReader is an io.ReadCloser that buffers raw PCM from a source in
// the background and runs it through an effect chain as it is read.
//
// Read never blocks on the source. Before pre-buffering completes, and
// whenever no processed audio is available yet, it returns 0, nil.
type EffectReader struct {
	src        io.ReadCloser
	chain      *effect.Chain
	sampleRate int
	opts       Options

	state atomic.Int32

	mu    sync.Mutex // guards raw and ended
	raw   []byte
	ended bool
	low   bool

	readMu    sync.Mutex // serialises chain processing with Close
	processed []byte
	samples   int64
	scratch   []int16
	flushed   bool

	got       atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once
	readyOK   atomic.Bool
	endOnce   sync.Once
	closeOnce sync.Once
	done      chan struct{}

	srcOnce sync.Once
	srcErr  error
}

// NewEffectReader starts buffering src immediately.
func NewEffectReader(src io.ReadCloser, chain *effect.Chain, sampleRate int, opts Options) *EffectReader {
	if chain == nil {
		chain = effect.NewChain()
	}
	opts.setDefaults()
	r := &EffectReader{
		src:        src,
		chain:      chain,
		sampleRate: sampleRate,
		opts:       opts,
		raw:        make([]byte, 0, RawBufferTarget),
		scratch:    make([]int16, EffectChunkSize/pcm.BytesPerSample),
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
	r.state.Store(int32(PreBuffering))
	go r.fill()
	go r.watchReady()
	return r
}

// State returns the current lifecycle phase.
func (r *EffectReader) State() State {
	return State(r.state.Load())
}

// Ready is closed once pre-buffering has finished, successfully or not.
func (r *EffectReader) Ready() <-chan struct{} {
	return r.ready
}

// AwaitPreBuffering waits up to timeout for pre-buffering and reports
// whether playback can start.
func (r *EffectReader) AwaitPreBuffering(timeout time.Duration) bool {
	select {
	case <-r.ready:
		return r.readyOK.Load()
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-r.ready:
		return r.readyOK.Load()
	case <-t.C:
		return false
	}
}

func (r *EffectReader) markReady(ok bool) {
	r.readyOnce.Do(func() {
		r.readyOK.Store(ok)
		r.state.CompareAndSwap(int32(PreBuffering), int32(Ready))
		close(r.ready)
		log.Debug("Pre-buffering finished", "ok", ok, "chain", r.chain.Name())
		if r.opts.OnPreBuffered != nil {
			r.opts.OnPreBuffered(ok)
		}
	})
}

// watchReady gives up on a source that never produces data.
func (r *EffectReader) watchReady() {
	limit := time.Duration(r.opts.ReadyAttempts) * r.opts.ReadyInterval
	t := time.NewTimer(limit)
	defer t.Stop()
	select {
	case <-r.done:
	case <-r.ready:
	case <-t.C:
		if !r.got.Load() {
			log.Warn("Audio source produced no data, giving up", "waited", limit)
			r.finish(false)
			_ = r.closeSource()
		}
	}
}

func (r *EffectReader) preBufferTarget() int {
	if r.chain.IsEmpty() {
		return PreBufferRaw
	}
	return PreBufferEffects
}

// rawTarget sizes the raw buffer for the current playback speed.
func (r *EffectReader) rawTarget() int {
	speed := r.chain.SpeedMultiplier()
	target := RawBufferTarget
	switch {
	case speed > 1.5:
		target = RawBufferMax
	case speed > 1.2:
		target = RawBufferTarget * 3 / 2
	case speed < 0.7:
		target = RawBufferTarget / 2
	}
	return min(max(target, RawBufferMin), RawBufferMax)
}

func (r *EffectReader) closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *EffectReader) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.done:
		return false
	case <-t.C:
		return true
	}
}

// fill moves raw bytes from the source into the raw buffer until the
// source ends or the reader is closed.
func (r *EffectReader) fill() {
	buf := make([]byte, RawReadSize)
	for !r.closed() {
		r.mu.Lock()
		size := len(r.raw)
		r.mu.Unlock()

		if size >= r.rawTarget() {
			if !r.sleep(r.opts.PollInterval) {
				return
			}
			continue
		}
		r.checkHang(size)

		n, err := r.src.Read(buf)
		if r.closed() {
			return
		}
		if n > 0 {
			r.got.Store(true)
			r.mu.Lock()
			r.raw = append(r.raw, buf[:n]...)
			size = len(r.raw)
			r.mu.Unlock()
			if size >= r.preBufferTarget() {
				r.markReady(true)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("Audio source read failed, treating as end of stream", "error", err)
			}
			r.mu.Lock()
			size = len(r.raw)
			r.mu.Unlock()
			r.finish(size > 0)
			return
		}
		if n == 0 && !r.sleep(r.opts.PollInterval) {
			return
		}
	}
}

func (r *EffectReader) checkHang(size int) {
	if r.State() != Ready {
		return
	}
	r.mu.Lock()
	fire := size < LowWaterMark && !r.low
	r.low = size < LowWaterMark
	r.mu.Unlock()
	if fire {
		log.Debug("Audio stream running low", "buffered", size)
		if r.opts.OnHang != nil {
			r.opts.OnHang()
		}
	}
}

// finish records that the source will produce no more data. ok reports
// whether anything was buffered for playback.
func (r *EffectReader) finish(ok bool) {
	r.mu.Lock()
	r.ended = true
	r.mu.Unlock()
	r.markReady(ok)
	r.state.CompareAndSwap(int32(Ready), int32(Draining))
}

func (r *EffectReader) closeSource() error {
	r.srcOnce.Do(func() {
		r.srcErr = r.src.Close()
	})
	return r.srcErr
}

// Read copies processed audio into p. Partial reads are normal; io.EOF is
// returned once the source has ended and every buffered byte was read.
func (r *EffectReader) Read(p []byte) (int, error) {
	r.readMu.Lock()
	defer r.readMu.Unlock()

	switch r.State() {
	case Closed:
		return 0, ErrClosed
	case PreBuffering:
		return 0, nil
	}
	if len(p) == 0 {
		return 0, nil
	}

	n := r.drain(p)
	if n == len(p) {
		return n, nil
	}
	if r.processChunk() {
		n += r.drain(p[n:])
	}
	if n > 0 {
		return n, nil
	}

	r.mu.Lock()
	eof := r.ended && len(r.raw) == 0
	r.mu.Unlock()
	if eof && len(r.processed) == 0 {
		r.endOnce.Do(func() {
			log.Debug("Audio stream ended", "samples", r.samples)
			if r.opts.OnEnd != nil {
				r.opts.OnEnd()
			}
		})
		return 0, io.EOF
	}
	return 0, nil
}

func (r *EffectReader) drain(p []byte) int {
	n := copy(p, r.processed)
	r.processed = r.processed[n:]
	if len(r.processed) == 0 {
		r.processed = r.processed[:0:0]
	}
	return n
}

// processChunk moves up to EffectChunkSize raw bytes through the chain.
// It reports false when there was nothing to process.
func (r *EffectReader) processChunk() bool {
	r.mu.Lock()
	take := min(len(r.raw), EffectChunkSize) &^ 1
	if take == 0 {
		ended := r.ended
		if ended && len(r.raw) > 0 {
			// a dangling half sample can never be played
			r.raw = r.raw[:0]
		}
		r.mu.Unlock()
		if ended && !r.flushed {
			r.flushed = true
			return r.flush()
		}
		return false
	}
	chunk := make([]byte, take)
	copy(chunk, r.raw)
	r.raw = append(r.raw[:0], r.raw[take:]...)
	r.mu.Unlock()

	if r.chain.IsEmpty() {
		r.processed = append(r.processed, chunk...)
		r.samples += int64(take / pcm.BytesPerSample)
		return true
	}

	count := pcm.BytesToSamples(chunk, r.scratch)
	in := make([]int16, count)
	copy(in, r.scratch[:count])
	t := pcm.SamplesToDuration(r.samples, r.sampleRate)
	out := r.chain.Process(in, t, r.sampleRate)
	r.processed = pcm.AppendSamples(r.processed, out)
	r.samples += int64(count)
	return true
}

// flush releases the samples the chain held back waiting for more input.
func (r *EffectReader) flush() bool {
	if r.chain.IsEmpty() {
		return false
	}
	out := r.chain.Flush(pcm.SamplesToDuration(r.samples, r.sampleRate), r.sampleRate)
	if len(out) == 0 {
		return false
	}
	r.processed = pcm.AppendSamples(r.processed, out)
	return true
}

// Available estimates how many output bytes are buffered.
func (r *EffectReader) Available() int {
	if r.State() == Closed {
		return 0
	}
	r.readMu.Lock()
	processed := len(r.processed)
	r.readMu.Unlock()
	r.mu.Lock()
	raw := len(r.raw)
	r.mu.Unlock()
	return processed + int(float64(raw)/r.chain.SpeedMultiplier())
}

// Close stops buffering, closes the source and resets the chain. It is
// safe to call more than once.
func (r *EffectReader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.state.Store(int32(Closed))
		close(r.done)
		err = r.closeSource()

		r.readyOnce.Do(func() { close(r.ready) })

		r.mu.Lock()
		r.raw = nil
		r.mu.Unlock()

		r.readMu.Lock()
		r.processed = nil
		r.chain.Reset()
		r.readMu.Unlock()
		log.Debug("Audio stream closed")
	})
	return err
}
