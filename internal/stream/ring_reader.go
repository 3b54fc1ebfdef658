package stream

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/blacktop/harmonics/internal/pcm"
)

// DefaultWaitTimeout bounds how long a RingReader read waits for samples.
const DefaultWaitTimeout = 100 * time.Millisecond

// RingReader exposes a ring buffer as a little-endian PCM byte stream. It
// only ever returns whole samples.
type RingReader struct {
	rb      *pcm.RingBuffer
	timeout time.Duration
	scratch []int16
	closed  atomic.Bool
}

func NewRingReader(rb *pcm.RingBuffer, timeout time.Duration) *RingReader {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	return &RingReader{rb: rb, timeout: timeout}
}

// Read waits at most the configured timeout for samples. It returns 0, nil
// when none arrived in time and io.EOF once the buffer is complete and
// empty.
func (r *RingReader) Read(p []byte) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}
	want := len(p) / pcm.BytesPerSample
	if want == 0 {
		return 0, nil
	}
	if !r.rb.WaitForSamples(1, r.timeout) {
		return 0, nil
	}
	if cap(r.scratch) < want {
		r.scratch = make([]int16, want)
	}
	n := r.rb.Read(r.scratch[:want])
	if n == 0 {
		if r.rb.Exhausted() {
			return 0, io.EOF
		}
		return 0, nil
	}
	return pcm.SamplesToBytes(r.scratch[:n], p), nil
}

// Close marks the buffer complete, waking a producer blocked in Write.
func (r *RingReader) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		r.rb.MarkComplete()
	}
	return nil
}
