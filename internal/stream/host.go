package stream

import (
	"errors"
	"io"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

// HostReadSize caps a single HostStream read.
const HostReadSize = 8192

// CloseStrategy decides what closing a HostStream does to its source.
// It is either CloseSource or CloseViaHang.
type CloseStrategy interface {
	close(src io.Closer) error
}

type closeSource struct{}

func (closeSource) close(src io.Closer) error { return src.Close() }

type closeViaHang struct{ fn func() }

func (c closeViaHang) close(io.Closer) error {
	if c.fn != nil {
		c.fn()
	}
	return nil
}

// CloseSource closes the source when the host stream closes.
func CloseSource() CloseStrategy { return closeSource{} }

// CloseViaHang leaves the source open and calls fn instead. Owners use it
// when the source must outlive a host that gives up on stalled streams.
func CloseViaHang(fn func()) CloseStrategy { return closeViaHang{fn: fn} }

// HostStream adapts a PCM reader to playback hosts that treat a short
// read as end of stream. A temporarily empty source yields silence.
type HostStream struct {
	src        io.ReadCloser
	strategy   CloseStrategy
	sampleRate int
	buf        []byte
	closed     atomic.Bool
}

func NewHostStream(src io.ReadCloser, sampleRate int, strategy CloseStrategy) *HostStream {
	if strategy == nil {
		strategy = CloseSource()
	}
	return &HostStream{
		src:        src,
		strategy:   strategy,
		sampleRate: sampleRate,
		buf:        make([]byte, HostReadSize),
	}
}

// SampleRate returns the rate of the mono s16le stream.
func (h *HostStream) SampleRate() int {
	return h.sampleRate
}

// Read returns up to maxBytes of whole samples. It returns silence when
// the source has nothing yet and an empty slice with io.EOF at the end.
func (h *HostStream) Read(maxBytes int) ([]byte, error) {
	if h.closed.Load() {
		return []byte{}, io.EOF
	}
	size := min(max(maxBytes, 2), len(h.buf)) &^ 1

	n, err := h.src.Read(h.buf[:size])
	switch {
	case n > 0:
		return append([]byte(nil), h.buf[:n]...), nil
	case errors.Is(err, io.EOF), errors.Is(err, ErrClosed):
		return []byte{}, io.EOF
	case err != nil:
		log.Debug("Host stream read failed, returning silence", "error", err)
	}
	return make([]byte, size), nil
}

// Close applies the close strategy once.
func (h *HostStream) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.strategy.close(h.src)
}
