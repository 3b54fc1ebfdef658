package player

import (
	"errors"
	"io"

	"github.com/blacktop/harmonics/internal/pcm"
)

// errConsumerGone is returned by a sink whose reader has closed.
var errConsumerGone = errors.New("consumer closed")

// sink receives raw decoder bytes for one session.
type sink interface {
	io.Writer
	// finish signals the end of production.
	finish()
}

// ringSink writes PCM bytes into a ring buffer, carrying a dangling odd
// byte over to the next write so samples never split.
type ringSink struct {
	rb      *pcm.RingBuffer
	odd     byte
	hasOdd  bool
	samples []int16
}

func (s *ringSink) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	data := p
	if s.hasOdd {
		data = append([]byte{s.odd}, p...)
		s.hasOdd = false
	}
	whole := len(data) &^ 1
	if whole < len(data) {
		s.odd, s.hasOdd = data[whole], true
	}

	need := whole / pcm.BytesPerSample
	if cap(s.samples) < need {
		s.samples = make([]int16, need)
	}
	samples := s.samples[:pcm.BytesToSamples(data[:whole], s.samples[:need])]
	for len(samples) > 0 {
		n := s.rb.Write(samples)
		if n == 0 {
			return 0, errConsumerGone
		}
		samples = samples[n:]
	}
	return len(p), nil
}

func (s *ringSink) finish() { s.rb.MarkComplete() }

// pipeSink hands decoder output straight to the reader.
type pipeSink struct {
	pw *io.PipeWriter
}

func (s pipeSink) Write(p []byte) (int, error) {
	n, err := s.pw.Write(p)
	if errors.Is(err, io.ErrClosedPipe) {
		return n, errConsumerGone
	}
	return n, err
}

func (s pipeSink) finish() { s.pw.Close() }
