/*
Copyright © 2025 blacktop

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/
package pcm

import (
	"errors"
	"io"

	"github.com/gopxl/beep/v2"
)

// Streamer implements beep.Streamer over a pull-based s16le mono reader.
//
// A read that yields no bytes is rendered as silence so the speaker keeps
// its clock while the source is starved; io.EOF ends the stream.
type Streamer struct {
	r          io.Reader
	sampleRate beep.SampleRate
	buf        []byte
	pending    []byte // odd trailing byte carried to the next read
	err        error
	done       bool
	streamed   int
}

// NewStreamer wraps r, which must produce 16-bit little-endian mono PCM at
// sampleRate.
func NewStreamer(r io.Reader, sampleRate int) *Streamer {
	return &Streamer{r: r, sampleRate: beep.SampleRate(sampleRate)}
}

// Format returns the beep format the stream should be played with.
func (s *Streamer) Format() beep.Format {
	return beep.Format{SampleRate: s.sampleRate, NumChannels: 2, Precision: 2}
}

func (s *Streamer) Stream(samples [][2]float64) (n int, ok bool) {
	if s.done {
		return 0, false
	}

	need := len(samples) * BytesPerSample
	if cap(s.buf) < need {
		s.buf = make([]byte, need)
	}
	buf := s.buf[:need]
	got := copy(buf, s.pending)
	s.pending = s.pending[:0]

	read, err := s.r.Read(buf[got:])
	got += read
	if err != nil {
		s.done = true
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
	}

	full := got / BytesPerSample
	if got%BytesPerSample == 1 {
		s.pending = append(s.pending, buf[got-1])
	}

	for i := range full {
		// Convert 16-bit little-endian PCM to float64
		sample16 := int16(uint16(buf[2*i]) | uint16(buf[2*i+1])<<8)
		sampleFloat := float64(sample16) / 32768.0

		// Mono to stereo
		samples[i][0] = sampleFloat
		samples[i][1] = sampleFloat
	}
	s.streamed += full

	if s.done {
		return full, full > 0
	}

	// Starved source: pad with silence instead of stalling the speaker.
	for i := full; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}

func (s *Streamer) Err() error {
	return s.err
}

// Position returns the number of source samples streamed so far.
func (s *Streamer) Position() int {
	return s.streamed
}
