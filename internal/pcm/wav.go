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
	"encoding/binary"
	"fmt"
	"io"
)

const wavHeaderSize = 44

// WriteWAVHeader writes a standard 44 byte PCM WAV header.
func WriteWAVHeader(w io.Writer, dataSize, sampleRate, channels, bitsPerSample int) error {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	fields := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + dataSize),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16), // Subchunk1Size for PCM
		uint16(1),  // AudioFormat: PCM
		uint16(channels),
		uint32(sampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitsPerSample),
		[4]byte{'d', 'a', 't', 'a'},
		uint32(dataSize),
	}
	for _, f := range fields {
		if err := binary.Write(w, binary.LittleEndian, f); err != nil {
			return err
		}
	}
	return nil
}

// WAVWriter streams mono s16le PCM into a WAV container. The header is
// written up front with a zero size and patched on Close.
type WAVWriter struct {
	w          io.WriteSeeker
	sampleRate int
	written    int
	closed     bool
}

// NewWAVWriter writes a placeholder header to w and returns a writer for
// the PCM payload.
func NewWAVWriter(w io.WriteSeeker, sampleRate int) (*WAVWriter, error) {
	if err := WriteWAVHeader(w, 0, sampleRate, 1, 16); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return &WAVWriter{w: w, sampleRate: sampleRate}, nil
}

// Write appends raw PCM bytes.
func (ww *WAVWriter) Write(p []byte) (int, error) {
	if ww.closed {
		return 0, io.ErrClosedPipe
	}
	n, err := ww.w.Write(p)
	ww.written += n
	if err != nil {
		return n, fmt.Errorf("failed to write WAV data: %w", err)
	}
	return n, nil
}

// Written returns the number of PCM bytes written so far.
func (ww *WAVWriter) Written() int {
	return ww.written
}

// Close rewrites the header with the final data size. It does not close the
// underlying writer.
func (ww *WAVWriter) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if _, err := ww.w.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind WAV file: %w", err)
	}
	if err := WriteWAVHeader(ww.w, ww.written, ww.sampleRate, 1, 16); err != nil {
		return fmt.Errorf("failed to finalize WAV header: %w", err)
	}
	_, err := ww.w.Seek(int64(wavHeaderSize+ww.written), io.SeekStart)
	return err
}
