// Package pcm holds the 16-bit mono PCM primitives shared by the pipeline:
// sample/byte conversion, the bounded ring buffer, WAV output and a beep
// streamer for playback.
package pcm

import "math"

const (
	// BytesPerSample is the frame size of s16le mono audio.
	BytesPerSample = 2

	MinSample = math.MinInt16
	MaxSample = math.MaxInt16
)

// Clamp rounds v to the nearest integer and clamps it to the int16 range.
func Clamp(v float64) int16 {
	r := math.Round(v)
	switch {
	case math.IsNaN(r):
		return 0
	case r > MaxSample:
		return MaxSample
	case r < MinSample:
		return MinSample
	}
	return int16(r)
}

// BytesToSamples decodes little-endian 16-bit samples from b into dst and
// returns the number decoded. A trailing odd byte is ignored.
func BytesToSamples(b []byte, dst []int16) int {
	n := min(len(b)/BytesPerSample, len(dst))
	for i := range n {
		dst[i] = int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8)
	}
	return n
}

// SamplesToBytes encodes samples as little-endian 16-bit values into dst and
// returns the number of bytes written.
func SamplesToBytes(samples []int16, dst []byte) int {
	n := min(len(samples), len(dst)/BytesPerSample)
	for i := range n {
		dst[2*i] = byte(samples[i])
		dst[2*i+1] = byte(uint16(samples[i]) >> 8)
	}
	return n * BytesPerSample
}

// AppendSamples appends the little-endian encoding of samples to b.
func AppendSamples(b []byte, samples []int16) []byte {
	for _, s := range samples {
		b = append(b, byte(s), byte(uint16(s)>>8))
	}
	return b
}

// Decode returns a freshly allocated sample slice for b.
func Decode(b []byte) []int16 {
	out := make([]int16, len(b)/BytesPerSample)
	BytesToSamples(b, out)
	return out
}

// Encode returns a freshly allocated byte slice for samples.
func Encode(samples []int16) []byte {
	return AppendSamples(make([]byte, 0, len(samples)*BytesPerSample), samples)
}

// SamplesToDuration converts a sample count at sampleRate into seconds.
func SamplesToDuration(samples int64, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(samples) / float64(sampleRate)
}
