package effect

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/blacktop/harmonics/internal/pcm"
	"github.com/blacktop/harmonics/internal/pitch"
)

const (
	DefaultMinPitch = 0.5
	DefaultMaxPitch = 2.0

	// maxPendingSeconds caps both the unconsumed input PitchShift retains and
	// the output a single call produces.
	maxPendingSeconds = 2
)

// PitchShift resamples audio at a rate given by a pitch function, so that
// a pitch of 2 plays twice as fast and an octave higher.
//
// Input that has not been fully consumed is carried over to the next call
// together with the fractional read cursor, so chunk boundaries do not
// produce clicks. The output timeline is continuous across calls and is
// what the pitch function is evaluated against.
//
// One call emits at most two seconds of output. Input that arrives faster
// than that is queued, and the oldest of it is dropped once the queue holds
// more than two seconds. The last input sample is held back until its
// right-hand neighbour arrives or Flush is called.
type PitchShift struct {
	fn       pitch.Func
	minPitch float32
	maxPitch float32

	pending    []int16
	cursor     float64 // fractional read position into pending
	outTime    float64
	started    bool
	lastFactor atomic.Uint64 // float64 bits of the last applied pitch
}

// NewPitchShift returns a pitch shifter driven by fn and bounded to
// [minPitch, maxPitch]. Both bounds are clamped into [pitch.Min, pitch.Max].
func NewPitchShift(fn pitch.Func, minPitch, maxPitch float32) *PitchShift {
	minPitch, maxPitch = clampBound(minPitch), clampBound(maxPitch)
	if minPitch > maxPitch {
		minPitch, maxPitch = maxPitch, minPitch
	}
	ps := &PitchShift{
		fn:       pitch.Bounded(fn, minPitch, maxPitch),
		minPitch: minPitch,
		maxPitch: maxPitch,
	}
	ps.lastFactor.Store(math.Float64bits(1))
	return ps
}

func clampBound(p float32) float32 {
	if math.IsNaN(float64(p)) {
		return 1
	}
	return float32(math.Max(pitch.Min, math.Min(pitch.Max, float64(p))))
}

// NewConstantPitchShift is a pitch shifter with a fixed factor.
func NewConstantPitchShift(p float32) *PitchShift {
	return NewPitchShift(pitch.Constant(p), DefaultMinPitch, DefaultMaxPitch)
}

func (ps *PitchShift) Process(samples []int16, t float64, sampleRate int) []int16 {
	if sampleRate <= 0 {
		return samples
	}
	if !ps.started {
		ps.started = true
		ps.outTime = t
	}

	ps.pending = append(ps.pending, samples...)
	if len(ps.pending) < 2 {
		return nil
	}

	dt := 1 / float64(sampleRate)
	limit := maxPendingSeconds * sampleRate
	out := make([]int16, 0, min(int(float64(len(ps.pending))/float64(ps.minPitch))+1, limit))
	factor := 1.0
	for len(out) < limit {
		idx := int(ps.cursor)
		if idx+1 >= len(ps.pending) {
			break
		}
		factor = float64(ps.fn(ps.outTime))

		frac := ps.cursor - float64(idx)
		s0 := float64(ps.pending[idx])
		s1 := float64(ps.pending[idx+1])
		out = append(out, pcm.Clamp(s0+frac*(s1-s0)))

		ps.cursor += factor
		ps.outTime += dt
	}
	ps.lastFactor.Store(math.Float64bits(factor))

	// Retire consumed input, keeping the sample under the cursor.
	consumed := min(int(ps.cursor), len(ps.pending))
	ps.pending = append(ps.pending[:0], ps.pending[consumed:]...)
	ps.cursor -= float64(consumed)

	// Lossy backpressure: bound latency by dropping the oldest input.
	if len(ps.pending) > limit {
		drop := len(ps.pending) - limit
		ps.pending = append(ps.pending[:0], ps.pending[drop:]...)
		ps.cursor = math.Max(0, ps.cursor-float64(drop))
	}

	return out
}

// Flush emits the input still held back at the end of a stream. The last
// sample is held for the final interpolation interval.
func (ps *PitchShift) Flush(sampleRate int) []int16 {
	if len(ps.pending) == 0 || sampleRate <= 0 {
		return nil
	}
	dt := 1 / float64(sampleRate)
	last := len(ps.pending) - 1
	var out []int16
	for int(ps.cursor) <= last {
		idx := int(ps.cursor)
		s := float64(ps.pending[last])
		if idx < last {
			frac := ps.cursor - float64(idx)
			s0 := float64(ps.pending[idx])
			s = s0 + frac*(float64(ps.pending[idx+1])-s0)
		}
		out = append(out, pcm.Clamp(s))

		ps.cursor += float64(ps.fn(ps.outTime))
		ps.outTime += dt
	}
	ps.pending = ps.pending[:0]
	ps.cursor = 0
	return out
}

// SpeedMultiplier reports the pitch applied to the most recent sample.
func (ps *PitchShift) SpeedMultiplier() float64 {
	return math.Float64frombits(ps.lastFactor.Load())
}

func (ps *PitchShift) Reset() {
	ps.pending = ps.pending[:0]
	ps.cursor = 0
	ps.outTime = 0
	ps.started = false
	ps.lastFactor.Store(math.Float64bits(1))
}

func (ps *PitchShift) Name() string {
	return fmt.Sprintf("PitchShift(%.2f-%.2f)", ps.minPitch, ps.maxPitch)
}

// Resample stretches a whole buffer by a constant factor using linear
// interpolation. The output has round(len/factor) samples and a factor of 1
// returns the input unchanged.
func Resample(samples []int16, factor float64) []int16 {
	if factor == 1 || len(samples) == 0 {
		return samples
	}
	factor = math.Max(pitch.Min, math.Min(pitch.Max, factor))

	out := make([]int16, int(math.Round(float64(len(samples))/factor)))
	for i := range out {
		pos := float64(i) * factor
		idx := int(pos)
		switch {
		case idx+1 < len(samples):
			frac := pos - float64(idx)
			s0 := float64(samples[idx])
			s1 := float64(samples[idx+1])
			out[i] = pcm.Clamp(s0 + frac*(s1-s0))
		case idx < len(samples):
			out[i] = samples[idx]
		default:
			out[i] = samples[len(samples)-1]
		}
	}
	return out
}

// ResampleRate converts samples recorded at fromRate to toRate.
func ResampleRate(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return samples
	}
	return Resample(samples, float64(fromRate)/float64(toRate))
}
