package effect

import (
	"fmt"
	"math"

	"github.com/blacktop/harmonics/internal/pcm"
)

const maxVolume = 10.0

// VolumeFunc returns a gain factor at a stream position in seconds.
type VolumeFunc func(seconds float64) float64

// Volume scales samples by a time-varying gain clamped to [0, 10].
type Volume struct {
	fn   VolumeFunc
	name string
}

// NewVolume returns a constant gain stage.
func NewVolume(factor float64) *Volume {
	return &Volume{
		fn:   func(float64) float64 { return factor },
		name: fmt.Sprintf("Volume(%.2f)", factor),
	}
}

// NewVolumeFunc returns a gain stage driven by fn.
func NewVolumeFunc(fn VolumeFunc) *Volume {
	return &Volume{fn: fn, name: "Volume(dynamic)"}
}

// FadeIn ramps the gain from 0 to 1 over duration seconds.
func FadeIn(duration float64) *Volume {
	v := NewVolumeFunc(func(t float64) float64 {
		if duration <= 0 {
			return 1
		}
		return math.Max(0, math.Min(1, t/duration))
	})
	v.name = fmt.Sprintf("FadeIn(%.2fs)", duration)
	return v
}

// FadeOut holds unity gain until start, then ramps to silence over duration
// seconds.
func FadeOut(start, duration float64) *Volume {
	v := NewVolumeFunc(func(t float64) float64 {
		switch {
		case t < start:
			return 1
		case duration <= 0:
			return 0
		}
		return math.Max(0, 1-(t-start)/duration)
	})
	v.name = fmt.Sprintf("FadeOut(%.2fs@%.2fs)", duration, start)
	return v
}

func (v *Volume) factor(t float64) float64 {
	f := v.fn(t)
	if math.IsNaN(f) {
		return 1
	}
	return math.Max(0, math.Min(maxVolume, f))
}

func (v *Volume) Process(samples []int16, t float64, sampleRate int) []int16 {
	if len(samples) == 0 {
		return samples
	}

	if sampleRate <= 0 {
		sampleRate = 1
	}
	dt := 1 / float64(sampleRate)

	// out stays nil while the gain is exactly unity.
	var out []int16
	for i, s := range samples {
		f := v.factor(t + float64(i)*dt)
		if out == nil {
			if f == 1 {
				continue
			}
			out = make([]int16, len(samples))
			copy(out, samples[:i])
		}
		out[i] = pcm.Clamp(float64(s) * f)
	}
	if out == nil {
		return samples
	}
	return out
}

func (v *Volume) Reset() {}

func (v *Volume) Name() string {
	return v.name
}
