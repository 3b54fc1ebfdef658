package effect

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/blacktop/harmonics/internal/pcm"
)

const minCutoff = 20.0

// alpha is the single-pole smoothing coefficient dt/(RC+dt) for cutoff fc,
// with fc clamped to [20 Hz, Nyquist].
func alpha(fc float64, sampleRate int) float64 {
	nyquist := float64(sampleRate) / 2
	fc = math.Max(minCutoff, math.Min(nyquist, fc))
	rc := 1 / (2 * math.Pi * fc)
	dt := 1 / float64(sampleRate)
	return dt / (rc + dt)
}

// LowPass is a single-pole IIR low-pass filter used for muffling.
// The cutoff may be changed from another goroutine while audio is running.
type LowPass struct {
	cutoff atomic.Uint64 // float64 bits, Hz
	y      float64
}

// NewLowPass returns a low-pass filter at cutoff Hz.
func NewLowPass(cutoff float64) *LowPass {
	lp := &LowPass{}
	lp.SetCutoff(cutoff)
	return lp
}

// SetCutoff updates the cutoff frequency in Hz.
func (lp *LowPass) SetCutoff(hz float64) {
	lp.cutoff.Store(math.Float64bits(hz))
}

// Cutoff returns the configured cutoff frequency in Hz.
func (lp *LowPass) Cutoff() float64 {
	return math.Float64frombits(lp.cutoff.Load())
}

func (lp *LowPass) Process(samples []int16, t float64, sampleRate int) []int16 {
	if sampleRate <= 0 || len(samples) == 0 {
		return samples
	}
	a := alpha(lp.Cutoff(), sampleRate)
	out := make([]int16, len(samples))
	for i, s := range samples {
		lp.y += a * (float64(s) - lp.y)
		out[i] = pcm.Clamp(lp.y)
	}
	return out
}

func (lp *LowPass) Reset() {
	lp.y = 0
}

func (lp *LowPass) Name() string {
	return fmt.Sprintf("LowPass(%.0fHz)", lp.Cutoff())
}

// HighPass removes low frequencies by subtracting a single-pole low-pass
// from the input, with optional resonance feedback.
type HighPass struct {
	cutoff    float64
	resonance float64

	lowState float64
	prevHigh float64
}

// NewHighPass returns a high-pass filter at cutoff Hz. Resonance is clamped
// to [0, 1].
func NewHighPass(cutoff, resonance float64) *HighPass {
	return &HighPass{
		cutoff:    cutoff,
		resonance: math.Max(0, math.Min(1, resonance)),
	}
}

func (hp *HighPass) Process(samples []int16, t float64, sampleRate int) []int16 {
	if sampleRate <= 0 || len(samples) == 0 {
		return samples
	}
	a := alpha(hp.cutoff, sampleRate)
	out := make([]int16, len(samples))
	for i, s := range samples {
		x := float64(s)
		hp.lowState += a * (x - hp.lowState)
		high := x - hp.lowState
		resonant := high + hp.resonance*(high-hp.prevHigh)
		hp.prevHigh = high
		out[i] = pcm.Clamp(resonant)
	}
	return out
}

func (hp *HighPass) Reset() {
	hp.lowState = 0
	hp.prevHigh = 0
}

func (hp *HighPass) Name() string {
	return fmt.Sprintf("HighPass(%.0fHz)", hp.cutoff)
}
