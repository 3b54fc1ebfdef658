package effect

import (
	"fmt"
	"math"

	"github.com/blacktop/harmonics/internal/pcm"
)

const reverbLineSize = 3000

var reverbDelays = [...]int{1557, 1617, 1491, 1422, 1277, 1356, 1188, 1116}

// Reverb is a bank of eight parallel feedback delay lines, each damped by a
// one-pole low-pass in its feedback path.
type Reverb struct {
	roomSize float64
	damping  float64
	wet      float64

	lines   [len(reverbDelays)][reverbLineSize]float64
	lengths [len(reverbDelays)]int
	pos     [len(reverbDelays)]int
	filters [len(reverbDelays)]float64
}

// NewReverb returns a reverb. roomSize, damping and wet are clamped to [0, 1].
func NewReverb(roomSize, damping, wet float64) *Reverb {
	r := &Reverb{
		roomSize: clamp01(roomSize),
		damping:  clamp01(damping),
		wet:      clamp01(wet),
	}
	for i, d := range reverbDelays {
		n := int(math.Round(float64(d) * r.roomSize))
		r.lengths[i] = max(1, min(n, reverbLineSize))
	}
	return r
}

func (r *Reverb) Process(samples []int16, t float64, sampleRate int) []int16 {
	if r.wet <= 0 || len(samples) == 0 {
		return samples
	}

	feedback := 0.7 * r.roomSize
	dry := 1 - r.wet
	out := make([]int16, len(samples))
	for i, s := range samples {
		x := float64(s)
		var sum float64
		for j := range r.lines {
			p := r.pos[j]
			delayed := r.lines[j][p]
			r.filters[j] = delayed*(1-r.damping) + r.filters[j]*r.damping
			r.lines[j][p] = x + r.filters[j]*feedback
			r.pos[j] = (p + 1) % r.lengths[j]
			sum += delayed
		}
		out[i] = pcm.Clamp(x*dry + sum/float64(len(r.lines))*r.wet)
	}
	return out
}

// Reset silences every delay line and filter.
func (r *Reverb) Reset() {
	r.lines = [len(reverbDelays)][reverbLineSize]float64{}
	r.pos = [len(reverbDelays)]int{}
	r.filters = [len(reverbDelays)]float64{}
}

func (r *Reverb) Name() string {
	return fmt.Sprintf("Reverb(room=%.2f, damp=%.2f, wet=%.2f)", r.roomSize, r.damping, r.wet)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
