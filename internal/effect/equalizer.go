package effect

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"

	"github.com/blacktop/harmonics/internal/pcm"
)

const (
	minBandQ    = 0.1
	maxBandQ    = 10.0
	maxBandGain = 24.0
	// Each 30 dB of summed boost halves the output level.
	compensationDB = 30.0
)

// Band is one peaking section of an Equalizer.
type Band struct {
	Frequency float64 `yaml:"frequency"`
	Q         float64 `yaml:"q"`
	Gain      float64 `yaml:"gain"` // dB
}

func (b Band) clamped(nyquist float64) Band {
	b.Q = clampFinite(b.Q, minBandQ, maxBandQ, 1)
	b.Gain = clampFinite(b.Gain, -maxBandGain, maxBandGain, 0)
	b.Frequency = clampFinite(b.Frequency, minCutoff, nyquist-1, minCutoff)
	return b
}

func clampFinite(v, lo, hi, def float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return def
	}
	return math.Max(lo, math.Min(hi, v))
}

// DefaultBands is a flat three-band layout.
func DefaultBands() []Band {
	return []Band{
		{Frequency: 200, Q: 1, Gain: 0},
		{Frequency: 1000, Q: 1, Gain: 0},
		{Frequency: 6000, Q: 1, Gain: 0},
	}
}

type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
	x1, x2     float64
	y1, y2     float64
}

func newBiquad(b0, b1, b2, a0, a1, a2 float64) *biquad {
	if a0 == 0 || math.IsNaN(a0) || math.IsInf(a0, 0) {
		return nil
	}
	inv := 1 / a0
	return &biquad{
		b0: b0 * inv,
		b1: b1 * inv,
		b2: b2 * inv,
		a1: a1 * inv,
		a2: a2 * inv,
	}
}

// newPeaking is the RBJ cookbook peaking EQ.
func newPeaking(fs float64, b Band) *biquad {
	a := math.Pow(10, b.Gain/40)
	w0 := 2 * math.Pi * b.Frequency / fs
	cos := math.Cos(w0)
	bw := math.Sin(w0) / (2 * b.Q)
	return newBiquad(
		1+bw*a, -2*cos, 1-bw*a,
		1+bw/a, -2*cos, 1-bw/a,
	)
}

func (f *biquad) step(x float64) float64 {
	y := f.b0*x + f.b1*f.x1 + f.b2*f.x2 - f.a1*f.y1 - f.a2*f.y2
	f.x2, f.x1 = f.x1, x
	f.y2, f.y1 = f.y1, y
	return y
}

// Equalizer runs a series of peaking biquads and scales the result down by
// the total positive gain so boosts do not clip as readily. Bands may be
// replaced from another goroutine while audio is running; filter state is
// reset when they change.
type Equalizer struct {
	bands atomic.Pointer[[]Band]

	built   *[]Band
	rate    int
	filters []*biquad
	gain    float64
}

// NewEqualizer returns an equalizer over bands, or DefaultBands when none
// are given.
func NewEqualizer(bands ...Band) *Equalizer {
	eq := &Equalizer{}
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	eq.SetBands(bands)
	return eq
}

// SetBands replaces every band.
func (eq *Equalizer) SetBands(bands []Band) {
	cp := append([]Band(nil), bands...)
	eq.bands.Store(&cp)
}

// UpdateBand replaces band i. Out of range indexes are ignored.
func (eq *Equalizer) UpdateBand(i int, b Band) {
	cur := eq.Bands()
	if i < 0 || i >= len(cur) {
		return
	}
	cur[i] = b
	eq.bands.Store(&cur)
}

// Bands returns a copy of the current bands.
func (eq *Equalizer) Bands() []Band {
	return append([]Band(nil), *eq.bands.Load()...)
}

// Compensation is the output scale applied after the bands.
func Compensation(bands []Band) float64 {
	var boost float64
	for _, b := range bands {
		if b.Gain > 0 {
			boost += math.Min(b.Gain, maxBandGain)
		}
	}
	return 1 / (1 + boost/compensationDB)
}

func (eq *Equalizer) rebuild(bands *[]Band, sampleRate int) {
	nyquist := float64(sampleRate) / 2
	eq.filters = eq.filters[:0]
	clamped := make([]Band, 0, len(*bands))
	for _, b := range *bands {
		b = b.clamped(nyquist)
		clamped = append(clamped, b)
		if f := newPeaking(float64(sampleRate), b); f != nil {
			eq.filters = append(eq.filters, f)
		}
	}
	eq.gain = Compensation(clamped)
	eq.built = bands
	eq.rate = sampleRate
}

func (eq *Equalizer) Process(samples []int16, t float64, sampleRate int) []int16 {
	if sampleRate <= 0 || len(samples) == 0 {
		return samples
	}
	if bands := eq.bands.Load(); bands != eq.built || sampleRate != eq.rate {
		eq.rebuild(bands, sampleRate)
	}
	out := make([]int16, len(samples))
	for i, s := range samples {
		x := float64(s)
		for _, f := range eq.filters {
			x = f.step(x)
		}
		out[i] = pcm.Clamp(x * eq.gain)
	}
	return out
}

func (eq *Equalizer) Reset() {
	for _, f := range eq.filters {
		f.x1, f.x2, f.y1, f.y2 = 0, 0, 0, 0
	}
}

func (eq *Equalizer) Name() string {
	bands := *eq.bands.Load()
	parts := make([]string, len(bands))
	for i, b := range bands {
		parts[i] = fmt.Sprintf("%gHz:%gdB", b.Frequency, b.Gain)
	}
	return "EQ(" + strings.Join(parts, ", ") + ")"
}
