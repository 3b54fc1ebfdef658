package player

import (
	"strings"

	"github.com/blacktop/harmonics/internal/config"
	"github.com/blacktop/harmonics/internal/effect"
	"github.com/blacktop/harmonics/internal/pitch"
)

// PitchFunc turns the configured pitch program into a Func smoothed over
// the configured transition. It returns nil for a plain "1" so callers can
// leave the pitch stage out entirely.
func PitchFunc(cfg *config.Config) (pitch.Func, error) {
	if s := strings.TrimSpace(cfg.Audio.Pitch); s == "" || s == "1" {
		return nil, nil
	}
	fn, err := pitch.Parse(cfg.Audio.Pitch)
	if err != nil {
		return nil, err
	}
	if cfg.Audio.Transition > 0 {
		fn = pitch.Smoothed(fn, cfg.Audio.Transition)
	}
	return fn, nil
}

// BuildChain assembles the configured effects in a fixed order: pitch,
// high-pass, low-pass, equalizer, bit-crush, reverb, volume. Disabled stages are left
// out so an all-default config yields an empty, pass-through chain.
func BuildChain(cfg *config.Config, fn pitch.Func) *effect.Chain {
	c := effect.NewChain()
	if fn != nil {
		c.Add(effect.NewPitchShift(fn, float32(cfg.Audio.MinPitch), float32(cfg.Audio.MaxPitch)))
	}

	e := cfg.Effects
	if e.HighPassCutoff > 0 {
		c.Add(effect.NewHighPass(e.HighPassCutoff, e.HighPassResonance))
	}
	if e.LowPassCutoff > 0 {
		c.Add(effect.NewLowPass(e.LowPassCutoff))
	}
	if hasGain(e.Bands) {
		c.Add(effect.NewEqualizer(e.Bands...))
	}
	if e.BitCrush > 0 && e.BitCrush < 1 {
		c.Add(effect.NewBitCrush(e.BitCrush))
	}
	if e.ReverbWet > 0 {
		c.Add(effect.NewReverb(e.ReverbRoom, e.ReverbDamping, e.ReverbWet))
	}
	if e.Volume != 1 {
		c.Add(effect.NewVolume(e.Volume))
	}
	return c
}

func hasGain(bands []effect.Band) bool {
	for _, b := range bands {
		if b.Gain != 0 {
			return true
		}
	}
	return false
}
