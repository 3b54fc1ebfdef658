package effect

import (
	"fmt"
	"math"
)

// BitCrush lowers bit depth and holds samples to imitate a cheap speaker.
// Quality 1 is transparent; 0 is about 4 bits at 1/16 the sample rate.
type BitCrush struct {
	quality float64
	hold    int16
	counter int
}

func NewBitCrush(quality float64) *BitCrush {
	return &BitCrush{quality: clamp01(quality)}
}

func (b *BitCrush) Process(samples []int16, t float64, sampleRate int) []int16 {
	if b.quality >= 1 || len(samples) == 0 {
		return samples
	}

	bits := max(1, min(16, int(4+12*b.quality)))
	levels := (1 << bits) - 1
	downsample := max(1, min(16, int(math.Round(1+15*(1-b.quality)))))

	out := make([]int16, len(samples))
	for i, s := range samples {
		if b.counter%downsample == 0 {
			normalized := ((int(s) + 32768) * levels) / 65535
			quantized := (normalized*65535)/levels - 32768
			b.hold = int16(max(-32768, min(32767, quantized)))
		}
		out[i] = b.hold
		b.counter++
	}
	return out
}

func (b *BitCrush) Reset() {
	b.hold = 0
	b.counter = 0
}

func (b *BitCrush) Name() string {
	return fmt.Sprintf("BitCrush(quality=%.2f)", b.quality)
}
