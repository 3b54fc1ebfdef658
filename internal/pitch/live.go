package pitch

import (
	"math"
	"sync/atomic"
)

// Live is a pitch value written by a control loop and read lock-free by the
// audio goroutine.
type Live struct {
	bits atomic.Uint32
}

// NewLive returns a Live initialised to p.
func NewLive(p float32) *Live {
	l := &Live{}
	l.Set(p)
	return l
}

// Set publishes a new pitch.
func (l *Live) Set(p float32) {
	l.bits.Store(math.Float32bits(p))
}

// Get returns the most recently published pitch.
func (l *Live) Get() float32 {
	return math.Float32frombits(l.bits.Load())
}

// Func exposes the live value as a Func that ignores its time argument.
func (l *Live) Func() Func {
	return func(float64) float32 { return l.Get() }
}
