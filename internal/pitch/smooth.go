package pitch

import (
	"math"
	"sync"
	"time"
)

// realTimeEpsilon ignores float jitter in live sources.
const realTimeEpsilon = 0.001

// ramp is the transition state shared by both smoothing adapters.
type ramp struct {
	mu         sync.Mutex
	transition float64
	started    bool
	current    float32
	target     float32
	startTime  float64
	startValue float32
}

// step advances the ramp to time now for a source reading of target.
// changed reports whether target differs enough to start a new ramp.
func (r *ramp) step(now float64, target float32, changed func(a, b float32) bool) float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		r.started = true
		r.current = target
		r.target = target
		r.startValue = target
		r.startTime = now
		return r.current
	}

	if changed(target, r.target) {
		r.startValue = r.current
		r.target = target
		r.startTime = now
	}

	progress := 1.0
	if r.transition > 0 {
		progress = clamp((now-r.startTime)/r.transition, 0, 1)
	}
	r.current = r.startValue + (r.target-r.startValue)*float32(progress)
	return r.current
}

// Smoothed wraps src so that every change in its value is reached through a
// linear ramp lasting transition seconds of stream time. The first call
// takes the source value as is. A non-positive transition switches
// instantly.
func Smoothed(src Func, transition float64) Func {
	r := &ramp{transition: transition}
	exact := func(a, b float32) bool { return a != b }
	return func(t float64) float32 {
		return r.step(t, src.At(t), exact)
	}
}

// SmoothedRealTime is like Smoothed but measures the ramp with the wall
// clock, for sources that read live state and ignore the stream position.
// The source is always queried at 0.
func SmoothedRealTime(src Func, transition float64) Func {
	return SmoothedRealTimeClock(src, transition, time.Now)
}

// SmoothedRealTimeClock is SmoothedRealTime with an injectable clock.
func SmoothedRealTimeClock(src Func, transition float64, now func() time.Time) Func {
	r := &ramp{transition: transition}
	approx := func(a, b float32) bool {
		return math.Abs(float64(a-b)) > realTimeEpsilon
	}
	return func(float64) float32 {
		ms := now().UnixMilli()
		return r.step(float64(ms)/1000, src.At(0), approx)
	}
}
