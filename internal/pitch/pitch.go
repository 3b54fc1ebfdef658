// Package pitch provides time-varying pitch multipliers and the smoothing
// adapters that keep live pitch changes free of audible steps.
package pitch

import (
	"math"
)

const (
	// Min and Max bound every pitch the resampler will honour.
	Min = 0.1
	Max = 10.0

	// DefaultTransition is the default ramp length, in seconds, between
	// pitch values.
	DefaultTransition = 0.15
)

// Func returns the pitch multiplier at a position in seconds.
// 1.0 leaves audio untouched; larger values play faster and higher.
type Func func(seconds float64) float32

// At evaluates f, treating a nil Func as constant 1.0.
func (f Func) At(seconds float64) float32 {
	if f == nil {
		return 1
	}
	return f(seconds)
}

// Constant always returns p.
func Constant(p float32) Func {
	return func(float64) float32 { return p }
}

// Linear ramps from start to end over duration seconds and holds end after.
func Linear(start, end float32, duration float64) Func {
	return func(t float64) float32 {
		progress := 1.0
		if duration > 0 {
			progress = clamp(t/duration, 0, 1)
		}
		return start + (end-start)*float32(progress)
	}
}

// Oscillate swings around base by ±amplitude at hz cycles per second.
func Oscillate(base, amplitude float32, hz float64) Func {
	return func(t float64) float32 {
		return base + amplitude*float32(math.Sin(2*math.Pi*hz*t))
	}
}

// Steps returns values[i] during the i-th window of stepDuration seconds,
// holding the first value before zero and the last value after the end.
func Steps(values []float32, stepDuration float64) Func {
	vals := append([]float32(nil), values...)
	return func(t float64) float32 {
		if len(vals) == 0 {
			return 1
		}
		idx := 0
		if stepDuration > 0 {
			idx = int(math.Floor(t / stepDuration))
		}
		idx = max(0, min(idx, len(vals)-1))
		return vals[idx]
	}
}

// Custom adapts an arbitrary function.
func Custom(fn func(seconds float64) float32) Func {
	return Func(fn)
}

// Bounded clamps the output of f into [lo, hi] and then into [Min, Max].
func Bounded(f Func, lo, hi float32) Func {
	return func(t float64) float32 {
		p := float64(f.At(t))
		p = clamp(p, float64(lo), float64(hi))
		return float32(clamp(p, Min, Max))
	}
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
