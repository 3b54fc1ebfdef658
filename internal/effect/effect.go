// Package effect implements the sample-level DSP stages applied to decoded
// audio: pitch/rate shifting, gain, filters, reverb and bit reduction.
//
// Effects consume and produce 16-bit mono PCM and keep their own state
// between calls, so a single instance must only be driven by one goroutine.
// Every stage rounds to nearest and clamps to the int16 range.
package effect

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// Effect is one stage of a processing chain.
type Effect interface {
	// Process transforms samples starting at stream position t seconds.
	// The returned slice may alias the input and may differ in length.
	Process(samples []int16, t float64, sampleRate int) []int16
	// Reset discards any state carried between calls.
	Reset()
	Name() string
}

// SpeedReporter is implemented by effects that change playback rate.
type SpeedReporter interface {
	SpeedMultiplier() float64
}

// Flusher is implemented by effects that hold samples back between calls.
// Flush returns them once the input has ended.
type Flusher interface {
	Flush(sampleRate int) []int16
}

// Chain applies effects in order. Mutations swap in a new list so that
// Process always runs over a consistent snapshot.
type Chain struct {
	mu      sync.Mutex // serializes writers
	effects atomic.Pointer[[]Effect]
}

// NewChain returns a chain holding effects in order.
func NewChain(effects ...Effect) *Chain {
	c := &Chain{}
	c.store(slices.Clone(effects))
	return c
}

func (c *Chain) load() []Effect {
	if p := c.effects.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *Chain) store(effects []Effect) {
	c.effects.Store(&effects)
}

func (c *Chain) update(fn func([]Effect) []Effect) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(fn(slices.Clone(c.load())))
}

// Process runs samples through every effect.
func (c *Chain) Process(samples []int16, t float64, sampleRate int) []int16 {
	for _, e := range c.load() {
		samples = e.Process(samples, t, sampleRate)
	}
	return samples
}

// Flush drains every Flusher in order, running what each releases through
// the effects after it.
func (c *Chain) Flush(t float64, sampleRate int) []int16 {
	var out []int16
	for _, e := range c.load() {
		if len(out) > 0 {
			out = e.Process(out, t, sampleRate)
		}
		if f, ok := e.(Flusher); ok {
			out = append(out, f.Flush(sampleRate)...)
		}
	}
	return out
}

// Reset resets every effect in the chain.
func (c *Chain) Reset() {
	for _, e := range c.load() {
		e.Reset()
	}
}

func (c *Chain) Name() string {
	effects := c.load()
	names := make([]string, len(effects))
	for i, e := range effects {
		names[i] = e.Name()
	}
	return fmt.Sprintf("Chain[%s]", strings.Join(names, ", "))
}

// SpeedMultiplier returns the rate of the first effect that changes speed,
// or 1 when none does.
func (c *Chain) SpeedMultiplier() float64 {
	for _, e := range c.load() {
		if sr, ok := e.(SpeedReporter); ok {
			if m := sr.SpeedMultiplier(); m != 1 {
				return m
			}
		}
	}
	return 1
}

// Add appends an effect.
func (c *Chain) Add(e Effect) {
	c.update(func(l []Effect) []Effect { return append(l, e) })
}

// AddFirst prepends an effect.
func (c *Chain) AddFirst(e Effect) {
	c.update(func(l []Effect) []Effect { return slices.Insert(l, 0, e) })
}

// InsertAt inserts e before position i. Negative indices count from the end
// (-1 appends) and out of range indices wrap.
func (c *Chain) InsertAt(i int, e Effect) {
	c.update(func(l []Effect) []Effect {
		return slices.Insert(l, insertIndex(i, len(l)), e)
	})
}

// Remove drops every occurrence of e.
func (c *Chain) Remove(e Effect) {
	c.update(func(l []Effect) []Effect {
		return slices.DeleteFunc(l, func(x Effect) bool { return x == e })
	})
}

// RemoveAt drops the effect at i, with the same index rules as At.
func (c *Chain) RemoveAt(i int) {
	c.update(func(l []Effect) []Effect {
		if len(l) == 0 {
			return l
		}
		idx := accessIndex(i, len(l))
		return slices.Delete(l, idx, idx+1)
	})
}

// Move relocates the effect at from to position to.
func (c *Chain) Move(from, to int) {
	c.update(func(l []Effect) []Effect {
		if len(l) == 0 {
			return l
		}
		idx := accessIndex(from, len(l))
		e := l[idx]
		l = slices.Delete(l, idx, idx+1)
		return slices.Insert(l, insertIndex(to, len(l)), e)
	})
}

// Replace swaps the effect at i for e.
func (c *Chain) Replace(i int, e Effect) {
	c.update(func(l []Effect) []Effect {
		if len(l) == 0 {
			return l
		}
		l[accessIndex(i, len(l))] = e
		return l
	})
}

// Set replaces the whole chain.
func (c *Chain) Set(effects ...Effect) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(slices.Clone(effects))
}

// Clear removes every effect.
func (c *Chain) Clear() {
	c.Set()
}

// At returns the effect at i. Negative indices count from the end and out of
// range indices wrap. It returns nil on an empty chain.
func (c *Chain) At(i int) Effect {
	l := c.load()
	if len(l) == 0 {
		return nil
	}
	return l[accessIndex(i, len(l))]
}

// IndexOf returns the position of e or -1.
func (c *Chain) IndexOf(e Effect) int {
	return slices.Index(c.load(), e)
}

// Effects returns a copy of the current list.
func (c *Chain) Effects() []Effect {
	return slices.Clone(c.load())
}

func (c *Chain) Len() int {
	return len(c.load())
}

func (c *Chain) IsEmpty() bool {
	return c.Len() == 0
}

// accessIndex maps i onto [0, n).
func accessIndex(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// insertIndex maps i onto [0, n] where -1 means n.
func insertIndex(i, n int) int {
	return accessIndex(i, n+1)
}
