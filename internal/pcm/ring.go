package pcm

import (
	"sync"
	"time"
)

// writeRecheck bounds each blocking wait inside Write so a producer stuck on
// a full buffer still observes MarkComplete.
const writeRecheck = 100 * time.Millisecond

// RingBuffer is a fixed-capacity circular buffer of 16-bit PCM samples shared
// by exactly one producer and one consumer.
//
// The producer blocks in Write while the buffer is full; the consumer never
// blocks in Read and uses WaitForSamples when it wants to wait for data.
// MarkComplete moves the buffer into its draining state: writes are refused,
// remaining samples stay readable and every waiter is released.
type RingBuffer struct {
	mu        sync.Mutex
	data      []int16
	writePos  int
	readPos   int
	available int
	complete  bool

	// notEmpty and notFull are closed and replaced to broadcast a state
	// change to goroutines waiting with a deadline.
	notEmpty chan struct{}
	notFull  chan struct{}
}

// NewRingBuffer creates a ring buffer holding up to capacity samples.
// A non-positive capacity is raised to one sample.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{
		data:     make([]int16, capacity),
		notEmpty: make(chan struct{}),
		notFull:  make(chan struct{}),
	}
}

// Write copies as many samples as fit into the buffer and returns the count
// written. While the buffer is full it waits in bounded slices, re-checking
// the complete flag each time. Once the buffer is complete Write returns 0.
func (rb *RingBuffer) Write(samples []int16) int {
	if len(samples) == 0 {
		return 0
	}

	rb.mu.Lock()
	for rb.available == len(rb.data) && !rb.complete {
		ch := rb.notFull
		rb.mu.Unlock()
		wait(ch, writeRecheck)
		rb.mu.Lock()
	}
	defer rb.mu.Unlock()

	if rb.complete {
		return 0
	}

	n := min(len(samples), len(rb.data)-rb.available)
	first := min(n, len(rb.data)-rb.writePos)
	copy(rb.data[rb.writePos:], samples[:first])
	copy(rb.data, samples[first:n])
	rb.writePos = (rb.writePos + n) % len(rb.data)
	rb.available += n

	rb.signalLocked(&rb.notEmpty)
	return n
}

// Read copies up to len(dst) buffered samples into dst and returns the count.
// It never blocks; an empty buffer yields 0.
func (rb *RingBuffer) Read(dst []int16) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := min(len(dst), rb.available)
	if n == 0 {
		return 0
	}
	first := min(n, len(rb.data)-rb.readPos)
	copy(dst[:first], rb.data[rb.readPos:])
	copy(dst[first:n], rb.data)
	rb.readPos = (rb.readPos + n) % len(rb.data)
	rb.available -= n

	rb.signalLocked(&rb.notFull)
	return n
}

// WaitForSamples waits until at least minSamples are buffered or the buffer
// is complete. It returns false when the timeout elapses first.
func (rb *RingBuffer) WaitForSamples(minSamples int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	for rb.available < minSamples && !rb.complete {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		ch := rb.notEmpty
		rb.mu.Unlock()
		wait(ch, remaining)
		rb.mu.Lock()
	}
	return true
}

// MarkComplete flags the end of production and wakes every waiter.
// Calling it more than once has no further effect.
func (rb *RingBuffer) MarkComplete() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.complete {
		return
	}
	rb.complete = true
	rb.signalLocked(&rb.notEmpty)
	rb.signalLocked(&rb.notFull)
}

// IsComplete reports whether MarkComplete has been called since the last Clear.
func (rb *RingBuffer) IsComplete() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.complete
}

// Exhausted reports whether the buffer is complete and fully drained.
func (rb *RingBuffer) Exhausted() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.complete && rb.available == 0
}

// Available returns the number of buffered samples.
func (rb *RingBuffer) Available() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.available
}

// Capacity returns the maximum number of samples the buffer holds.
func (rb *RingBuffer) Capacity() int {
	return len(rb.data)
}

// Clear drops all buffered samples and returns the buffer to its active state.
func (rb *RingBuffer) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.writePos = 0
	rb.readPos = 0
	rb.available = 0
	rb.complete = false
	rb.signalLocked(&rb.notFull)
}

// signalLocked wakes every goroutine waiting on *ch (must hold lock).
func (rb *RingBuffer) signalLocked(ch *chan struct{}) {
	close(*ch)
	*ch = make(chan struct{})
}

func wait(ch <-chan struct{}, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
	case <-t.C:
	}
}
