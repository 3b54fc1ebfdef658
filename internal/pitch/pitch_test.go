package pitch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		fn   Func
		at   float64
		want float32
	}{
		{"constant", Constant(1.5), 42, 1.5},
		{"linear start", Linear(1, 2, 10), 0, 1},
		{"linear middle", Linear(1, 2, 10), 5, 1.5},
		{"linear clamps before", Linear(1, 2, 10), -3, 1},
		{"linear clamps after", Linear(1, 2, 10), 20, 2},
		{"linear zero duration", Linear(1, 2, 0), 0, 2},
		{"oscillate zero", Oscillate(1, 0.1, 1), 0, 1},
		{"oscillate peak", Oscillate(1, 0.1, 1), 0.25, 1.1},
		{"steps first", Steps([]float32{1, 1.5, 2}, 2), 0.5, 1},
		{"steps second", Steps([]float32{1, 1.5, 2}, 2), 2, 1.5},
		{"steps clamps high", Steps([]float32{1, 1.5, 2}, 2), 100, 2},
		{"steps clamps negative", Steps([]float32{1, 1.5, 2}, 2), -1, 1},
		{"steps empty", Steps(nil, 1), 3, 1},
		{"custom", Custom(func(t float64) float32 { return float32(t) * 2 }), 0.5, 1},
		{"nil func", nil, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.fn.At(tt.at), 1e-5)
		})
	}
}

func TestBounded(t *testing.T) {
	f := Bounded(Linear(0, 20, 20), 0.5, 2)
	assert.InDelta(t, 0.5, f.At(0), 1e-6)
	assert.InDelta(t, 1.0, f.At(1), 1e-6)
	assert.InDelta(t, 2.0, f.At(19), 1e-6)

	wide := Bounded(Constant(50), 0, 100)
	assert.InDelta(t, Max, wide.At(0), 1e-6)
	assert.InDelta(t, Min, Bounded(Constant(0), 0, 100).At(0), 1e-6)
}

func TestSmoothedContinuity(t *testing.T) {
	src := Custom(func(t float64) float32 {
		if t < 1 {
			return 1
		}
		return 2
	})
	f := Smoothed(src, 0.5)

	assert.InDelta(t, 1.0, f.At(0), 1e-6)
	assert.InDelta(t, 1.0, f.At(0.5), 1e-6)
	assert.InDelta(t, 1.0, f.At(1.0), 1e-6)
	assert.InDelta(t, 1.5, f.At(1.25), 1e-6)
	assert.Equal(t, float32(2), f.At(1.5))
	assert.Equal(t, float32(2), f.At(3))
}

func TestSmoothedMonotonic(t *testing.T) {
	src := Custom(func(t float64) float32 {
		if t < 1 {
			return 1
		}
		return 2
	})
	f := Smoothed(src, 0.5)
	f.At(0)

	prev := f.At(1)
	for i := 1; i <= 100; i++ {
		cur := f.At(1 + float64(i)*0.01)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
	assert.Equal(t, float32(2), prev)
}

func TestSmoothedRetargetsFromCurrentValue(t *testing.T) {
	target := float32(1)
	f := Smoothed(Custom(func(float64) float32 { return target }), 1)

	f.At(0)
	target = 3
	f.At(0)                               // ramp 1 -> 3 starts at t=0
	assert.InDelta(t, 2, f.At(0.5), 1e-6) // halfway

	target = 0
	f.At(0.5)                             // new ramp starts from 2
	assert.InDelta(t, 1, f.At(1.0), 1e-6) // halfway from 2 to 0
}

func TestSmoothedZeroTransitionIsInstant(t *testing.T) {
	target := float32(1)
	f := Smoothed(Custom(func(float64) float32 { return target }), 0)
	f.At(0)
	target = 2
	assert.Equal(t, float32(2), f.At(0.001))
}

func TestSmoothedRealTime(t *testing.T) {
	var mu sync.Mutex
	now := time.UnixMilli(1_000_000)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	var queried []float64
	live := NewLive(1)
	src := Custom(func(t float64) float32 {
		queried = append(queried, t)
		return live.Get()
	})
	f := SmoothedRealTimeClock(src, 0.2, clock)

	assert.InDelta(t, 1, f.At(123), 1e-6)

	live.Set(1.0005) // below epsilon
	assert.InDelta(t, 1, f.At(5), 1e-6)

	live.Set(2)
	assert.InDelta(t, 1, f.At(7), 1e-6)
	advance(100 * time.Millisecond)
	assert.InDelta(t, 1.5, f.At(0), 1e-6)
	advance(100 * time.Millisecond)
	assert.InDelta(t, 2, f.At(99), 1e-6)

	for _, q := range queried {
		assert.Zero(t, q, "source must be queried at 0")
	}
}

func TestLive(t *testing.T) {
	l := NewLive(1.25)
	assert.Equal(t, float32(1.25), l.Get())

	f := l.Func()
	l.Set(0.75)
	assert.Equal(t, float32(0.75), f.At(100))

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 1000 {
				l.Set(float32(i*j) / 1000)
				_ = l.Get()
			}
		}()
	}
	wg.Wait()
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		at      float64
		want    float32
		wantErr bool
	}{
		{in: "", at: 0, want: 1},
		{in: "1.5", at: 3, want: 1.5},
		{in: "constant:0.8", at: 3, want: 0.8},
		{in: "linear:1,2,10", at: 5, want: 1.5},
		{in: "oscillate:1,0.1,1", at: 0.25, want: 1.1},
		{in: "steps:2:1,1.5,2", at: 2.5, want: 1.5},
		{in: "linear:1,2", wantErr: true},
		{in: "steps:1,2", wantErr: true},
		{in: "wobble:1", wantErr: true},
		{in: "fast", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f, err := Parse(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, f.At(tt.at), 1e-5)
		})
	}
}
