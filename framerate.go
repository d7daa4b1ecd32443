package bucketvision

import (
	"fmt"
	"sync"
	"time"
)

// FrameRate is a moving average over the intervals between recent frames. It
// is safe for concurrent use: typically one loop calls Tick, others read FPS.
type FrameRate struct {
	mu     sync.Mutex
	index  int
	filled int
	sum    time.Duration
	values []time.Duration
	last   time.Time
	count  uint64
}

// NewFrameRate returns a frame rate meter averaging over the last size
// intervals.
func NewFrameRate(size int) (*FrameRate, error) {
	if size <= 0 {
		return nil, fmt.Errorf("size must be > 0")
	}
	return &FrameRate{values: make([]time.Duration, size)}, nil
}

// Tick records a frame at time t and returns the updated rate. Ticks with a
// time before the previous tick are counted, but not averaged.
func (r *FrameRate) Tick(t time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.values == nil {
		r.values = make([]time.Duration, 30)
	}

	r.count++
	last := r.last
	r.last = t
	if last.IsZero() || !t.After(last) {
		return r.fps()
	}

	d := t.Sub(last)
	r.sum -= r.values[r.index]
	r.sum += d
	r.values[r.index] = d
	r.index++
	if r.index >= len(r.values) {
		r.index = 0
	}
	if r.filled < len(r.values) {
		r.filled++
	}
	return r.fps()
}

func (r *FrameRate) fps() float64 {
	if r.filled == 0 || r.sum <= 0 {
		return 0
	}
	return float64(r.filled) / r.sum.Seconds()
}

// FPS returns the average frames per second over the recorded intervals, or 0
// if fewer than two frames were seen.
func (r *FrameRate) FPS() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fps()
}

// Count returns the number of ticks recorded.
func (r *FrameRate) Count() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
