package harness

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrNoCapacity is returned when a fault slot could not be obtained.
var ErrNoCapacity = errors.New("concurrent failure cap reached")

// Limiter caps simultaneously active faults. One limiter may be shared by many harnesses to enforce a system-wide cap.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int64
	active   atomic.Int64
}

// NewLimiter returns a limiter allowing max concurrent faults (minimum 1).
func NewLimiter(max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(max)), capacity: int64(max)}
}

// Acquire waits up to timeout for a slot.
func (l *Limiter) Acquire(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return ErrNoCapacity
	}
	l.active.Add(1)
	return nil
}

// TryAcquire takes a slot only if one is free.
func (l *Limiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.active.Add(1)
	return true
}

// Release frees a slot.
func (l *Limiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// Active reports the number of held slots.
func (l *Limiter) Active() int {
	return int(l.active.Load())
}

// Capacity reports the configured cap.
func (l *Limiter) Capacity() int {
	return int(l.capacity)
}
