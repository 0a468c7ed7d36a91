package resilience

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Semaphore bounds concurrency to a fixed number of permits. Waiters are
// granted permits in the order they called Acquire.
type Semaphore struct {
	max   int64
	w     *semaphore.Weighted
	inUse atomic.Int64
}

// NewSemaphore returns a semaphore with max permits. Values below one are
// clamped to one.
func NewSemaphore(max int) *Semaphore {
	if max < 1 {
		max = 1
	}
	return &Semaphore{max: int64(max), w: semaphore.NewWeighted(int64(max))}
}

// Acquire blocks until a permit is available or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	if err := s.w.Acquire(ctx, 1); err != nil {
		return err
	}
	s.inUse.Add(1)
	return nil
}

// TryAcquire grants a permit only if one is free right now.
func (s *Semaphore) TryAcquire() bool {
	if !s.w.TryAcquire(1) {
		return false
	}
	s.inUse.Add(1)
	return true
}

// Release returns a permit, handing it to the oldest waiter if there is one.
func (s *Semaphore) Release() {
	if s.inUse.Add(-1) < 0 {
		s.inUse.Add(1)
		panic("resilience: semaphore released more times than acquired")
	}
	s.w.Release(1)
}

// WithPermit runs fn while holding a permit. The permit is released even if
// fn panics.
func (s *Semaphore) WithPermit(ctx context.Context, fn func(context.Context) error) error {
	if err := s.Acquire(ctx); err != nil {
		return fmt.Errorf("resilience: acquire permit: %w", err)
	}
	defer s.Release()
	return fn(ctx)
}

// InUse reports the number of permits currently held.
func (s *Semaphore) InUse() int { return int(s.inUse.Load()) }

// Max reports the permit ceiling.
func (s *Semaphore) Max() int { return int(s.max) }
