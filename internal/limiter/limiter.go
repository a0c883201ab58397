// Package limiter bounds how many units of work hold a shared resource at
// once. Each Limiter is a named counting semaphore.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrCancelled is returned when an acquisition is abandoned because its
// context ended, normally at shutdown.
var ErrCancelled = errors.New("slot acquisition cancelled")

// Limiter is a counting semaphore with usage statistics.
type Limiter struct {
	name     string
	capacity int
	sem      *semaphore.Weighted

	inUse atomic.Int64
	peak  atomic.Int64
}

// Stats is a point-in-time view of a limiter.
type Stats struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	InUse    int    `json:"in_use"`
	Peak     int    `json:"peak"`
}

// New creates a limiter with the given number of slots. Capacities below
// one are raised to one.
func New(name string, capacity int) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		name:     name,
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
	}
}

// Acquire blocks until a slot is free or ctx ends. The returned release
// function is safe to call more than once.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCancelled, l.name, err)
	}
	return l.track(), nil
}

func (l *Limiter) track() func() {
	n := l.inUse.Add(1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.inUse.Add(-1)
			l.sem.Release(1)
		})
	}
}

// Name returns the limiter's name.
func (l *Limiter) Name() string {
	return l.name
}

// Capacity returns the number of slots.
func (l *Limiter) Capacity() int {
	return l.capacity
}

// Stats returns current usage.
func (l *Limiter) Stats() Stats {
	return Stats{
		Name:     l.name,
		Capacity: l.capacity,
		InUse:    int(l.inUse.Load()),
		Peak:     int(l.peak.Load()),
	}
}
