package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiterBoundsConcurrency(t *testing.T) {
	l := New("task_slots", 2)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			defer release()

			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	if got := maxActive.Load(); got > 2 {
		t.Errorf("Max concurrent holders %d exceeds capacity 2", got)
	}
	stats := l.Stats()
	if stats.InUse != 0 {
		t.Errorf("Expected 0 in use after completion, got %d", stats.InUse)
	}
	if stats.Peak < 1 || stats.Peak > 2 {
		t.Errorf("Expected peak between 1 and 2, got %d", stats.Peak)
	}
}

func TestLimiterAcquireCancelled(t *testing.T) {
	l := New("enhancement_slots", 1)
	release, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled, got %v", err)
	}
}

func TestLimiterReleaseIdempotent(t *testing.T) {
	l := New("x", 1)
	release, _ := l.Acquire(context.Background())
	release()
	release()

	if got := l.Stats().InUse; got != 0 {
		t.Errorf("Expected 0 in use, got %d", got)
	}
	r1, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Expected slot to be free: %v", err)
	}
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); err == nil {
		t.Error("Double release must not add capacity")
	}
}

func TestLimiterMinimumCapacity(t *testing.T) {
	if got := New("x", 0).Capacity(); got != 1 {
		t.Errorf("Expected capacity 1, got %d", got)
	}
}
