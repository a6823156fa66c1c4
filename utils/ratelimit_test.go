package utils

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock advances only when the limiter sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func newFakeLimiter(limit int, window time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(limit, window)
	rl.now = clock.Now
	rl.sleep = clock.Sleep
	return rl, clock
}

func maxInAnyWindow(grants []time.Time, window time.Duration) int {
	peak := 0
	for i := range grants {
		n := 0
		for j := i; j < len(grants) && grants[j].Sub(grants[i]) < window; j++ {
			n++
		}
		if n > peak {
			peak = n
		}
	}
	return peak
}

func TestRateLimiterHardCeiling(t *testing.T) {
	tests := []struct {
		limit  int
		window time.Duration
		calls  int
	}{
		{5, 10 * time.Second, 37},
		{1, time.Second, 10},
		{3, 250 * time.Millisecond, 100},
	}

	for _, tt := range tests {
		rl, clock := newFakeLimiter(tt.limit, tt.window)

		grants := make([]time.Time, 0, tt.calls)
		for i := 0; i < tt.calls; i++ {
			if err := rl.Acquire(context.Background()); err != nil {
				t.Fatalf("Acquire: %v", err)
			}
			grants = append(grants, clock.Now())
		}

		if got := maxInAnyWindow(grants, tt.window); got > tt.limit {
			t.Errorf("limit %d/%v: observed %d grants in one window", tt.limit, tt.window, got)
		}
	}
}

func TestRateLimiterBurstThenWait(t *testing.T) {
	rl, clock := newFakeLimiter(5, 10*time.Second)
	start := clock.Now()

	for i := 0; i < 5; i++ {
		if err := rl.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}
	if elapsed := clock.Now().Sub(start); elapsed != 0 {
		t.Errorf("first %d permits should be immediate, waited %v", 5, elapsed)
	}

	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if elapsed := clock.Now().Sub(start); elapsed != 10*time.Second {
		t.Errorf("6th permit: waited %v, want 10s", elapsed)
	}
}

func TestRateLimiterConcurrentCallers(t *testing.T) {
	const (
		limit  = 4
		window = 150 * time.Millisecond
		calls  = 12
	)
	rl := NewRateLimiter(limit, window)

	var (
		mu     sync.Mutex
		grants []time.Time
		wg     sync.WaitGroup
	)
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rl.Acquire(context.Background()); err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			grants = append(grants, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(grants) != calls {
		t.Fatalf("grants: got %d, want %d", len(grants), calls)
	}

	// calls/limit windows are needed; the first one starts immediately.
	first, last := grants[0], grants[0]
	for _, g := range grants {
		if g.Before(first) {
			first = g
		}
		if g.After(last) {
			last = g
		}
	}
	if minSpan := window * (calls/limit - 1); last.Sub(first) < minSpan-10*time.Millisecond {
		t.Errorf("%d grants spanned %v, want at least %v", calls, last.Sub(first), minSpan)
	}
}

func TestRateLimiterAcquireHonoursContext(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	if err := rl.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := rl.Acquire(ctx); err == nil {
		t.Error("expected context error while the window is full")
	}
}
