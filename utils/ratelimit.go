package utils

import (
	"context"
	"sync"
	"time"
)

// RateLimiter grants at most limit permits in any window of the given length.
// It keeps the grant times of the current window (a sliding-window log), so the
// ceiling holds for every window, not just aligned ones. It is safe for
// concurrent use and is meant to be shared by everything that talks upstream.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	grants []time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter creates a limiter allowing limit requests per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		grants: make([]time.Time, 0, limit),
		now:    time.Now,
		sleep:  SleepContext,
	}
}

// Acquire blocks until one more request may be issued or ctx is done.
func (rl *RateLimiter) Acquire(ctx context.Context) error {
	for {
		wait, ok := rl.tryAcquire()
		if ok {
			return nil
		}
		if err := rl.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (rl *RateLimiter) tryAcquire() (time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	expired := 0
	for expired < len(rl.grants) && now.Sub(rl.grants[expired]) >= rl.window {
		expired++
	}
	if expired > 0 {
		rl.grants = append(rl.grants[:0], rl.grants[expired:]...)
	}

	if len(rl.grants) < rl.limit {
		rl.grants = append(rl.grants, now)
		return 0, true
	}
	return rl.grants[0].Add(rl.window).Sub(now), false
}

// Limit returns the number of permits per window.
func (rl *RateLimiter) Limit() int { return rl.limit }

// Window returns the window length.
func (rl *RateLimiter) Window() time.Duration { return rl.window }
