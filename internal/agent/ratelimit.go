package agent

import (
	"context"
	"sync"
	"time"
)

// RateLimiter throttles outbound provider calls with a refilling token
// budget. One limiter guards all sessions of a runtime; the session lock
// already serializes turns, so contention here is across sessions only.
type RateLimiter struct {
	mu     sync.Mutex
	budget float64
	burst  float64
	refill float64 // tokens per second
	last   time.Time
	clock  func() time.Time
}

type RateLimiterConfig struct {
	Burst     int     // bucket capacity (default 5)
	PerMinute float64 // sustained call rate (default 60)
	Clock     func() time.Time
}

func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 60
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &RateLimiter{
		budget: float64(cfg.Burst),
		burst:  float64(cfg.Burst),
		refill: cfg.PerMinute / 60.0,
		last:   cfg.Clock(),
		clock:  cfg.Clock,
	}
}

// Wait blocks until a call slot is available or the context ends.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait := rl.reserve()
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a token when one is available, otherwise reports how long
// until the next token accrues.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock()
	rl.budget += now.Sub(rl.last).Seconds() * rl.refill
	if rl.budget > rl.burst {
		rl.budget = rl.burst
	}
	rl.last = now

	if rl.budget >= 1 {
		rl.budget--
		return 0
	}
	return time.Duration((1 - rl.budget) / rl.refill * float64(time.Second))
}
