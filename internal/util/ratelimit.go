package util

import (
	"context"
	"sync"
	"time"
)

// RateLimiter spaces calls so no more than the configured number happen per
// minute. Bucket capacity is one token, so bursts are never admitted.
type RateLimiter struct {
	mu       sync.Mutex
	interval time.Duration // time to mint one token
	tokens   float64
	minted   time.Time
}

// NewRateLimiter allows perMinute calls per minute. The first Wait returns
// immediately.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		interval: time.Minute / time.Duration(perMinute),
		tokens:   1,
		minted:   time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		rl.mu.Lock()
		now := time.Now()
		rl.tokens += float64(now.Sub(rl.minted)) / float64(rl.interval)
		if rl.tokens > 1 {
			rl.tokens = 1
		}
		rl.minted = now

		if rl.tokens >= 1 {
			rl.tokens--
			rl.mu.Unlock()
			return nil
		}
		// Sleep just long enough for the missing fraction of a token.
		wait := time.Duration((1 - rl.tokens) * float64(rl.interval))
		rl.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
