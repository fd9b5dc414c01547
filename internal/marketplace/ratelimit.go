package marketplace

import (
	"context"
	"sync"
	"time"
)

// RateLimitConfig bounds the adaptive delay of a RateLimiter.
type RateLimitConfig struct {
	Base       time.Duration // starting delay
	Floor      time.Duration // delay never decays below this
	Ceiling    time.Duration // delay never backs off above this
	Multiplier float64       // backoff factor applied on 429 responses
}

// DefaultRateLimitConfig matches the remote API's observed tolerance.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Base:       500 * time.Millisecond,
		Floor:      500 * time.Millisecond,
		Ceiling:    10 * time.Second,
		Multiplier: 2.0,
	}
}

// RateLimiter throttles outbound requests to one remote API and adapts its
// delay to response signals: 429 and 5xx stretch the delay, sustained success
// decays it back toward the floor. Safe for concurrent use by the worker
// pools; the delay counters are a single register guarded by a mutex, while
// the sleep itself happens outside the lock so callers do not serialize.
type RateLimiter struct {
	mu           sync.Mutex
	delay        time.Duration
	failureCount int
	lastStatus   int
	cfg          RateLimitConfig
}

// NewRateLimiter returns a limiter with the given bounds. Zero or negative
// config fields fall back to the defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	def := DefaultRateLimitConfig()
	if cfg.Base <= 0 {
		cfg.Base = def.Base
	}
	if cfg.Floor <= 0 {
		cfg.Floor = def.Floor
	}
	if cfg.Ceiling < cfg.Floor {
		cfg.Ceiling = def.Ceiling
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = def.Multiplier
	}
	if cfg.Base < cfg.Floor {
		cfg.Base = cfg.Floor
	}
	return &RateLimiter{delay: cfg.Base, cfg: cfg}
}

// Wait blocks for the current delay interval or until ctx is done. Each
// caller waits independently; Wait never fails except through ctx.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	d := r.delay
	r.mu.Unlock()

	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// OnResponse records a response status and adjusts the delay:
// 429 multiplies it by the configured factor, 5xx by half that pressure,
// 2xx decays it by 10% toward the floor and clears the failure streak.
func (r *RateLimiter) OnResponse(status int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastStatus = status
	switch {
	case status == 429:
		r.failureCount++
		r.delay = clampDuration(time.Duration(float64(r.delay)*r.cfg.Multiplier), r.cfg.Floor, r.cfg.Ceiling)
	case status >= 500:
		r.failureCount++
		r.delay = clampDuration(time.Duration(float64(r.delay)*(1+(r.cfg.Multiplier-1)/2)), r.cfg.Floor, r.cfg.Ceiling)
	case status >= 200 && status < 300:
		r.failureCount = 0
		if r.delay > r.cfg.Floor {
			r.delay = clampDuration(time.Duration(float64(r.delay)*0.9), r.cfg.Floor, r.cfg.Ceiling)
		}
	}
}

// Delay returns the current delay interval.
func (r *RateLimiter) Delay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.delay
}

// FailureCount returns the consecutive 429/5xx streak length.
func (r *RateLimiter) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failureCount
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
