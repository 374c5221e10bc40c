package gmail

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Operation represents a Gmail API operation with its quota cost.
type Operation int

const (
	OpMessagesGetRaw Operation = iota // 5 units
	OpMessagesList                    // 5 units
	OpMessagesModify                  // 5 units
	OpProfile                         // 1 unit
)

// Cost returns the quota cost for an operation.
func (o Operation) Cost() int {
	switch o {
	case OpMessagesGetRaw, OpMessagesList, OpMessagesModify:
		return 5
	default:
		return 1
	}
}

const (
	// DefaultCapacity is the token bucket burst (Gmail's per-user quota units).
	DefaultCapacity = 250

	// unitsPerQuery converts the configured QPS into quota units per second.
	unitsPerQuery = 50.0

	defaultQPS = 5.0

	// MinQPS is the lowest accepted rate.
	MinQPS = 0.1

	throttleRecoveryFactor = 0.5
)

// RateLimiter paces Gmail calls by quota cost on top of a rate.Limiter.
// After a 429 or quota 403 it pauses all callers for the throttle window.
type RateLimiter struct {
	mu             sync.Mutex
	limiter        *rate.Limiter
	baseLimit      rate.Limit
	throttledUntil time.Time
	now            func() time.Time
}

// NewRateLimiter creates a rate limiter for qps queries per second, clamped
// to [MinQPS, 5].
func NewRateLimiter(qps float64) *RateLimiter {
	if qps < MinQPS {
		qps = MinQPS
	}
	if qps > defaultQPS {
		qps = defaultQPS
	}
	limit := rate.Limit(qps * unitsPerQuery)
	return &RateLimiter{
		limiter:   rate.NewLimiter(limit, DefaultCapacity),
		baseLimit: limit,
		now:       time.Now,
	}
}

// Acquire blocks until the operation's cost is available or ctx ends.
func (r *RateLimiter) Acquire(ctx context.Context, op Operation) error {
	if wait := r.throttleWait(); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return r.limiter.WaitN(ctx, op.Cost())
}

// throttleWait returns how long callers must still pause. Once the window
// has passed the base rate is restored.
func (r *RateLimiter) throttleWait() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if now.Before(r.throttledUntil) {
		return r.throttledUntil.Sub(now)
	}
	if !r.throttledUntil.IsZero() && r.limiter.Limit() < r.baseLimit {
		r.limiter.SetLimit(r.baseLimit)
	}
	return 0
}

// Throttle pauses callers for d and halves the rate until the pause ends.
// An existing longer window is never shortened.
func (r *RateLimiter) Throttle(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if end := now.Add(d); end.After(r.throttledUntil) {
		r.throttledUntil = end
	}
	r.limiter.SetLimit(r.baseLimit*throttleRecoveryFactor)
}

// Limit returns the current refill rate in quota units per second.
func (r *RateLimiter) Limit() rate.Limit {
	return r.limiter.Limit()
}
