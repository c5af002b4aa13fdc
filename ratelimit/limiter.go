// Package ratelimit throttles outbound platform API calls per endpoint
// route and globally. Budgets are refreshed from the platform's own
// responses; all counters sit behind one mutex shared by every
// concurrently running scan batch.
package ratelimit

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// ErrRetryExhausted is returned when a call keeps being rate limited
// past the configured attempt bound. It is retryable from the caller's
// point of view: the batch records a failure and moves on.
var ErrRetryExhausted = errors.New("rate limit retries exhausted")

// RateLimitedError signals that the platform rejected a call and told
// us when to come back.
type RateLimitedError struct {
	RetryAfter time.Duration
	Global     bool
}

func (e *RateLimitedError) Error() string {
	return "rate limited, retry after " + e.RetryAfter.String()
}

type bucket struct {
	remaining int
	resetAt   time.Time
}

// Limiter tracks per-route and global call budgets. The mutex is held
// only for bookkeeping, never across sleeps.
type Limiter struct {
	maxAttempts int

	mu          sync.Mutex
	routes      map[string]*bucket
	globalUntil time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter that retries rate-limited calls up to
// maxAttempts times before surfacing ErrRetryExhausted.
func New(maxAttempts int) *Limiter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Limiter{
		maxAttempts: maxAttempts,
		routes:      make(map[string]*bucket),
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// waitDuration computes how long the caller must suspend before the
// route's budget allows another call. Zero means go ahead.
func (l *Limiter) waitDuration(route string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var wait time.Duration
	if l.globalUntil.After(now) {
		wait = l.globalUntil.Sub(now)
	}
	if b, ok := l.routes[route]; ok && b.remaining <= 0 && b.resetAt.After(now) {
		if d := b.resetAt.Sub(now); d > wait {
			wait = d
		}
	}
	return wait
}

// Wait suspends until the route's budget permits a call or the context
// is cancelled.
func (l *Limiter) Wait(ctx context.Context, route string) error {
	for {
		wait := l.waitDuration(route)
		if wait <= 0 {
			return ctx.Err()
		}
		log.Printf("Rate limit on %s, waiting %v", route, wait)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Update records the remaining budget and reset delay reported by a
// successful platform response.
func (l *Limiter) Update(route string, remaining int, resetAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.routes[route] = &bucket{remaining: remaining, resetAt: l.now().Add(resetAfter)}
}

// SetRetryAfter records a rate-limit rejection's retry-after duration,
// either for one route or globally.
func (l *Limiter) SetRetryAfter(route string, d time.Duration, global bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	until := l.now().Add(d)
	if global {
		l.globalUntil = until
		return
	}
	l.routes[route] = &bucket{remaining: 0, resetAt: until}
}

// Do runs fn under the route's budget. A *RateLimitedError from fn
// refreshes the budget and retries after the server-provided delay, up
// to the attempt bound; other errors pass through unchanged.
func (l *Limiter) Do(ctx context.Context, route string, fn func() error) error {
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		if err := l.Wait(ctx, route); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}

		var rl *RateLimitedError
		if !errors.As(err, &rl) {
			return err
		}
		log.Printf("Call on %s rate limited (attempt %d/%d), retry after %v", route, attempt+1, l.maxAttempts, rl.RetryAfter)
		l.SetRetryAfter(route, rl.RetryAfter, rl.Global)
	}
	return ErrRetryExhausted
}
