// Package ratelimit provides the token bucket shared by every remote mutation
// in the process.
//
// Wait blocks until a token is available; it never fails for lack of tokens.
// The clock and the sleep are injectable so tests can run without real time
// passing.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// DefaultPerMinute is the remote service's documented mutation budget.
const DefaultPerMinute = 100

// Options configure a Limiter. Zero values pick the defaults.
type Options struct {
	PerMinute int
	Burst     int
	Now       func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
}

// Limiter is a token bucket safe for concurrent use.
type Limiter struct {
	lim   *rate.Limiter
	every time.Duration
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a limiter.
func New(opts Options) *Limiter {
	if opts.PerMinute <= 0 {
		opts.PerMinute = DefaultPerMinute
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	every := time.Minute / time.Duration(opts.PerMinute)
	return &Limiter{
		lim:   rate.NewLimiter(rate.Every(every), opts.Burst),
		every: every,
		now:   opts.Now,
		sleep: opts.Sleep,
	}
}

// Wait takes one token, sleeping until it is available. It returns the
// context's error if the context ends first; the token is then given back.
func (l *Limiter) Wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	now := l.now()
	r := l.lim.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("rate limiter burst is zero")
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if err := l.sleep(ctx, delay); err != nil {
		r.CancelAt(l.now())
		return err
	}
	return nil
}

// Interval returns the time between tokens.
func (l *Limiter) Interval() time.Duration {
	return l.every
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
