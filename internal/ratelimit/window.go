package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/nexus/internal/metrics"
)

// Window admits at most rate grants within any rolling period.
type Window struct {
	rate   int
	period time.Duration
	name   string

	// lock is a one-slot semaphore so waiting for the critical section
	// honors context cancellation.
	lock   chan struct{}
	grants []time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// WindowOption customizes a Window.
type WindowOption func(*Window)

// WithClock overrides the time source and sleep function (tests).
func WithClock(now func() time.Time, sleep func(context.Context, time.Duration) error) WindowOption {
	return func(w *Window) {
		w.now = now
		w.sleep = sleep
	}
}

// WithName labels the limiter's delay metric.
func WithName(name string) WindowOption {
	return func(w *Window) {
		w.name = name
	}
}

// NewWindow builds a Window allowing rate grants per period.
func NewWindow(rate int, period time.Duration, opts ...WindowOption) (*Window, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("rate must be positive, got %d", rate)
	}
	if period <= 0 {
		return nil, fmt.Errorf("period must be positive, got %s", period)
	}
	w := &Window{
		rate:   rate,
		period: period,
		name:   "window",
		lock:   make(chan struct{}, 1),
		grants: make([]time.Time, 0, rate),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Acquire blocks until a grant is available or ctx is done.
func (w *Window) Acquire(ctx context.Context) error {
	select {
	case w.lock <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("rate limit acquire: %w", ctx.Err())
	}
	defer func() { <-w.lock }()

	var waited time.Duration
	for {
		now := w.now()
		w.prune(now)
		if len(w.grants) < w.rate {
			w.grants = append(w.grants, now)
			if waited > 0 {
				metrics.ObserveRateLimitDelay(w.name, waited)
			}
			return nil
		}
		wait := w.period - now.Sub(w.grants[0])
		if wait <= 0 {
			continue
		}
		if err := w.sleep(ctx, wait); err != nil {
			return fmt.Errorf("rate limit acquire: %w", err)
		}
		waited += wait
	}
}

// prune drops grants that have aged out of the window.
func (w *Window) prune(now time.Time) {
	keep := 0
	for keep < len(w.grants) && now.Sub(w.grants[keep]) >= w.period {
		keep++
	}
	if keep > 0 {
		w.grants = append(w.grants[:0], w.grants[keep:]...)
	}
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
