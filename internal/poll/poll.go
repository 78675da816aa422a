// internal/poll/poll.go
// Package poll implements the generic wait-until-condition primitive that the
// selector, function, request, and authentication waits are built on. A
// predicate is evaluated immediately and then re-evaluated on an interval
// until it reports true, a configured bound is exceeded, or the context is
// cancelled. All elapsed-time accounting uses the monotonic clock.
package poll

import (
	"context"
	"fmt"
	"time"
)

// Predicate is evaluated against live page state on each tick. It must be
// side-effect free (or side-effect tolerant); a returned error aborts the
// wait immediately and is propagated verbatim, never masked as a timeout.
type Predicate func(ctx context.Context) (bool, error)

// Options bounds a wait. When both Timeout and Times are set, whichever
// triggers first ends the wait. A zero Options means a single evaluation
// bounded only by the context.
type Options struct {
	// Timeout is the total wall-clock budget. Zero means no time bound.
	Timeout time.Duration
	// Interval is the delay between evaluations. Values <= 0 re-check
	// immediately while still yielding the goroutine each iteration.
	Interval time.Duration
	// Times caps the number of evaluations. Zero means no count bound.
	Times int
}

// Result reports how a settled wait went.
type Result struct {
	Attempts int
	Elapsed  time.Duration
}

// TimeoutError signals that a wait's bound was exceeded before the predicate
// became true.
type TimeoutError struct {
	Elapsed  time.Duration
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("wait timed out after %v (%d attempts)", e.Elapsed, e.Attempts)
}

// CancelledError signals that a wait was aborted via its context, typically
// by the owning page being closed. It is a distinct outcome from a timeout.
type CancelledError struct {
	Elapsed  time.Duration
	Attempts int
	Cause    error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("wait cancelled after %v (%d attempts): %v", e.Elapsed, e.Attempts, e.Cause)
}

func (e *CancelledError) Unwrap() error { return e.Cause }

// Wait evaluates pred now and then every opts.Interval until it returns true.
// The returned Result is valid for every outcome. Error kinds:
// *TimeoutError when a bound is exhausted, *CancelledError when ctx ends,
// and the predicate's own error verbatim if it fails.
func Wait(ctx context.Context, pred Predicate, opts Options) (Result, error) {
	start := time.Now()
	attempts := 0

	result := func() Result {
		return Result{Attempts: attempts, Elapsed: time.Since(start)}
	}

	if err := ctx.Err(); err != nil {
		return result(), &CancelledError{Elapsed: time.Since(start), Cause: err}
	}

	for {
		attempts++
		ok, err := pred(ctx)
		if err != nil {
			return result(), err
		}
		if ok {
			return result(), nil
		}

		if opts.Times > 0 && attempts >= opts.Times {
			return result(), &TimeoutError{Elapsed: time.Since(start), Attempts: attempts}
		}
		if opts.Timeout > 0 && time.Since(start) >= opts.Timeout {
			return result(), &TimeoutError{Elapsed: time.Since(start), Attempts: attempts}
		}
		if opts.Timeout <= 0 && opts.Times <= 0 {
			// No bound configured: this was a single bounded-by-context check.
			return result(), &TimeoutError{Elapsed: time.Since(start), Attempts: attempts}
		}

		if err := sleep(ctx, delayFor(opts, start)); err != nil {
			return result(), &CancelledError{
				Elapsed:  time.Since(start),
				Attempts: attempts,
				Cause:    err,
			}
		}
	}
}

// delayFor clamps the interval so the final re-check lands at the timeout
// boundary rather than one full interval past it.
func delayFor(opts Options, start time.Time) time.Duration {
	delay := opts.Interval
	if delay < 0 {
		delay = 0
	}
	if opts.Timeout > 0 {
		if remaining := opts.Timeout - time.Since(start); remaining < delay {
			delay = remaining
			if delay < 0 {
				delay = 0
			}
		}
	}
	return delay
}

// sleep pauses for d, returning the context error if cancelled first. A zero
// duration still goes through the timer so the caller's goroutine yields
// instead of busy-spinning.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
