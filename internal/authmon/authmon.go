// internal/authmon/authmon.go
// Package authmon implements the authentication state machine. Each
// WaitForAuthentication call drives one machine instance from Polling to a
// terminal state by re-running the host's evaluator through the generic
// poller. The terminal outcomes are deliberately asymmetric: Authenticated
// and Cancelled are returned verdicts, a timeout surfaces as an *AuthError.
package authmon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/poll"
)

// DefaultTimeout bounds an authentication wait when the host gives none.
// Generous on purpose; an unbounded wait would hang the host forever on an
// abandoned login page.
const DefaultTimeout = 60 * time.Second

// DefaultInterval is the evaluator re-check cadence when unspecified.
const DefaultInterval = time.Second

// State is the machine's current position.
type State string

const (
	StateIdle          State = "idle"
	StatePolling       State = "polling"
	StateAuthenticated State = "authenticated"
	StateTimedOut      State = "timed_out"
	StateCancelled     State = "cancelled"
	// StateFailed marks an evaluator that errored mid-poll, as opposed to one
	// that ran out of budget.
	StateFailed State = "failed"
)

// Evaluator inspects live page state and reports whether the user is
// authenticated. It runs once per polling tick.
type Evaluator func(ctx context.Context) (bool, error)

// AuthError reports that authentication polling timed out. It wraps the
// underlying poll.TimeoutError so errors.As reaches both.
type AuthError struct {
	Elapsed  time.Duration
	Attempts int
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication not detected after %v (%d checks)", e.Elapsed, e.Attempts)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Monitor is a single-use authentication state machine. Create one per
// WaitForAuthentication invocation; terminal states are final.
type Monitor struct {
	logger *zap.Logger
	state  State
}

// New creates a monitor in the Idle state.
func New(logger *zap.Logger) *Monitor {
	return &Monitor{
		logger: logger.Named("authmon"),
		state:  StateIdle,
	}
}

// State reports the machine's current state. The monitor is driven from a
// single goroutine; State exists for observability, not synchronization.
func (m *Monitor) State() State {
	return m.state
}

func (m *Monitor) transition(to State) {
	m.logger.Debug("Auth state transition.",
		zap.String("from", string(m.state)), zap.String("to", string(to)))
	m.state = to
}

// WaitForAuthentication polls the evaluator until it reports true, the
// budget runs out, or ctx is cancelled (the page closing mid-wait).
//
// Outcomes:
//   - evaluator true          -> (StatusAuthenticated, nil)
//   - ctx cancelled           -> (StatusCancelled, nil)
//   - budget exhausted        -> (StatusTimedOut, *AuthError)
//   - evaluator error         -> ("", the evaluator's error, verbatim)
func (m *Monitor) WaitForAuthentication(ctx context.Context, evaluator Evaluator, opts poll.Options) (schemas.AuthStatus, error) {
	if evaluator == nil {
		return "", errors.New("authmon: nil evaluator")
	}
	if m.state != StateIdle {
		return "", fmt.Errorf("authmon: monitor already used (state %s)", m.state)
	}

	if opts.Timeout <= 0 && opts.Times <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	m.transition(StatePolling)
	m.logger.Info("Waiting for authentication.",
		zap.Duration("timeout", opts.Timeout),
		zap.Duration("interval", opts.Interval),
		zap.Int("times", opts.Times))

	res, err := poll.Wait(ctx, poll.Predicate(evaluator), opts)
	if err == nil {
		m.transition(StateAuthenticated)
		m.logger.Info("Authentication detected.",
			zap.Duration("elapsed", res.Elapsed), zap.Int("attempts", res.Attempts))
		return schemas.StatusAuthenticated, nil
	}

	var cancelled *poll.CancelledError
	if errors.As(err, &cancelled) {
		m.transition(StateCancelled)
		m.logger.Info("Authentication wait cancelled.",
			zap.Duration("elapsed", cancelled.Elapsed))
		return schemas.StatusCancelled, nil
	}

	var timeout *poll.TimeoutError
	if errors.As(err, &timeout) {
		m.transition(StateTimedOut)
		m.logger.Warn("Authentication wait timed out.",
			zap.Duration("elapsed", timeout.Elapsed), zap.Int("attempts", timeout.Attempts))
		return schemas.StatusTimedOut, &AuthError{
			Elapsed:  timeout.Elapsed,
			Attempts: timeout.Attempts,
			Err:      timeout,
		}
	}

	// Evaluator failure: abort the machine and surface the error unchanged.
	m.transition(StateFailed)
	return "", err
}
