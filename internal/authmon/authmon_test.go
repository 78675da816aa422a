package authmon

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/poll"
)

func TestWaitForAuthentication_ImmediateSuccess(t *testing.T) {
	m := New(zap.NewNop())
	status, err := m.WaitForAuthentication(context.Background(),
		func(context.Context) (bool, error) { return true, nil },
		poll.Options{Timeout: time.Second, Interval: 10 * time.Millisecond})

	require.NoError(t, err)
	assert.Equal(t, schemas.StatusAuthenticated, status)
	assert.Equal(t, StateAuthenticated, m.State())
}

func TestWaitForAuthentication_SuccessOnThirdCheck(t *testing.T) {
	m := New(zap.NewNop())
	checks := 0
	start := time.Now()

	status, err := m.WaitForAuthentication(context.Background(),
		func(context.Context) (bool, error) {
			checks++
			return checks >= 3, nil
		},
		poll.Options{Timeout: 5 * time.Second, Interval: 50 * time.Millisecond})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, schemas.StatusAuthenticated, status)
	assert.Equal(t, 3, checks)
	// Two 50ms sleeps between the three checks.
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestWaitForAuthentication_TimeoutRaisesAuthError(t *testing.T) {
	m := New(zap.NewNop())
	start := time.Now()

	status, err := m.WaitForAuthentication(context.Background(),
		func(context.Context) (bool, error) { return false, nil },
		poll.Options{Timeout: 100 * time.Millisecond, Interval: 20 * time.Millisecond})
	elapsed := time.Since(start)

	assert.Equal(t, schemas.StatusTimedOut, status)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	var timeoutErr *poll.TimeoutError
	require.ErrorAs(t, err, &timeoutErr, "AuthError must wrap the underlying timeout")

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond, "must not reject before the budget elapses")
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, StateTimedOut, m.State())
}

func TestWaitForAuthentication_CancelledIsAVerdictNotAnError(t *testing.T) {
	m := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	type outcome struct {
		status schemas.AuthStatus
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		status, err := m.WaitForAuthentication(ctx,
			func(context.Context) (bool, error) { return false, nil },
			poll.Options{Timeout: 10 * time.Second, Interval: 10 * time.Millisecond})
		done <- outcome{status, err}
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case out := <-done:
		require.NoError(t, out.err, "cancellation is a returned verdict, not an error")
		assert.Equal(t, schemas.StatusCancelled, out.status)
		assert.Equal(t, StateCancelled, m.State())
	case <-time.After(time.Second):
		t.Fatal("cancellation not observed within one polling interval")
	}
}

func TestWaitForAuthentication_EvaluatorErrorVerbatim(t *testing.T) {
	m := New(zap.NewNop())
	boom := errors.New("page evaluate failed")

	_, err := m.WaitForAuthentication(context.Background(),
		func(context.Context) (bool, error) { return false, boom },
		poll.Options{Timeout: time.Second, Interval: 10 * time.Millisecond})

	require.ErrorIs(t, err, boom)
	var authErr *AuthError
	assert.False(t, errors.As(err, &authErr), "evaluator errors must not be wrapped as AuthError")
	assert.Equal(t, StateFailed, m.State(), "a probe failure is not a timeout")
}

func TestWaitForAuthentication_DefaultsApplied(t *testing.T) {
	// With zero options the monitor must still terminate via its own default
	// budget rather than hanging; verified indirectly by confirming a truthy
	// evaluator settles instantly under defaulted options.
	m := New(zap.NewNop())
	status, err := m.WaitForAuthentication(context.Background(),
		func(context.Context) (bool, error) { return true, nil }, poll.Options{})
	require.NoError(t, err)
	assert.Equal(t, schemas.StatusAuthenticated, status)
}

func TestMonitor_SingleUse(t *testing.T) {
	m := New(zap.NewNop())
	_, err := m.WaitForAuthentication(context.Background(),
		func(context.Context) (bool, error) { return true, nil }, poll.Options{})
	require.NoError(t, err)

	_, err = m.WaitForAuthentication(context.Background(),
		func(context.Context) (bool, error) { return true, nil }, poll.Options{})
	require.Error(t, err, "terminal states are final; a fresh call needs a fresh monitor")
}
