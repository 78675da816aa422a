// internal/page/context.go
package page

import (
	"context"
	"time"
)

// CombineContext derives a context from primary that is additionally
// cancelled when secondary ends. Values come from primary. Waits use this so
// one call observes both the page lifetime and the caller's deadline.
func CombineContext(primary, secondary context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(primary)

	go func() {
		select {
		case <-secondary.Done():
			cancel()
		case <-combined.Done():
		}
	}()

	return combined, cancel
}

// valueOnlyContext inherits values from its parent but ignores the parent's
// deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (time.Time, bool) { return time.Time{}, false }
func (valueOnlyContext) Done() <-chan struct{}       { return nil }
func (valueOnlyContext) Err() error                  { return nil }

// Detach returns a context carrying parent's values that outlives parent's
// cancellation. Background work that must finish after an operation settles
// (for example fetching a response body once its request completed) runs
// under a detached context.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
