// internal/events/bus.go
// Package events provides the per-page publish/subscribe registry that
// relays native lifecycle callbacks and raw network observations to host
// listener registrations. One Bus belongs to exactly one page; there is no
// global registry.
package events

import (
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

// Handler receives an event payload. Payload types are documented alongside
// the event name constants in the schemas package.
type Handler func(payload any)

type subscription struct {
	id      int
	handler Handler
}

// Bus is an ordered listener registry keyed by event name. Listeners for a
// name run in registration order. Emit never holds the registry lock while
// invoking a handler, so handlers may register or remove listeners and may
// block on ledger reads without deadlocking the bridge.
type Bus struct {
	logger *zap.Logger

	mu        sync.Mutex
	nextID    int
	listeners map[schemas.EventName][]subscription
}

// NewBus creates an empty registry.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger:    logger.Named("events"),
		listeners: make(map[schemas.EventName][]subscription),
	}
}

// On registers a handler for the named event and returns a token for Off.
func (b *Bus) On(name schemas.EventName, handler Handler) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.listeners[name] = append(b.listeners[name], subscription{id: id, handler: handler})
	return id
}

// Off removes a previously registered handler. Unknown tokens are ignored.
func (b *Bus) Off(name schemas.EventName, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.listeners[name]
	for i, sub := range subs {
		if sub.id == id {
			b.listeners[name] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit delivers the payload to every listener registered for name, in
// registration order, on the caller's goroutine.
func (b *Bus) Emit(name schemas.EventName, payload any) {
	b.mu.Lock()
	subs := append([]subscription(nil), b.listeners[name]...)
	b.mu.Unlock()

	if len(subs) == 0 {
		return
	}
	b.logger.Debug("Dispatching event.",
		zap.String("event", string(name)), zap.Int("listeners", len(subs)))
	for _, sub := range subs {
		sub.handler(payload)
	}
}
