package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/veltrix/sessiongate/internal/domain"
)

// EventHandler receives session lifecycle events. Dispatch is synchronous
// on the publisher's goroutine; handlers that may block should hand off.
type EventHandler func(ctx context.Context, evt domain.Event)

// EventBus fans session events out to registered listeners. Registration
// and removal are by (kind, handler) pair; a panicking listener is isolated
// so the remaining listeners still run.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[domain.EventKind][]EventHandler
}

func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[domain.EventKind][]EventHandler)}
}

// Subscribe registers handler for events of the given kind.
func (b *EventBus) Subscribe(kind domain.EventKind, handler EventHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], handler)
}

// Unsubscribe removes one registration for the (kind, handler) pair.
// Identity is by function pointer, so callers must pass the same value
// they subscribed with.
func (b *EventBus) Unsubscribe(kind domain.EventKind, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	handlers := b.handlers[kind]
	for i, h := range handlers {
		if fmt.Sprintf("%p", h) == fmt.Sprintf("%p", handler) {
			b.handlers[kind] = append(handlers[:i], handlers[i+1:]...)
			break
		}
	}
}

// Publish delivers evt to every listener registered for its kind, in
// subscription order.
func (b *EventBus) Publish(ctx context.Context, evt domain.Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.handlers[evt.Kind]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		b.dispatch(ctx, handler, evt)
	}
}

func (b *EventBus) dispatch(ctx context.Context, handler EventHandler, evt domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().ErrorContext(ctx, "event listener panicked",
				"service", "sessiongate",
				"module", "application",
				"layer", "application",
				"operation", "publish_event",
				"outcome", "failure",
				"event", string(evt.Kind),
				"panic", r,
			)
		}
	}()
	handler(ctx, evt)
}
