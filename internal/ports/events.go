package ports

import (
	"context"
	"time"
)

// EventPublisher is the outbound session-event publish port.
// The application uses this abstraction to keep broker/client concerns in
// adapters. partitionKey groups events that must stay ordered relative to
// each other; publishers without partitions may ignore it.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// ActivitySubscription is a live activity feed for one context key.
// Close stops delivery; a callback already in flight may still complete.
type ActivitySubscription interface {
	Close() error
}

// ActivityBroadcaster relays activity marks between session holders that
// share a context key, so sibling instances extend each other's idle
// window. Delivery is best-effort: a missed announcement only shortens the
// perceived idle window, it never extends a session. The Subscribe ctx
// bounds subscription setup only; delivery continues until Close.
type ActivityBroadcaster interface {
	Announce(ctx context.Context, contextKey string, at time.Time) error
	Subscribe(ctx context.Context, contextKey string, onActivity func(at time.Time)) (ActivitySubscription, error)
}
