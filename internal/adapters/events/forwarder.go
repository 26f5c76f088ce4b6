package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/veltrix/sessiongate/internal/application"
	"github.com/veltrix/sessiongate/internal/domain"
	"github.com/veltrix/sessiongate/internal/ports"
)

// eventEnvelope is the published wire form of a session event. Instants
// travel as epoch milliseconds like every other stored document.
type eventEnvelope struct {
	Kind            string   `json:"kind"`
	AtMS            int64    `json:"atMs"`
	Reason          string   `json:"reason,omitempty"`
	TimeRemainingMS int64    `json:"timeRemainingMs,omitempty"`
	Indicators      []string `json:"indicators,omitempty"`
	UserID          string   `json:"userId,omitempty"`
}

// StreamForwarder mirrors the in-process event stream to outbound
// publishers. The stream is advisory, so publish failures are logged and
// swallowed rather than surfaced into session handling.
type StreamForwarder struct {
	publishers []ports.EventPublisher
}

func NewStreamForwarder(publishers ...ports.EventPublisher) *StreamForwarder {
	return &StreamForwarder{publishers: publishers}
}

// Attach subscribes the forwarder to every event kind on the bus.
func (f *StreamForwarder) Attach(bus *application.EventBus) {
	for _, kind := range domain.Kinds() {
		bus.Subscribe(kind, f.handle)
	}
}

func (f *StreamForwarder) handle(ctx context.Context, evt domain.Event) {
	payload, err := json.Marshal(eventEnvelope{
		Kind:            string(evt.Kind),
		AtMS:            evt.At.UnixMilli(),
		Reason:          evt.Reason,
		TimeRemainingMS: evt.TimeRemaining.Milliseconds(),
		Indicators:      evt.Indicators,
		UserID:          evt.UserID,
	})
	if err != nil {
		slog.Default().ErrorContext(ctx, "session event marshal failed",
			"service", "sessiongate",
			"module", "events",
			"layer", "adapter",
			"operation", "forward_event",
			"outcome", "failure",
			"event_type", string(evt.Kind),
			"error", err,
		)
		return
	}
	for _, pub := range f.publishers {
		if err := pub.Publish(ctx, string(evt.Kind), payload, evt.UserID); err != nil {
			slog.Default().WarnContext(ctx, "session event publish failed",
				"service", "sessiongate",
				"module", "events",
				"layer", "adapter",
				"operation", "forward_event",
				"outcome", "failure",
				"event_type", string(evt.Kind),
				"error", err,
			)
		}
	}
}
