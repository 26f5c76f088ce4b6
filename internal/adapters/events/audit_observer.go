package events

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/veltrix/sessiongate/internal/application"
	"github.com/veltrix/sessiongate/internal/domain"
	"github.com/veltrix/sessiongate/internal/ports"
)

// AuditObserver copies session lifecycle transitions into the persistent
// audit trail. Warnings and the bare timeout kinds are skipped: the
// SESSION_INVALIDATED entry already carries the timeout reason. Insert
// failures are logged and swallowed; session handling never waits on the
// audit store.
type AuditObserver struct {
	repo ports.AuditRepository
}

func NewAuditObserver(repo ports.AuditRepository) *AuditObserver {
	return &AuditObserver{repo: repo}
}

func auditedKinds() []domain.EventKind {
	return []domain.EventKind{
		domain.EventSessionEstablished,
		domain.EventSessionRefreshed,
		domain.EventSessionRestored,
		domain.EventSuspiciousActivity,
		domain.EventSessionInvalidated,
	}
}

// Attach subscribes the observer to the audited event kinds on the bus.
func (o *AuditObserver) Attach(bus *application.EventBus) {
	for _, kind := range auditedKinds() {
		bus.Subscribe(kind, o.handle)
	}
}

func (o *AuditObserver) handle(ctx context.Context, evt domain.Event) {
	record := ports.AuditRecord{
		AuditID:    uuid.New(),
		UserID:     evt.UserID,
		Kind:       string(evt.Kind),
		Reason:     evt.Reason,
		Indicators: evt.Indicators,
		OccurredAt: evt.At,
	}
	if err := o.repo.Insert(ctx, record); err != nil {
		slog.Default().WarnContext(ctx, "audit record insert failed",
			"service", "sessiongate",
			"module", "events",
			"layer", "adapter",
			"operation", "audit_event",
			"outcome", "failure",
			"event_type", string(evt.Kind),
			"error", err,
		)
	}
}
