package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuditRecord is one persisted session lifecycle transition. Indicators is
// only populated for suspicious-activity entries.
type AuditRecord struct {
	AuditID    uuid.UUID
	UserID     string
	Kind       string
	Reason     string
	Indicators []string
	OccurredAt time.Time
}

// AuditRepository stores the session audit trail. The decision path never
// reads it; it exists for operators and offline review, so Insert failures
// are logged and swallowed rather than propagated into session handling.
type AuditRepository interface {
	Insert(ctx context.Context, record AuditRecord) error
	ListByUser(ctx context.Context, userID string, limit, offset int, since *time.Time) ([]AuditRecord, error)
}
