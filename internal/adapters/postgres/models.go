package postgres

import (
	"time"

	"github.com/google/uuid"
)

type auditRecordModel struct {
	AuditID    uuid.UUID `gorm:"column:audit_id;type:uuid;primaryKey"`
	UserID     string    `gorm:"column:user_id"`
	Kind       string    `gorm:"column:kind"`
	Reason     string    `gorm:"column:reason"`
	Indicators string    `gorm:"column:indicators;type:jsonb"`
	OccurredAt time.Time `gorm:"column:occurred_at"`
}

func (auditRecordModel) TableName() string { return "session_audit" }
