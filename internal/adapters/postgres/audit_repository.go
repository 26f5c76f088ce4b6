package postgres

import (
	"context"
	"time"

	"github.com/veltrix/sessiongate/internal/ports"
	"gorm.io/gorm"
)

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository returns the gorm-backed session audit trail.
func NewAuditRepository(db *gorm.DB) ports.AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Insert(ctx context.Context, record ports.AuditRecord) error {
	rec := auditRecordModel{
		AuditID:    record.AuditID,
		UserID:     record.UserID,
		Kind:       record.Kind,
		Reason:     record.Reason,
		Indicators: encodeIndicators(record.Indicators),
		OccurredAt: record.OccurredAt,
	}
	return r.db.WithContext(ctx).Create(&rec).Error
}

func (r *auditRepository) ListByUser(ctx context.Context, userID string, limit, offset int, since *time.Time) ([]ports.AuditRecord, error) {
	var rows []auditRecordModel
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if since != nil {
		query = query.Where("occurred_at >= ?", *since)
	}
	query = query.
		Order("occurred_at DESC").
		Limit(limit).
		Offset(offset)
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	result := make([]ports.AuditRecord, 0, len(rows))
	for _, item := range rows {
		result = append(result, toPortAuditRecord(item))
	}
	return result, nil
}
