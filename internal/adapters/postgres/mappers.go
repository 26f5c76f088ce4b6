package postgres

import (
	"encoding/json"

	"github.com/veltrix/sessiongate/internal/ports"
)

func toPortAuditRecord(row auditRecordModel) ports.AuditRecord {
	return ports.AuditRecord{
		AuditID:    row.AuditID,
		UserID:     row.UserID,
		Kind:       row.Kind,
		Reason:     row.Reason,
		Indicators: decodeIndicators(row.Indicators),
		OccurredAt: row.OccurredAt,
	}
}

func encodeIndicators(indicators []string) string {
	if len(indicators) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(indicators)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

// decodeIndicators reads a malformed stored value as no indicators.
func decodeIndicators(raw string) []string {
	if raw == "" || raw == "[]" {
		return nil
	}
	var indicators []string
	if err := json.Unmarshal([]byte(raw), &indicators); err != nil {
		return nil
	}
	if len(indicators) == 0 {
		return nil
	}
	return indicators
}
