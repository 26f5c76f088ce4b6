package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/veltrix/sessiongate/internal/application"
	"github.com/veltrix/sessiongate/internal/domain"
	"github.com/veltrix/sessiongate/internal/ports"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ok")
}

func (h *Handler) readyz(w http.ResponseWriter, _ *http.Request) {
	writeMessage(w, http.StatusOK, "ready")
}

func (h *Handler) establish(w http.ResponseWriter, r *http.Request) {
	var req application.EstablishRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationFailure(r.Context(), w, "establish_session", err)
		return
	}
	if req.Client.UserAgent == "" {
		req.Client.UserAgent = r.UserAgent()
	}
	if req.Client.IPAddress == "" {
		req.Client.IPAddress = readIP(r)
	}

	status, err := h.service.Establish(r.Context(), req)
	if err != nil {
		writeFailure(r.Context(), w, "establish_session", err)
		return
	}
	writeData(w, http.StatusCreated, status)
}

func (h *Handler) status(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, h.service.Status())
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.RefreshSession(r.Context())
	if err != nil {
		writeFailure(r.Context(), w, "refresh_session", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"refreshed": rec != nil,
		"session":   h.service.Status(),
	})
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	if err := h.service.UpdateActivity(r.Context()); err != nil {
		writeFailure(r.Context(), w, "update_activity", err)
		return
	}
	writeMessage(w, http.StatusOK, "activity recorded")
}

func (h *Handler) failedOperation(w http.ResponseWriter, _ *http.Request) {
	h.service.RecordFailedOperation()
	writeMessage(w, http.StatusOK, "failed operation recorded")
}

func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	client := domain.ClientContext{
		UserAgent: r.UserAgent(),
		IPAddress: readIP(r),
	}
	status, err := h.service.Restore(r.Context(), client)
	if err != nil {
		writeFailure(r.Context(), w, "restore_session", err)
		return
	}
	writeData(w, http.StatusOK, status)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		writeFailure(r.Context(), w, "logout", err)
		return
	}
	writeMessage(w, http.StatusOK, "session ended")
}

func (h *Handler) anomalies(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.service.CheckAnomalies(r.Context()))
}

// auditEntry is the wire form of one audit row.
type auditEntry struct {
	AuditID    string    `json:"audit_id"`
	UserID     string    `json:"user_id"`
	Kind       string    `json:"kind"`
	Reason     string    `json:"reason,omitempty"`
	Indicators []string  `json:"indicators,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (h *Handler) auditTrail(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user"))
	if userID == "" {
		writeValidationFailure(r.Context(), w, "audit_trail", errors.New("user query parameter is required"))
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	var since *time.Time
	if days := parseIntDefault(r.URL.Query().Get("days"), 0); days > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		since = &cutoff
	}

	records, err := h.audit.ListByUser(r.Context(), userID, limit, offset, since)
	if err != nil {
		writeFailure(r.Context(), w, "audit_trail", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"entries": toAuditEntries(records)})
}

func toAuditEntries(records []ports.AuditRecord) []auditEntry {
	entries := make([]auditEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, auditEntry{
			AuditID:    rec.AuditID.String(),
			UserID:     rec.UserID,
			Kind:       rec.Kind,
			Reason:     rec.Reason,
			Indicators: rec.Indicators,
			OccurredAt: rec.OccurredAt,
		})
	}
	return entries
}
