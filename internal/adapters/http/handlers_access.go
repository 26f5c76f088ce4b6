package http

import (
	"errors"
	"net/http"
	"strings"
)

func (h *Handler) checkAccess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resource string `json:"resource"`
		Action   string `json:"action"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeValidationFailure(r.Context(), w, "check_access", err)
		return
	}
	if strings.TrimSpace(req.Resource) == "" || strings.TrimSpace(req.Action) == "" {
		writeValidationFailure(r.Context(), w, "check_access", errors.New("resource and action are required"))
		return
	}

	decision, err := h.service.CheckAccess(r.Context(), req.Resource, req.Action)
	if err != nil {
		writeFailure(r.Context(), w, "check_access", err)
		return
	}
	writeData(w, http.StatusOK, decision)
}

func (h *Handler) permissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.Permissions(r.Context())
	if err != nil {
		writeFailure(r.Context(), w, "list_permissions", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) workflows(w http.ResponseWriter, r *http.Request) {
	flows, err := h.service.Workflows(r.Context())
	if err != nil {
		writeFailure(r.Context(), w, "list_workflows", err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"workflows": flows})
}
