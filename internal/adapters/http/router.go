package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/veltrix/sessiongate/internal/application"
	"github.com/veltrix/sessiongate/internal/ports"
)

// Handler is the HTTP adapter entrypoint for session and access use-cases.
// The audit repository is optional; without it the audit route is not
// registered.
type Handler struct {
	service *application.Service
	audit   ports.AuditRepository
}

func NewHandler(service *application.Service, audit ports.AuditRepository) *Handler {
	return &Handler{service: service, audit: audit}
}

// NewRouter registers the session and access routes behind the shared
// middleware stack.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)

	r.Route("/session/v1", func(r chi.Router) {
		r.Post("/establish", handler.establish)
		r.Get("/status", handler.status)
		r.Post("/refresh", handler.refresh)
		r.Post("/activity", handler.activity)
		r.Post("/activity/failure", handler.failedOperation)
		r.Post("/restore", handler.restore)
		r.Post("/logout", handler.logout)
		r.Post("/anomalies", handler.anomalies)
		if handler.audit != nil {
			r.Get("/audit", handler.auditTrail)
		}
	})

	r.Route("/access/v1", func(r chi.Router) {
		r.Post("/check", handler.checkAccess)
		r.Get("/permissions", handler.permissions)
		r.Get("/workflows", handler.workflows)
	})

	return r
}
