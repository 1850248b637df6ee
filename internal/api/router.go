// Package api wires the HTTP routes of the metadata service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/stockmeta/internal/api/middleware"
	"github.com/kiranshivaraju/stockmeta/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler    http.HandlerFunc
	ProvidersHandler http.HandlerFunc
	PlatformsHandler http.HandlerFunc

	CreateCredentialHandler http.HandlerFunc
	ListCredentialsHandler  http.HandlerFunc
	UpdateCredentialHandler http.HandlerFunc
	DeleteCredentialHandler http.HandlerFunc

	StartBatchHandler  http.HandlerFunc
	ListBatchesHandler http.HandlerFunc
	GetBatchHandler    http.HandlerFunc
	PauseBatchHandler  http.HandlerFunc
	ResumeBatchHandler http.HandlerFunc
	RetryBatchHandler  http.HandlerFunc
	ResetBatchHandler  http.HandlerFunc
	ExportHandler      http.HandlerFunc

	ListActivitiesHandler http.HandlerFunc
	ActivityStatsHandler  http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(mw.Actor)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth.Authenticate)
		}
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Get("/api/v1/providers", orNotImplemented(deps.ProvidersHandler))
		r.Get("/api/v1/platforms", orNotImplemented(deps.PlatformsHandler))

		r.Route("/api/v1/credentials", func(r chi.Router) {
			r.Post("/", orNotImplemented(deps.CreateCredentialHandler))
			r.Get("/", orNotImplemented(deps.ListCredentialsHandler))
			r.Patch("/{id}", orNotImplemented(deps.UpdateCredentialHandler))
			r.Delete("/{id}", orNotImplemented(deps.DeleteCredentialHandler))
		})

		r.Route("/api/v1/batches", func(r chi.Router) {
			r.Post("/", orNotImplemented(deps.StartBatchHandler))
			r.Get("/", orNotImplemented(deps.ListBatchesHandler))
			r.Get("/{id}", orNotImplemented(deps.GetBatchHandler))
			r.Delete("/{id}", orNotImplemented(deps.ResetBatchHandler))
			r.Post("/{id}/pause", orNotImplemented(deps.PauseBatchHandler))
			r.Post("/{id}/resume", orNotImplemented(deps.ResumeBatchHandler))
			r.Post("/{id}/retry", orNotImplemented(deps.RetryBatchHandler))
			r.Get("/{id}/export/{platform}", orNotImplemented(deps.ExportHandler))
		})

		r.Get("/api/v1/activities", orNotImplemented(deps.ListActivitiesHandler))
		r.Get("/api/v1/activities/stats", orNotImplemented(deps.ActivityStatsHandler))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
