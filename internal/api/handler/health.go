package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/stockmeta/internal/api/response"
)

// Pinger is implemented by the state store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns GET /api/v1/health.
func NewHealthHandler(store Pinger, backend string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"state": "ok"}
		if err := store.Ping(r.Context()); err != nil {
			checks["state"] = "degraded"
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"State store unavailable", checks)
			return
		}
		response.JSON(w, map[string]any{
			"status":        "ok",
			"state_backend": backend,
			"services":      checks,
		})
	}
}
