package handler

import (
	"net/http"

	"github.com/kiranshivaraju/stockmeta/internal/api/response"
	"github.com/kiranshivaraju/stockmeta/internal/export"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

type providerView struct {
	ID     models.ProviderKind `json:"id"`
	Name   string              `json:"name"`
	Models []models.AIModel    `json:"models"`
}

// NewProvidersHandler returns GET /api/v1/providers.
func NewProvidersHandler(catalog Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := catalog.Catalog()
		out := make([]providerView, 0, len(all))
		for _, kind := range models.ProviderKinds() {
			ms, ok := all[kind]
			if !ok {
				continue
			}
			out = append(out, providerView{ID: kind, Name: kind.DisplayName(), Models: ms})
		}
		response.JSON(w, out)
	}
}

// NewPlatformsHandler returns GET /api/v1/platforms.
func NewPlatformsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, export.Platforms())
	}
}
