package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/kiranshivaraju/stockmeta/internal/api/response"
	"github.com/kiranshivaraju/stockmeta/internal/credential"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

// credentialView never exposes the full secret.
type credentialView struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Provider   models.ProviderKind `json:"provider"`
	Key        string              `json:"key"`
	UsageCount int                 `json:"usage_count"`
	Errors     int                 `json:"errors"`
	Active     bool                `json:"is_active"`
	LastUsed   *time.Time          `json:"last_used,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

func toCredentialView(c models.Credential) credentialView {
	return credentialView{
		ID:         c.ID.String(),
		Name:       c.DisplayName,
		Provider:   c.Provider,
		Key:        c.MaskedSecret(),
		UsageCount: c.UsageCount,
		Errors:     c.ErrorCount,
		Active:     c.Active,
		LastUsed:   c.LastUsedAt,
		CreatedAt:  c.CreatedAt,
	}
}

// NewCreateCredentialHandler returns POST /api/v1/credentials.
func NewCreateCredentialHandler(creds Credentials, log ActivityLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Provider string `json:"provider"`
			Secret   string `json:"secret"`
			Name     string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		provider, err := models.ParseProviderKind(req.Provider)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}
		if req.Secret == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "secret is required", nil)
			return
		}

		c, err := creds.Add(r.Context(), provider, req.Secret, req.Name)
		if err != nil {
			if errors.Is(err, credential.ErrDuplicate) {
				response.Error(w, http.StatusConflict, "DUPLICATE_CREDENTIAL",
					"This key is already registered for the provider", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		track(log, r, models.ActivityAPIKeyAdded, "Added "+provider.DisplayName()+" API key",
			map[string]any{"provider": provider, "name": c.DisplayName})
		response.Created(w, toCredentialView(c))
	}
}

// NewListCredentialsHandler returns GET /api/v1/credentials.
func NewListCredentialsHandler(creds Credentials) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := creds.List()
		out := make([]credentialView, len(all))
		for i, c := range all {
			out[i] = toCredentialView(c)
		}
		response.JSON(w, out)
	}
}

// NewUpdateCredentialHandler returns PATCH /api/v1/credentials/{id}.
func NewUpdateCredentialHandler(creds Credentials) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r, "id")
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "id must be a valid UUID", nil)
			return
		}
		var req struct {
			Active *bool `json:"active"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Active == nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "active is required", nil)
			return
		}

		c, err := creds.SetActive(r.Context(), id, *req.Active)
		if errors.Is(err, credential.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "CREDENTIAL_NOT_FOUND", "Credential not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		response.JSON(w, toCredentialView(c))
	}
}

// NewDeleteCredentialHandler returns DELETE /api/v1/credentials/{id}.
func NewDeleteCredentialHandler(creds Credentials) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r, "id")
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "id must be a valid UUID", nil)
			return
		}
		if err := creds.Remove(r.Context(), id); err != nil {
			if errors.Is(err, credential.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "CREDENTIAL_NOT_FOUND", "Credential not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
		response.NoContent(w)
	}
}
