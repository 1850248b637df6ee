// Package handler implements the HTTP endpoints of the metadata service.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/stockmeta/internal/api/middleware"
	"github.com/kiranshivaraju/stockmeta/internal/batch"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

// Batches is the batch manager surface the handlers use.
type Batches interface {
	Start(req batch.StartRequest) (batch.Info, error)
	Retry(id uuid.UUID) (batch.Info, error)
	Pause(id uuid.UUID) (batch.Info, error)
	Resume(id uuid.UUID) (batch.Info, error)
	Reset(id uuid.UUID) error
	Get(id uuid.UUID) (batch.Info, error)
	List() []batch.Info
}

// Credentials is the credential pool surface the handlers use.
type Credentials interface {
	Add(ctx context.Context, provider models.ProviderKind, secret, name string) (models.Credential, error)
	List() []models.Credential
	SetActive(ctx context.Context, id uuid.UUID, active bool) (models.Credential, error)
	Remove(ctx context.Context, id uuid.UUID) error
}

// Catalog resolves provider models.
type Catalog interface {
	ResolveModel(kind models.ProviderKind, id string) (string, error)
	Catalog() map[models.ProviderKind][]models.AIModel
}

// ActivityLog records and reads the activity log.
type ActivityLog interface {
	Track(ctx context.Context, actor string, typ models.ActivityType, description string, metadata map[string]any) (models.Activity, error)
	List(ctx context.Context, limit int) ([]models.Activity, error)
	ListByActor(ctx context.Context, actor string, limit int) ([]models.Activity, error)
	Stats(ctx context.Context, actor string) (models.UserStats, bool, error)
	AllStats(ctx context.Context) ([]models.UserStats, error)
}

// track records an activity for the request's actor. Failures are logged only.
func track(log ActivityLog, r *http.Request, typ models.ActivityType, description string, metadata map[string]any) {
	if log == nil {
		return
	}
	if _, err := log.Track(r.Context(), mw.GetActor(r), typ, description, metadata); err != nil {
		slog.Warn("tracking activity failed", "error", err, "type", typ)
	}
}

// idParam parses a UUID path parameter.
func idParam(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}
