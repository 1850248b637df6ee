package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/stockmeta/internal/api/response"
	"github.com/kiranshivaraju/stockmeta/internal/batch"
	"github.com/kiranshivaraju/stockmeta/internal/export"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

// NewExportHandler returns GET /api/v1/batches/{id}/export/{platform}.
// Only completed records are exported.
func NewExportHandler(batches Batches, log ActivityLog, now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return withBatchID(func(w http.ResponseWriter, r *http.Request, info batch.Info) {
		platform, err := export.ParsePlatform(chi.URLParam(r, "platform"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "UNKNOWN_PLATFORM", err.Error(),
				map[string]any{"platforms": export.Platforms()})
			return
		}

		records := models.CompletedOnly(info.Records)
		text, err := export.Render(platform, records, info.Settings)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}

		track(log, r, models.ActivityCSVExport, "Exported "+string(platform)+" CSV",
			map[string]any{"batch_id": info.ID.String(), "platform": platform, "rows": len(records)})
		response.CSV(w, export.Filename(platform, now()), export.WithBOM(text))
	}, batches)
}
