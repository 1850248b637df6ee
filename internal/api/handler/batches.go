package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/stockmeta/internal/ai"
	mw "github.com/kiranshivaraju/stockmeta/internal/api/middleware"
	"github.com/kiranshivaraju/stockmeta/internal/api/response"
	"github.com/kiranshivaraju/stockmeta/internal/batch"
	"github.com/kiranshivaraju/stockmeta/internal/config"
	"github.com/kiranshivaraju/stockmeta/internal/media"
	"github.com/kiranshivaraju/stockmeta/pkg/models"
)

const multipartMemory = 32 << 20

// UploadLimits bounds batch submissions.
type UploadLimits struct {
	MaxFiles        int
	MaxBytes        int64
	MaxEdge         int
	DefaultProvider models.ProviderKind
}

// NewStartBatchHandler returns POST /api/v1/batches.
func NewStartBatchHandler(batches Batches, catalog Catalog, log ActivityLog, limits UploadLimits) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if limits.MaxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, limits.MaxBytes)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, "UPLOAD_TOO_LARGE",
					fmt.Sprintf("Upload exceeds %d bytes", tooLarge.Limit), nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Body must be multipart/form-data", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		provider := limits.DefaultProvider
		if v := r.FormValue("provider"); v != "" {
			p, err := models.ParseProviderKind(v)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
				return
			}
			provider = p
		}

		model, err := catalog.ResolveModel(provider, r.FormValue("model"))
		if err != nil {
			switch {
			case errors.Is(err, ai.ErrUnknownProvider):
				response.Error(w, http.StatusBadRequest, "PROVIDER_UNAVAILABLE", err.Error(), nil)
			case errors.Is(err, ai.ErrUnknownModel):
				response.Error(w, http.StatusBadRequest, "UNKNOWN_MODEL", err.Error(), nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			}
			return
		}

		settings := models.DefaultSettings()
		customSettings := false
		if raw := r.FormValue("settings"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &settings); err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "settings must be a JSON object", nil)
				return
			}
			customSettings = settings != models.DefaultSettings()
		}
		if err := settings.Validate(); err != nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}

		var delay time.Duration
		if raw := r.FormValue("delay_ms"); raw != "" {
			ms, err := strconv.Atoi(raw)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "delay_ms must be an integer", nil)
				return
			}
			delay = time.Duration(ms) * time.Millisecond
			if err := config.ValidateRequestDelay(delay); err != nil {
				response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "delay_ms "+err.Error(), nil)
				return
			}
		}

		jobs, status, code, msg := readJobs(r, limits)
		if status != 0 {
			response.Error(w, status, code, msg, nil)
			return
		}

		info, err := batches.Start(batch.StartRequest{
			Provider:     provider,
			Model:        model,
			Settings:     settings,
			RequestDelay: delay,
			Jobs:         jobs,
			Actor:        mw.GetActor(r),
		})
		if err != nil {
			writeBatchError(w, err)
			return
		}

		track(log, r, models.ActivityFileUpload, fmt.Sprintf("Uploaded %d files", len(jobs)),
			map[string]any{"batch_id": info.ID.String(), "count": len(jobs), "provider": provider, "model": model})
		if customSettings {
			track(log, r, models.ActivitySettingsChanged, "Started batch with custom generation settings",
				map[string]any{"batch_id": info.ID.String()})
		}
		response.Accepted(w, info)
	}
}

// readJobs turns the uploaded "files" parts into jobs. A non-zero status
// describes a client error.
func readJobs(r *http.Request, limits UploadLimits) ([]models.Job, int, string, string) {
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		return nil, http.StatusBadRequest, "NO_FILES", "At least one file is required"
	}
	if limits.MaxFiles > 0 && len(files) > limits.MaxFiles {
		return nil, http.StatusBadRequest, "TOO_MANY_FILES",
			fmt.Sprintf("At most %d files per batch", limits.MaxFiles)
	}

	jobs := make([]models.Job, 0, len(files))
	for i, fh := range files {
		if !media.Supported(fh.Filename) {
			return nil, http.StatusBadRequest, "UNSUPPORTED_FILE",
				fmt.Sprintf("%s is not a supported image or video", fh.Filename)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, http.StatusBadRequest, "INVALID_REQUEST", "Could not read " + fh.Filename
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, http.StatusBadRequest, "INVALID_REQUEST", "Could not read " + fh.Filename
		}
		jobs = append(jobs, models.Job{
			Index: i,
			Source: media.MemorySource{
				Filename:    fh.Filename,
				ContentType: fh.Header.Get("Content-Type"),
				Data:        data,
				MaxEdge:     limits.MaxEdge,
			},
		})
	}
	return jobs, 0, "", ""
}

// NewListBatchesHandler returns GET /api/v1/batches.
func NewListBatchesHandler(batches Batches) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := batches.List()
		response.List(w, list, response.ListMeta{Count: len(list)})
	}
}

// NewGetBatchHandler returns GET /api/v1/batches/{id}.
func NewGetBatchHandler(batches Batches) http.HandlerFunc {
	return withBatchID(func(w http.ResponseWriter, r *http.Request, info batch.Info) {
		response.JSON(w, info)
	}, batches)
}

// NewPauseBatchHandler returns POST /api/v1/batches/{id}/pause.
func NewPauseBatchHandler(batches Batches) http.HandlerFunc {
	return batchAction(batches.Pause)
}

// NewResumeBatchHandler returns POST /api/v1/batches/{id}/resume.
func NewResumeBatchHandler(batches Batches) http.HandlerFunc {
	return batchAction(batches.Resume)
}

// NewRetryBatchHandler returns POST /api/v1/batches/{id}/retry.
func NewRetryBatchHandler(batches Batches) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r, "id")
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "id must be a valid UUID", nil)
			return
		}
		info, err := batches.Retry(id)
		if err != nil {
			writeBatchError(w, err)
			return
		}
		response.Accepted(w, info)
	}
}

// NewResetBatchHandler returns DELETE /api/v1/batches/{id}.
func NewResetBatchHandler(batches Batches) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r, "id")
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "id must be a valid UUID", nil)
			return
		}
		if err := batches.Reset(id); err != nil {
			writeBatchError(w, err)
			return
		}
		response.NoContent(w)
	}
}

func batchAction(fn func(id uuid.UUID) (batch.Info, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r, "id")
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "id must be a valid UUID", nil)
			return
		}
		info, err := fn(id)
		if err != nil {
			writeBatchError(w, err)
			return
		}
		response.JSON(w, info)
	}
}

func withBatchID(fn func(http.ResponseWriter, *http.Request, batch.Info), batches Batches) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(r, "id")
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "id must be a valid UUID", nil)
			return
		}
		info, err := batches.Get(id)
		if err != nil {
			writeBatchError(w, err)
			return
		}
		fn(w, r, info)
	}
}

func writeBatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, batch.ErrBatchNotFound):
		response.Error(w, http.StatusNotFound, "BATCH_NOT_FOUND", "Batch not found", nil)
	case errors.Is(err, batch.ErrBatchActive):
		response.Error(w, http.StatusConflict, "BATCH_ACTIVE", "Another batch is already running", nil)
	case errors.Is(err, batch.ErrBatchNotRunning):
		response.Error(w, http.StatusConflict, "BATCH_NOT_RUNNING", "Batch is not running", nil)
	case errors.Is(err, batch.ErrNoActiveCredentials):
		response.Error(w, http.StatusUnprocessableEntity, "NO_ACTIVE_CREDENTIALS",
			"Add an active API key for the selected provider", nil)
	case errors.Is(err, batch.ErrNoFiles):
		response.Error(w, http.StatusBadRequest, "NO_FILES", "At least one file is required", nil)
	case errors.Is(err, ai.ErrUnknownProvider):
		response.Error(w, http.StatusBadRequest, "PROVIDER_UNAVAILABLE", err.Error(), nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
