package handler

import (
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/stockmeta/internal/api/response"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 1000
)

// NewListActivitiesHandler returns GET /api/v1/activities?limit=&actor=.
func NewListActivitiesHandler(log ActivityLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultActivityLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a positive integer", nil)
				return
			}
			limit = min(n, maxActivityLimit)
		}

		var (
			out any
			n   int
		)
		if actor := r.URL.Query().Get("actor"); actor != "" {
			list, err := log.ListByActor(r.Context(), actor, limit)
			if err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read activities", nil)
				return
			}
			out, n = list, len(list)
		} else {
			list, err := log.List(r.Context(), limit)
			if err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read activities", nil)
				return
			}
			out, n = list, len(list)
		}
		response.List(w, out, response.ListMeta{Count: n, Limit: limit})
	}
}

// NewActivityStatsHandler returns GET /api/v1/activities/stats?actor=.
func NewActivityStatsHandler(log ActivityLog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if actor := r.URL.Query().Get("actor"); actor != "" {
			s, ok, err := log.Stats(r.Context(), actor)
			if err != nil {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read stats", nil)
				return
			}
			if !ok {
				response.Error(w, http.StatusNotFound, "ACTOR_NOT_FOUND", "No activity recorded for actor", nil)
				return
			}
			response.JSON(w, s)
			return
		}

		all, err := log.AllStats(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read stats", nil)
			return
		}
		response.List(w, all, response.ListMeta{Count: len(all)})
	}
}
