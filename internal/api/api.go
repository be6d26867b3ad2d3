// Package api implements the JSON management surface. Handlers validate
// through the store and keep the scheduler registry in step with every
// mutation.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/calbridge/calbridge/internal/scheduler"
	"github.com/calbridge/calbridge/internal/storage"
)

type Handlers struct {
	store   storage.Store
	sched   *scheduler.Registry
	logger  zerolog.Logger
	started time.Time
}

func NewHandlers(store storage.Store, sched *scheduler.Registry, logger zerolog.Logger) *Handlers {
	return &Handlers{
		store:   store,
		sched:   sched,
		logger:  logger,
		started: time.Now(),
	}
}

type envelope map[string]any

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps store errors onto the response contract: validation 400,
// not-found 404, everything else 500.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := err.Error()
	switch {
	case storage.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
		msg = "not found"
	default:
		h.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, envelope{"status": "error", "message": msg})
}

func urlID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, &storage.ValidationError{Msg: "invalid id"}
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &storage.ValidationError{Msg: "invalid JSON body: " + err.Error()}
	}
	return nil
}
