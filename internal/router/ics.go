package router

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/calbridge/calbridge/internal/auth"
	"github.com/calbridge/calbridge/internal/cache"
	"github.com/calbridge/calbridge/internal/storage"
)

type icsHandler struct {
	store  storage.Store
	authn  *auth.Authenticator
	cache  *cache.Cache[string, string]
	logger zerolog.Logger
}

func writeCalendar(w http.ResponseWriter, blob string) {
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	_, _ = w.Write([]byte(blob))
}

// serve handles GET /ics/{path}. Authentication is required unless the path
// is a source's primary feed marked public without a separate alias, or a
// public auxiliary path.
func (h *icsHandler) serve(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")

	public, err := h.store.IsPublicStandard(r.Context(), path)
	if err != nil {
		h.logger.Error().Err(err).Str("path", path).Msg("visibility lookup failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !public && !h.authn.Authorize(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="calbridge", charset="UTF-8"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	blob, err := h.store.GetBlobByPath(r.Context(), path)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "ICS not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("path", path).Msg("blob lookup failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeCalendar(w, blob)
}

// servePublic handles GET /ics/public/{path}: anonymous by definition, so
// the path is checked for traversal before it reaches the store.
func (h *icsHandler) servePublic(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	if strings.Contains(path, "..") || strings.HasPrefix(path, "/") {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	if blob, ok := h.cache.Get(path); ok {
		writeCalendar(w, blob)
		return
	}

	blob, err := h.store.GetBlobByPublicPath(r.Context(), path)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "ICS not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Str("path", path).Msg("blob lookup failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.cache.Set(path, blob)
	writeCalendar(w, blob)
}
