package api

import (
	"net/http"

	"github.com/calbridge/calbridge/internal/storage"
)

func (h *Handlers) ListSourcePaths(w http.ResponseWriter, r *http.Request) {
	sid, err := urlID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.store.GetSource(r.Context(), sid); err != nil {
		h.writeError(w, r, err)
		return
	}
	paths, err := h.store.ListSourcePaths(r.Context(), sid)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": "ok", "paths": paths})
}

func (h *Handlers) CreateSourcePath(w http.ResponseWriter, r *http.Request) {
	sid, err := urlID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var in storage.CreateSourcePath
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	sp, err := h.store.CreateSourcePath(r.Context(), sid, &in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{"status": "ok", "path": sp})
}

// ownedSourcePath resolves {pid} and checks it belongs to {id}; an alias of
// another source is reported as not found, not forbidden.
func (h *Handlers) ownedSourcePath(r *http.Request) (*storage.SourcePath, error) {
	sid, err := urlID(r, "id")
	if err != nil {
		return nil, err
	}
	pid, err := urlID(r, "pid")
	if err != nil {
		return nil, err
	}
	sp, err := h.store.GetSourcePath(r.Context(), pid)
	if err != nil {
		return nil, err
	}
	if sp.SourceID != sid {
		return nil, storage.ErrNotFound
	}
	return sp, nil
}

func (h *Handlers) UpdateSourcePath(w http.ResponseWriter, r *http.Request) {
	sp, err := h.ownedSourcePath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var in storage.UpdateSourcePath
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	updated, err := h.store.UpdateSourcePath(r.Context(), sp.ID, &in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": "ok", "path": updated})
}

func (h *Handlers) DeleteSourcePath(w http.ResponseWriter, r *http.Request) {
	sp, err := h.ownedSourcePath(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.store.DeleteSourcePath(r.Context(), sp.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": "ok", "message": "path deleted"})
}
