package api

import (
	"net/http"

	"github.com/calbridge/calbridge/internal/scheduler"
	"github.com/calbridge/calbridge/internal/storage"
)

func (h *Handlers) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.store.ListSources(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": "ok", "sources": sources})
}

func (h *Handlers) CreateSource(w http.ResponseWriter, r *http.Request) {
	var in storage.CreateSource
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	src, err := h.store.CreateSource(r.Context(), &in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.sched.RegisterSource(src)
	writeJSON(w, http.StatusCreated, envelope{"status": "ok", "source": src})
}

func (h *Handlers) UpdateSource(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var in storage.UpdateSource
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	src, err := h.store.UpdateSource(r.Context(), id, &in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.sched.RegisterSource(src)
	writeJSON(w, http.StatusOK, envelope{"status": "ok", "source": src})
}

func (h *Handlers) DeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.store.DeleteSource(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.sched.Cancel(scheduler.Key{Kind: scheduler.KindSource, ID: id})
	writeJSON(w, http.StatusOK, envelope{"status": "ok", "message": "source deleted"})
}

// SyncSource runs one forward sync synchronously and journals the outcome.
func (h *Handlers) SyncSource(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	src, err := h.store.GetSource(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, err := h.sched.SyncSourceNow(r.Context(), src)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": "ok", "message": msg})
}

func (h *Handlers) SourceStatus(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	src, err := h.store.GetSource(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"status":           "ok",
		"last_synced":      src.LastSynced,
		"last_sync_status": src.LastSyncStatus,
		"last_sync_error":  src.LastSyncError,
	})
}
