package api

import (
	"net/http"
	"strconv"

	"github.com/calbridge/calbridge/internal/scheduler"
	"github.com/calbridge/calbridge/internal/storage"
)

func (h *Handlers) ListDestinations(w http.ResponseWriter, r *http.Request) {
	destinations, err := h.store.ListDestinations(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": "ok", "destinations": destinations})
}

func (h *Handlers) CreateDestination(w http.ResponseWriter, r *http.Request) {
	var in storage.CreateDestination
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	dst, err := h.store.CreateDestination(r.Context(), &in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.sched.RegisterDestination(dst)
	writeJSON(w, http.StatusCreated, envelope{"status": "ok", "destination": dst})
}

func (h *Handlers) UpdateDestination(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var in storage.UpdateDestination
	if err := decodeBody(r, &in); err != nil {
		h.writeError(w, r, err)
		return
	}
	dst, err := h.store.UpdateDestination(r.Context(), id, &in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.sched.RegisterDestination(dst)
	writeJSON(w, http.StatusOK, envelope{"status": "ok", "destination": dst})
}

func (h *Handlers) DeleteDestination(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.store.DeleteDestination(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.sched.Cancel(scheduler.Key{Kind: scheduler.KindDestination, ID: id})
	writeJSON(w, http.StatusOK, envelope{"status": "ok", "message": "destination deleted"})
}

// SyncDestination runs one reverse sync synchronously.
func (h *Handlers) SyncDestination(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dst, err := h.store.GetDestination(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	msg, err := h.sched.SyncDestinationNow(r.Context(), dst)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": "ok", "message": msg})
}

// CheckOverlap reports destinations already pushing into the same CalDAV
// calendar, so the UI can warn before two feeds start overwriting each other.
func (h *Handlers) CheckOverlap(w http.ResponseWriter, r *http.Request) {
	caldavURL := r.URL.Query().Get("caldav_url")
	if caldavURL == "" {
		h.writeError(w, r, &storage.ValidationError{Msg: "caldav_url is required"})
		return
	}
	calendarName := r.URL.Query().Get("calendar_name")

	var excludeID *int64
	if raw := r.URL.Query().Get("exclude_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.writeError(w, r, &storage.ValidationError{Msg: "invalid exclude_id"})
			return
		}
		excludeID = &id
	}

	overlaps, err := h.store.FindOverlappingDestinations(r.Context(), caldavURL, calendarName, excludeID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{
		"status":   "ok",
		"overlaps": overlaps,
		"count":    len(overlaps),
	})
}
