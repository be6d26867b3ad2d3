package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/calbridge/calbridge/internal/storage"
	"github.com/calbridge/calbridge/pkg/ics"
)

const defaultPreviewDays = 30

// PreviewEvents renders the source's stored blob as structured occurrences
// over the next ?days=N window, recurrences expanded.
func (h *Handlers) PreviewEvents(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.store.GetSource(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	days := defaultPreviewDays
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, r, &storage.ValidationError{Msg: "days must be a positive integer"})
			return
		}
		days = n
	}

	blob, err := h.store.GetICSBlob(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	events, err := ics.ParseCalendar([]byte(blob))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	now := time.Now().UTC()
	occurrences := ics.ExpandRecurrences(events, now, now.AddDate(0, 0, days))
	if occurrences == nil {
		occurrences = []*ics.Event{}
	}
	writeJSON(w, http.StatusOK, envelope{"status": "ok", "events": occurrences, "days": days})
}
