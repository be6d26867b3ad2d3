package api

import (
	"net/http"
	"time"
)

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{"status": "ok"})
}

func (h *Handlers) HealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storageStatus := "ok"
	if err := h.store.Ping(ctx); err != nil {
		storageStatus = "error"
	}
	sources, _ := h.store.CountSources(ctx)
	destinations, _ := h.store.CountDestinations(ctx)

	writeJSON(w, http.StatusOK, envelope{
		"status":          "ok",
		"uptime_secs":     int64(time.Since(h.started).Seconds()),
		"storage":         storageStatus,
		"sources":         sources,
		"destinations":    destinations,
		"scheduled_tasks": len(h.sched.Tasks()),
	})
}
