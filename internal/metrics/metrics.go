// Package metrics holds the Prometheus instruments exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRuns counts completed sync attempts by kind (source|destination)
	// and result (ok|error).
	SyncRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "calbridge_sync_runs_total",
		Help: "Completed sync runs by kind and result.",
	}, []string{"kind", "result"})

	EventsUploaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calbridge_events_uploaded_total",
		Help: "VEVENT groups uploaded to CalDAV by reverse sync.",
	})

	EventsDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "calbridge_events_deleted_total",
		Help: "Orphaned events deleted from CalDAV by reverse sync.",
	})
)
