// Package router wires the HTTP surface: the JSON API, the ICS serving
// routes, Prometheus metrics, and the fallback proxy to the front-end UI.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/calbridge/calbridge/internal/api"
	"github.com/calbridge/calbridge/internal/auth"
	"github.com/calbridge/calbridge/internal/cache"
	"github.com/calbridge/calbridge/internal/storage"
)

const publicCacheTTL = 30 * time.Second

func New(store storage.Store, h *api.Handlers, authn *auth.Authenticator, proxyURL string, logger zerolog.Logger) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(requestLogger(logger))

	ics := &icsHandler{
		store:  store,
		authn:  authn,
		cache:  cache.New[string, string](publicCacheTTL),
		logger: logger,
	}

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(pub chi.Router) {
		pub.Get("/health", h.Health)

		pub.Group(func(priv chi.Router) {
			priv.Use(authn.Middleware)

			priv.Get("/health/detailed", h.HealthDetailed)

			priv.Route("/sources", func(s chi.Router) {
				s.Get("/", h.ListSources)
				s.Post("/", h.CreateSource)
				s.Put("/{id}", h.UpdateSource)
				s.Delete("/{id}", h.DeleteSource)
				s.Post("/{id}/sync", h.SyncSource)
				s.Get("/{id}/status", h.SourceStatus)
				s.Get("/{id}/events", h.PreviewEvents)

				s.Route("/{id}/paths", func(p chi.Router) {
					p.Get("/", h.ListSourcePaths)
					p.Post("/", h.CreateSourcePath)
					p.Put("/{pid}", h.UpdateSourcePath)
					p.Delete("/{pid}", h.DeleteSourcePath)
				})
			})

			priv.Route("/destinations", func(d chi.Router) {
				d.Get("/", h.ListDestinations)
				d.Post("/", h.CreateDestination)
				d.Get("/check-overlap", h.CheckOverlap)
				d.Put("/{id}", h.UpdateDestination)
				d.Delete("/{id}", h.DeleteDestination)
				d.Post("/{id}/sync", h.SyncDestination)
			})
		})
	})

	r.Get("/ics/public/*", ics.servePublic)
	r.Get("/ics/*", ics.serve)

	proxy, err := newUIProxy(proxyURL, logger)
	if err != nil {
		return nil, err
	}
	if proxy != nil {
		r.NotFound(proxy.ServeHTTP)
	}

	return r, nil
}
