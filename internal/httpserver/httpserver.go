package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/calbridge/calbridge/internal/api"
	"github.com/calbridge/calbridge/internal/auth"
	"github.com/calbridge/calbridge/internal/config"
	"github.com/calbridge/calbridge/internal/router"
	"github.com/calbridge/calbridge/internal/scheduler"
	"github.com/calbridge/calbridge/internal/storage"
	"github.com/calbridge/calbridge/internal/storage/postgres"
	"github.com/calbridge/calbridge/internal/storage/sqlite"
)

type Server struct {
	http   *http.Server
	logger zerolog.Logger
}

// OpenStore builds the configured storage backend. Shared with the admin CLI.
func OpenStore(cfg *config.Config, logger zerolog.Logger) (storage.Store, error) {
	var store storage.Store
	var err error
	switch cfg.Storage.Type {
	case "postgres":
		store, err = postgres.New(cfg.Storage.PostgresURL, logger)
	case "sqlite":
		store, err = sqlite.New(cfg.Storage.SQLitePath, logger)
	default:
		err = errors.New("unknown storage type: " + cfg.Storage.Type)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

func NewServer(cfg *config.Config, logger zerolog.Logger) (*Server, func(), error) {
	store, err := OpenStore(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	authn := auth.New(cfg.Auth, logger)
	sched := scheduler.New(store, logger)
	handlers := api.NewHandlers(store, sched, logger)

	mux, err := router.New(store, handlers, authn, cfg.Server.ProxyURL, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	if err := sched.RegisterAll(context.Background()); err != nil {
		store.Close()
		return nil, nil, err
	}

	srv := &Server{
		http: &http.Server{
			Addr:         cfg.Server.Addr(),
			Handler:      mux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		logger: logger,
	}
	cleanup := func() {
		sched.Shutdown()
		store.Close()
	}
	logger.Info().Msgf("listening on %s (storage=%s)", cfg.Server.Addr(), cfg.Storage.Type)
	return srv, cleanup, nil
}

func (s *Server) Start() error {
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
