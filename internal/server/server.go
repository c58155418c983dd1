// Package server exposes items, pipeline reports and reputation over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/ppiankov/kurral/internal/metrics"
	"github.com/ppiankov/kurral/internal/model"
	"github.com/ppiankov/kurral/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Server is the Kurral HTTP API
type Server struct {
	store       store.Store
	cfg         model.ServerConfig
	failureMode string
	log         zerolog.Logger
	router      chi.Router
}

// New creates a server over st
func New(st store.Store, cfg model.Config, log zerolog.Logger) *Server {
	s := &Server{
		store:       st,
		cfg:         cfg.Server,
		failureMode: cfg.Pipeline.PreCheckFailureMode,
		log:         log.With().Str("component", "server").Logger(),
	}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(s.recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/items", s.handleCreateItem)
		r.Route("/items/{id}", func(r chi.Router) {
			r.Get("/", s.handleReport)
			r.Delete("/", s.handleDeleteItem)
			r.Get("/claims", s.handleClaims)
			r.Get("/factchecks", s.handleFactChecks)
			r.Get("/value", s.handleValue)
			r.Post("/reprocess", s.handleReprocess)
		})
		r.Get("/users/{id}/kurral", s.handleKurral)
		r.Get("/users/{id}/value-stats", s.handleValueStats)
		r.Get("/review", s.handleReview)
	})

	return r
}

// Handler returns the routed API handler
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Addr).Msg("api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.log.Info().Msg("shutting down api")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
