package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/kozaktomas/pixpursuit/internal/auth"
	"github.com/kozaktomas/pixpursuit/internal/constants"
	"github.com/kozaktomas/pixpursuit/internal/database"
	"github.com/kozaktomas/pixpursuit/internal/logging"
	"github.com/kozaktomas/pixpursuit/internal/sources"
	"github.com/kozaktomas/pixpursuit/internal/tasks"
	"github.com/kozaktomas/pixpursuit/internal/web/handlers"
	"github.com/kozaktomas/pixpursuit/internal/web/middleware"
	"github.com/rs/zerolog"
)

// Deps are the services the API is built on.
type Deps struct {
	Catalog    database.Catalog
	Auth       *auth.Service
	Ingester   sources.Ingester
	Library    handlers.Deleter
	Index      *database.FeatureIndex
	Dispatcher tasks.Dispatcher
	Trainer    handlers.Trainer
	Faces      handlers.FaceNamer
	Zip        handlers.ZipImporter
	Scraper    handlers.Scraper
	SharePoint bool
}

// Server represents the web server
type Server struct {
	deps       Deps
	router     *chi.Mux
	httpServer *http.Server
	log        zerolog.Logger
}

// NewServer creates a new web server. allowedOrigins is the comma separated
// CORS allow list; localhost origins are always allowed.
func NewServer(deps Deps, port int, host, allowedOrigins string) *Server {
	r := chi.NewRouter()

	s := &Server{
		deps:   deps,
		router: r,
		log:    logging.Component("web"),
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(s.log))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(constants.RequestTimeout))
	r.Use(middleware.CORS(middleware.ParseOrigins(allowedOrigins)))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: constants.RequestTimeout, // uploads of large batches
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
