// Package server provides the HTTP and WebSocket surface of the scanner.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/tapescan/tapescan/internal/config"
	"github.com/tapescan/tapescan/internal/database"
	"github.com/tapescan/tapescan/internal/events"
	"github.com/tapescan/tapescan/internal/metrics"
	"github.com/tapescan/tapescan/internal/publish"
	"github.com/tapescan/tapescan/internal/rete"
	"github.com/tapescan/tapescan/internal/rules"
	"github.com/tapescan/tapescan/internal/scanner"
	"github.com/tapescan/tapescan/internal/store"
)

// ServerConfig holds the dependencies the HTTP surface exposes.
type ServerConfig struct {
	Config    *config.Config
	Log       zerolog.Logger
	Pipeline  *scanner.Pipeline
	Manager   *rete.Manager
	Publisher *publish.Publisher
	Rules     *rules.Repository
	Store     *store.Store
	Bus       *events.Bus
	Metrics   *metrics.Metrics
	Databases map[string]*database.DB
}

// Server owns the router, the listener, and the status monitor.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	cfg       *config.Config
	pipeline  *scanner.Pipeline
	manager   *rete.Manager
	publisher *publish.Publisher
	rules     *rules.Repository
	store     *store.Store
	metrics   *metrics.Metrics

	systemHandlers *SystemHandlers
	statusMonitor  *StatusMonitor
}

// New creates a server with all routes and middleware configured.
func New(cfg ServerConfig) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		cfg:       cfg.Config,
		pipeline:  cfg.Pipeline,
		manager:   cfg.Manager,
		publisher: cfg.Publisher,
		rules:     cfg.Rules,
		store:     cfg.Store,
		metrics:   cfg.Metrics,
	}

	s.systemHandlers = NewSystemHandlers(cfg.Databases, cfg.Log)
	s.statusMonitor = NewStatusMonitor(cfg.Bus, cfg.Pipeline, cfg.Log)

	s.setupMiddleware(cfg.Config.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	// Recovery from panics
	s.router.Use(middleware.Recoverer)

	// Request ID
	s.router.Use(middleware.RequestID)

	// Real IP
	s.router.Use(middleware.RealIP)

	// Logging
	s.router.Use(s.loggingMiddleware)

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Compress responses
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		// The delta stream holds its connection open for the client's
		// lifetime, so it stays outside the request-timeout group.
		r.Get("/stream", s.handleStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/status", s.handleStatus)
			r.Get("/network", s.handleNetwork)
			r.Get("/channels", s.handleChannels)
			r.Get("/matches/{channel}", s.handleMatches)
			r.Get("/system/stats", s.systemHandlers.HandleSystemStats)

			r.Route("/rules", func(r chi.Router) {
				r.Get("/", s.handleListRules)
				r.Post("/", s.handleCreateRule)
				r.Get("/{id}", s.handleGetRule)
				r.Put("/{id}", s.handleUpdateRule)
				r.Delete("/{id}", s.handleDeleteRule)
			})
		})
	})
}

// Start starts the HTTP server and the status monitor.
func (s *Server) Start() error {
	if s.statusMonitor != nil {
		s.statusMonitor.Start(s.cfg.Scan.StatusInterval)
		s.log.Info().Msg("Status monitor started")
	}

	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	if s.statusMonitor != nil {
		s.statusMonitor.Stop()
	}
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"version": "1.0.0",
		"service": "tapescan",
	}

	s.writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]interface{}{"error": message})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
