// Package server provides the status API that runs next to the scheduler.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/instrument-sync/internal/domain"
	"github.com/aristath/instrument-sync/internal/scheduler"
	"github.com/aristath/instrument-sync/internal/storage"
)

// RunStore reads recorded runs and table sizes
type RunStore interface {
	GetRun(ctx context.Context, id string) (domain.RunRecord, error)
	RecentRuns(ctx context.Context, limit int) ([]domain.RunRecord, error)
	Counts(ctx context.Context) (storage.Counts, error)
}

// RunController starts runs and reports whether one is executing
type RunController interface {
	Run(ctx context.Context, trigger scheduler.Trigger) error
	InFlight() bool
}

// ScheduleInfo describes the recurring trigger
type ScheduleInfo interface {
	Next() time.Time
	Schedule() string
}

// Config holds server configuration
type Config struct {
	Log      zerolog.Logger
	Store    RunStore
	Runner   RunController
	Schedule ScheduleInfo // May be nil
	Port     int
	DevMode  bool
}

// Server represents the HTTP server
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	store     RunStore
	runner    RunController
	schedule  ScheduleInfo
	port      int
	startedAt time.Time
	runCtx    context.Context
	cancel    context.CancelFunc
	runs      sync.WaitGroup // Runs started through POST /api/runs
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	runCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		store:     cfg.Store,
		runner:    cfg.Runner,
		schedule:  cfg.Schedule,
		port:      cfg.Port,
		startedAt: time.Now(),
		runCtx:    runCtx,
		cancel:    cancel,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
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

	// Timeout
	s.router.Use(middleware.Timeout(30 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)
		r.Post("/", s.handleTriggerRun)
		r.Get("/{id}", s.handleGetRun)
	})
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server. Runs started through the API
// are cancelled and waited for, bounded by ctx, so the caller may release the
// store once it returns nil.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	s.cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	// No handler is active past server.Shutdown, so runs.Add cannot race Wait
	done := make(chan struct{})
	go func() {
		s.runs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for triggered run: %w", ctx.Err())
	}
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
