package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/me/blocksched/internal/config"
	"github.com/me/blocksched/internal/profiler"
	"github.com/me/blocksched/internal/scheduler"
	"github.com/me/blocksched/internal/store"
)

// Server is the debugger REST API over a running scheduler loop.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	config    config.SchedulerConfig
	startTime time.Time
	loop      *scheduler.Loop
	store     store.Store        // optional; run history
	profiler  *profiler.Profiler // optional; /profile
	sseEvery  time.Duration
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithStore enables the run history endpoints.
func WithStore(st store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// WithProfiler exposes the profiler's report.
func WithProfiler(p *profiler.Profiler) Option {
	return func(s *Server) {
		s.profiler = p
	}
}

// WithSSEInterval sets how often the thread stream polls for changes.
func WithSSEInterval(d time.Duration) Option {
	return func(s *Server) {
		s.sseEvery = d
	}
}

// New creates a new Server with all routes registered.
func New(cfg config.SchedulerConfig, loop *scheduler.Loop, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		config:    cfg,
		startTime: time.Now(),
		loop:      loop,
		sseEvery:  250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// StartScheduler begins the tick loop in a background goroutine.
func (s *Server) StartScheduler(ctx context.Context) {
	go func() {
		if err := s.loop.Start(ctx); err != nil && err != context.Canceled {
			s.logger.Error("scheduler stopped", "error", err)
		}
	}()
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.handleDiscovery)
		r.Get("/health", s.handleHealth)

		r.Get("/threads", s.handleListThreads)
		r.Put("/turbo", s.handleSetTurbo)
		r.Get("/profile", s.handleProfile)

		r.Route("/debug", func(r chi.Router) {
			r.Get("/", s.handleDebugState)
			r.Post("/pause", s.handlePause)
			r.Post("/step", s.handleStep)
			r.Post("/resume", s.handleResume)
			r.Put("/breakpoints", s.handleSetBreakpoints)
		})

		r.Route("/runs/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Get("/retired", s.handleListRetired)
		})

		r.Route("/sse", func(r chi.Router) {
			r.Get("/threads", s.handleSSEThreads)
		})
	})
}
