package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"finopstrack/internal/core"
	"finopstrack/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Deps are the collaborators the HTTP API serves. Scheduler and MCP may be nil.
type Deps struct {
	Engine    *core.Engine
	Detector  *core.Detector
	Resetter  *core.Resetter
	Scheduler *core.Scheduler
	Store     *store.Store
	MCP       http.Handler
	Logger    *slog.Logger
	AuthToken string
}

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	engine     *core.Engine
	detector   *core.Detector
	resetter   *core.Resetter
	scheduler  *core.Scheduler
	store      *store.Store
	mcpHandler http.Handler
	logger     *slog.Logger
	authToken  string
}

// NewServer constructs the HTTP API server.
func NewServer(addr string, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	router.Use(requestLogger(logger))

	s := &Server{
		router:     router,
		engine:     deps.Engine,
		detector:   deps.Detector,
		resetter:   deps.Resetter,
		scheduler:  deps.Scheduler,
		store:      deps.Store,
		mcpHandler: deps.MCP,
		logger:     logger,
		authToken:  deps.AuthToken,
	}
	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	if s.mcpHandler != nil {
		var mcpHandler = s.mcpHandler
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", s.handleHealthz)

		r.Group(func(r chi.Router) {
			if s.authToken != "" {
				r.Use(AuthMiddleware(s.authToken))
			}

			r.Get("/summary", s.handleSummary)
			r.Get("/schedule", s.handleSchedule)
			r.Post("/check-sla", s.handleCheckSLA)
			r.Post("/daily-reset", s.handleDailyReset)
			r.Get("/activity-log", s.handleActivityLog)

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", s.handleListTasks)
				r.Post("/", s.handleCreateTask)

				r.Route("/{taskID}", func(r chi.Router) {
					r.Get("/", s.handleGetTask)
					r.Put("/", s.handleUpdateTask)
					r.Delete("/", s.handleDeleteTask)
					r.Post("/run", s.handleRunTask)
					r.Get("/alerts", s.handleListAlerts)
					r.Patch("/subtasks/{subtaskID}", s.handleSetSubtaskStatus)
				})
			})
		})
	})
}
