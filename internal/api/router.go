package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"autocdn/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RunController is the part of core.Controller the API drives.
type RunController interface {
	Start(name string, mode core.Mode) (string, bool)
	Stop() bool
	Snapshot() core.RunState
}

// RunHistory reads recorded runs and their logs.
type RunHistory interface {
	GetRun(ctx context.Context, id string) (*core.RunRecord, error)
	ListRuns(ctx context.Context, configName string, limit, offset int) ([]*core.RunRecord, error)
	RunLogPath(runID string) string
}

// ScheduleInfo reports the next trigger of a scheduled config.
type ScheduleInfo interface {
	Next(name string) (time.Time, bool)
}

// Deps are the collaborators of the HTTP API. Schedule and MCP are optional.
type Deps struct {
	Configs    *core.Configs
	Controller RunController
	Runs       RunHistory
	Logger     *slog.Logger
	Location   *time.Location

	Schedule       ScheduleInfo
	ScheduleCron   string
	ScheduleConfig string

	MCP http.Handler
}

// Server holds the HTTP server state.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	deps       Deps
	logger     *slog.Logger
	location   *time.Location
	authToken  string
}

// NewServer constructs the HTTP API server.
func NewServer(addr string, authToken string, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	location := deps.Location
	if location == nil {
		location = time.Local
	}
	s := &Server{
		router:    router,
		deps:      deps,
		logger:    deps.Logger,
		location:  location,
		authToken: authToken,
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
	if s.deps.MCP != nil {
		var mcpHandler http.Handler = s.deps.MCP
		if s.authToken != "" {
			mcpHandler = AuthMiddleware(s.authToken)(mcpHandler)
		}
		s.router.Handle("/mcp", mcpHandler)
	}

	s.router.Route("/v1", func(r chi.Router) {
		if s.authToken != "" {
			r.Use(AuthMiddleware(s.authToken))
		}

		r.Route("/configs", func(r chi.Router) {
			r.Get("/", s.handleListConfigs)
			r.Post("/", s.handleCreateConfig)

			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", s.handleGetConfig)
				r.Put("/", s.handleSaveConfig)
				r.Delete("/", s.handleDeleteConfig)
			})
		})

		r.Get("/run", s.handleRunState)
		r.Post("/run", s.handleStartRun)
		r.Post("/run/stop", s.handleStopRun)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.handleListRuns)
			r.Get("/{runID}", s.handleGetRun)
			r.Get("/{runID}/log", s.handleRunLog)
		})

		r.Get("/schedule", s.handleSchedule)
		r.Post("/schedule/preview", s.handleSchedulePreview)
	})
}
