package api

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/quillml/distill/pkg/results"
)

// Server is the API server for browsing persisted runs.
type Server struct {
	config Config
	store  *results.Store
	logger *slog.Logger
	app    *fiber.App
}

// NewServer creates a new API server.
// The store is injected to allow sharing with the commands that write it.
func NewServer(config Config, store *results.Store, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	s := &Server{
		config: config,
		store:  store,
		logger: logger,
		app:    app,
	}

	app.Get("/ping", s.handlePing)
	app.Get("/v1/runs", s.handleListRuns)
	app.Get("/v1/runs/:id", s.handleGetRun)
	app.Get("/v1/runs/:id/metrics", s.handleRunMetrics)

	return s
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
