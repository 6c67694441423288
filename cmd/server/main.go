package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"github.com/snowmigrate/snowmigrate-api/internal/config"
	"github.com/snowmigrate/snowmigrate-api/internal/dashboard"
	"github.com/snowmigrate/snowmigrate-api/internal/handlers"
	"github.com/snowmigrate/snowmigrate-api/internal/middleware"
	"github.com/snowmigrate/snowmigrate-api/internal/models"
	"github.com/snowmigrate/snowmigrate-api/internal/notification"
	"github.com/snowmigrate/snowmigrate-api/internal/orchestrator"
	"github.com/snowmigrate/snowmigrate-api/internal/registry"
	"github.com/snowmigrate/snowmigrate-api/internal/routes"
	"github.com/snowmigrate/snowmigrate-api/internal/supervisor"
)

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Connection and staging-area registry.
	store := registry.NewStore(logger)

	// Process launcher: local binary or engine container.
	launcher, err := newLauncher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize process launcher")
	}

	// Resolve descriptor references against the registry and render the
	// engine invocation. Credentials travel in the child environment only.
	buildSpec := func(desc models.JobDescriptor) (supervisor.LaunchSpec, error) {
		src, tgt, creds, err := store.Resolve(desc)
		if err != nil {
			return supervisor.LaunchSpec{}, err
		}
		return supervisor.BuildLaunchSpec(cfg.Engine.Path, desc, src, tgt, creds), nil
	}

	notifications := notification.NewService(logger)

	orch := orchestrator.New(orchestrator.Config{
		MaxConcurrent:     cfg.Orchestrator.MaxConcurrent,
		StallTimeout:      cfg.Orchestrator.StallTimeout,
		LaunchTimeout:     cfg.Orchestrator.LaunchTimeout,
		LogBufferCapacity: cfg.Orchestrator.LogBufferCapacity,
		ArchiveRetention:  cfg.Orchestrator.ArchiveRetention,
	}, launcher, buildSpec, notifications, logger)

	aggCtx, aggCancel := context.WithCancel(context.Background())
	defer aggCancel()
	agg := dashboard.NewAggregator(orch, cfg.Orchestrator.PollInterval, logger)
	go agg.Run(aggCtx)

	// Handlers
	jobHandler := handlers.NewJobHandler(orch, logger)
	connHandler := handlers.NewConnectionHandler(store, logger)
	statsHandler := handlers.NewStatsHandler(agg, logger)
	eventsHandler := handlers.NewEventsHandler(notifications, logger)

	router := routes.NewRouter(jobHandler, connHandler, statsHandler, eventsHandler, cfg.JWTSecret)
	loggedRouter := middleware.Logging(logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	startServer(corsHandler, orch, logger, cfg.ServerPort)

	logger.Info().Msg("Application terminated.")
}

func newLauncher(cfg *config.Config, logger zerolog.Logger) (supervisor.Launcher, error) {
	if cfg.Engine.Launcher == "docker" {
		return supervisor.NewDockerLauncher(
			cfg.Engine.Image,
			cfg.Engine.ContainerCPULimit,
			cfg.Engine.ContainerMemoryLimit,
			cfg.Engine.TerminateGrace,
			logger,
		)
	}
	return supervisor.NewExecLauncher(cfg.Engine.TerminateGrace, logger), nil
}

// startServer launches the HTTP server and handles graceful shutdown.
func startServer(handler http.Handler, orch *orchestrator.Orchestrator, logger zerolog.Logger, port string) {
	server := &http.Server{
		Addr:    ":" + port,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Terminate whatever is still running before exiting.
	logger.Info().Msg("Stopping orchestrator...")
	orchCtx, orchCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer orchCancel()
	if err := orch.Shutdown(orchCtx); err != nil {
		logger.Error().Err(err).Msg("Orchestrator shutdown error")
	} else {
		logger.Info().Msg("Orchestrator stopped.")
	}
}
