package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethpandaops/gridstat/pkg/api/handlers"
	"github.com/ethpandaops/gridstat/pkg/datasets"
	"github.com/ethpandaops/gridstat/pkg/pipeline"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/sirupsen/logrus"
)

// Service defines the API service interface
type Service interface {
	Start(ctx context.Context) error
	Stop() error
}

type service struct {
	app      *fiber.App
	server   *http.Server
	config   *Config
	registry *datasets.Registry
	runner   pipeline.Runner
	log      logrus.FieldLogger
}

// NewService creates a new API service
func NewService(cfg *Config, registry *datasets.Registry, runner pipeline.Runner, log logrus.FieldLogger) Service {
	return &service{
		config:   cfg,
		registry: registry,
		runner:   runner,
		log:      log.WithField("service", "api"),
	}
}

// NewApp builds the fiber app serving the API under /api/v1
func NewApp(cfg *Config, registry *datasets.Registry, runner pipeline.Runner, log logrus.FieldLogger) *fiber.App {
	log = log.WithField("service", "api")

	app := fiber.New(fiber.Config{
		ErrorHandler: newErrorHandler(log),
		AppName:      "gridstat API",
		BodyLimit:    cfg.BodyLimit,
	})

	setupMiddleware(app, log)

	server := handlers.NewServer(registry, runner, cfg.RunTimeout, log)
	server.Register(app.Group("/api/v1"))

	return app
}

// Start initializes and starts the API server
func (s *service) Start(_ context.Context) error {
	if !s.config.Enabled {
		s.log.Info("API service is disabled")
		return nil
	}

	s.app = NewApp(s.config, s.registry, s.runner, s.log)

	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           adaptor.FiberApp(s.app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.log.WithField("addr", s.config.Addr).Info("Starting API server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Server failed to start")
		}
	}()

	return nil
}

// Stop gracefully shuts down the API server
func (s *service) Stop() error {
	if s.server == nil {
		return nil
	}

	s.log.Info("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	return nil
}
