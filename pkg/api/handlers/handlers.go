// Package handlers implements the request handlers for the gridstat API.
package handlers

import (
	"time"

	"github.com/ethpandaops/gridstat/pkg/datasets"
	"github.com/ethpandaops/gridstat/pkg/pipeline"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

// Server serves the dataset registry and starts runs on request
type Server struct {
	registry *datasets.Registry
	runner   pipeline.Runner
	log      logrus.FieldLogger

	// runTimeout bounds a requested run; zero leaves it to the client
	runTimeout time.Duration
}

// NewServer creates a new API server instance
func NewServer(registry *datasets.Registry, runner pipeline.Runner, runTimeout time.Duration, log logrus.FieldLogger) *Server {
	return &Server{
		registry:   registry,
		runner:     runner,
		runTimeout: runTimeout,
		log:        log.WithField("component", "api.handlers"),
	}
}

// Register mounts every handler on router
func (s *Server) Register(router fiber.Router) {
	router.Get("/datasets", s.ListDatasets)
	router.Get("/datasets/:id", s.GetDataset)
	router.Post("/datasets/:id/runs", s.CreateRun)
}
