package handlers

import (
	"errors"

	"github.com/ethpandaops/gridstat/pkg/datasets"
	"github.com/gofiber/fiber/v3"
)

// ListDatasetsResponse is the body of GET /api/v1/datasets
type ListDatasetsResponse struct {
	Datasets []datasets.Config `json:"datasets"`
	Total    int               `json:"total"`
}

// ListDatasets returns every registered dataset
// GET /api/v1/datasets
func (s *Server) ListDatasets(c fiber.Ctx) error {
	list := s.registry.List()

	return c.JSON(ListDatasetsResponse{
		Datasets: list,
		Total:    len(list),
	})
}

// GetDataset returns one dataset
// GET /api/v1/datasets/:id
func (s *Server) GetDataset(c fiber.Ctx) error {
	cfg, err := s.dataset(c.Params("id"))
	if err != nil {
		return err
	}

	return c.JSON(cfg)
}

func (s *Server) dataset(id string) (datasets.Config, error) {
	cfg, err := s.registry.Get(id)
	if errors.Is(err, datasets.ErrUnknownDataset) {
		return datasets.Config{}, ErrDatasetNotFound
	}

	return cfg, err
}
