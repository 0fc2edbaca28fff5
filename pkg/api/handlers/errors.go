package handlers

import (
	"errors"

	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/gofiber/fiber/v3"
)

// ErrDatasetNotFound is returned when a dataset is not registered
var ErrDatasetNotFound = fiber.NewError(fiber.StatusNotFound, "dataset not found")

// ErrInvalidRegion is returned when the request body is not a usable GeoJSON region
var ErrInvalidRegion = fiber.NewError(fiber.StatusBadRequest, "invalid region, expected a GeoJSON polygon, feature or feature collection")

// ErrInvalidRange is returned when start or end is not a YYYY-MM-DD date
var ErrInvalidRange = fiber.NewError(fiber.StatusBadRequest, "invalid range, expected start and end as YYYY-MM-DD")

// runError maps a failed run to an HTTP error by failure kind.
func runError(err error) *fiber.Error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return fiberErr
	}

	code := fiber.StatusInternalServerError

	switch failure.Kind(err) {
	case failure.KindConfiguration:
		code = fiber.StatusBadRequest
	case failure.KindResourceLimit:
		code = fiber.StatusUnprocessableEntity
	case failure.KindNoData:
		code = fiber.StatusNotFound
	case failure.KindCollaborator:
		code = fiber.StatusBadGateway
	case failure.KindCanceled:
		code = fiber.StatusServiceUnavailable
	}

	return fiber.NewError(code, err.Error())
}
