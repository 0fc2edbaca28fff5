// Package sink defines where run outputs are written: tabular series and
// summary rasters
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/observability"
	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoName is returned when an export has no destination name
	ErrNoName = errors.New("export name is required")
	// ErrNoSeries is returned when a table export carries no series
	ErrNoSeries = errors.New("table export has no series")
)

// Table is one tabular export of a run
type Table struct {
	RunID string
	// Name is the rendered destination name, e.g. the file stem or table description.
	Name   string
	Series *raster.Series
}

// Validate checks the export is writable.
func (t Table) Validate() error {
	if t.Name == "" {
		return ErrNoName
	}

	if t.Series == nil {
		return ErrNoSeries
	}

	return nil
}

// Raster is one summary raster export of a run
type Raster struct {
	RunID   string
	Name    string
	Summary *raster.Summary
}

// TableSink persists tabular series. Writes are append-only.
type TableSink interface {
	Name() string
	WriteTable(ctx context.Context, t Table) error
}

// RasterSink persists summary rasters.
type RasterSink interface {
	Name() string
	WriteRaster(ctx context.Context, r Raster) error
}

// WriteTable writes t to every sink in order and stops at the first failure.
// Output already written by earlier sinks is kept.
func WriteTable(ctx context.Context, log logrus.FieldLogger, sinks []TableSink, t Table) error {
	if err := t.Validate(); err != nil {
		return failure.Configuration("%v", err)
	}

	for _, s := range sinks {
		if err := s.WriteTable(ctx, t); err != nil {
			observability.RecordSinkWrite(s.Name(), "error", 0)
			return failure.Collaborator(s.Name(), fmt.Errorf("write table %s: %w", t.Name, err))
		}

		observability.RecordSinkWrite(s.Name(), "success", t.Series.Len())

		log.WithFields(logrus.Fields{
			"sink": s.Name(),
			"name": t.Name,
			"rows": t.Series.Len(),
		}).Info("Wrote table")
	}

	return nil
}

// WriteRaster writes r to every sink in order and stops at the first failure.
func WriteRaster(ctx context.Context, log logrus.FieldLogger, sinks []RasterSink, r Raster) error {
	if r.Name == "" {
		return failure.Configuration("%v", ErrNoName)
	}

	for _, s := range sinks {
		if err := s.WriteRaster(ctx, r); err != nil {
			observability.RecordSinkWrite(s.Name(), "error", 0)
			return failure.Collaborator(s.Name(), fmt.Errorf("write raster %s: %w", r.Name, err))
		}

		observability.RecordSinkWrite(s.Name(), "success", 1)

		log.WithFields(logrus.Fields{
			"sink":   s.Name(),
			"name":   r.Name,
			"period": r.Summary.Period,
		}).Info("Wrote raster")
	}

	return nil
}
