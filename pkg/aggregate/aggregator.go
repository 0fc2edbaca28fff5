package aggregate

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/gridstat/pkg/algebra"
	"github.com/ethpandaops/gridstat/pkg/catalog"
	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/observability"
	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/reduce"
	"github.com/ethpandaops/gridstat/pkg/region"
	"github.com/ethpandaops/gridstat/pkg/window"
	"github.com/sirupsen/logrus"
)

// Spec binds an Aggregator to one dataset and region
type Spec struct {
	// Dataset labels logs and metrics; CatalogID is the id queried.
	Dataset          string
	CatalogID        string
	Options          Options
	ResolutionMeters float64
	Statistic        algebra.Statistic
}

// Aggregator fetches, combines and reduces single windows. It is safe for
// concurrent use by window tasks.
type Aggregator struct {
	log     logrus.FieldLogger
	catalog catalog.Catalog
	engine  algebra.Engine
	reducer *reduce.Reducer
	roi     *region.Region
	spec    Spec
}

// NewAggregator creates an aggregator for spec over roi.
func NewAggregator(log logrus.FieldLogger, cat catalog.Catalog, engine algebra.Engine, reducer *reduce.Reducer, roi *region.Region, spec Spec) (*Aggregator, error) {
	if err := spec.Options.Validate(); err != nil {
		return nil, err
	}

	if spec.ResolutionMeters <= 0 {
		return nil, failure.Configuration("resolution must be positive, got %g", spec.ResolutionMeters)
	}

	if roi == nil {
		return nil, failure.Configuration("a region of interest is required")
	}

	if spec.CatalogID == "" {
		spec.CatalogID = spec.Dataset
	}

	return &Aggregator{
		log: log.WithFields(logrus.Fields{
			"component": "aggregator",
			"dataset":   spec.Dataset,
		}),
		catalog: cat,
		engine:  engine,
		reducer: reducer,
		roi:     roi,
		spec:    spec,
	}, nil
}

// Window fetches the frames of w restricted to the region bounds and
// combines them into one frame. A window without frames yields an empty frame.
func (a *Aggregator) Window(ctx context.Context, w window.Window) (*raster.Frame, error) {
	stream, err := a.catalog.Fetch(ctx, catalog.Query{
		Dataset: a.spec.CatalogID,
		Bands:   a.spec.Options.Bands,
		Start:   w.Start,
		End:     w.End,
		Bounds:  a.roi.Bound(),
	})
	if err != nil {
		return nil, classify(a.catalog.Name(), err)
	}
	defer stream.Close() //nolint:errcheck // read-only stream

	counted := &countingSource{src: stream}

	var out *raster.Frame

	err = Each(ctx, a.engine, counted, []window.Window{w}, a.spec.Options, func(res Windowed) error {
		out = res.Frame
		return nil
	})

	observability.RecordFrames(a.spec.Dataset, a.catalog.Name(), counted.n)

	if err != nil {
		return nil, classify(a.catalog.Name(), err)
	}

	a.log.WithFields(logrus.Fields{
		"window":  w.Label,
		"frames":  counted.n,
		"sources": out.Sources(),
	}).Debug("Combined window")

	return out, nil
}

// Observe reduces frame over the region to the observation of w. An empty
// frame gives an observation whose values are all missing.
func (a *Aggregator) Observe(ctx context.Context, w window.Window, frame *raster.Frame) (raster.Observation, error) {
	if frame.Empty() {
		return raster.MissingObservation(w.Start, w.Label, len(a.spec.Options.Bands)), nil
	}

	values, err := a.reducer.Reduce(ctx, frame, a.roi, a.spec.ResolutionMeters, a.spec.Statistic)
	if err != nil {
		return raster.Observation{}, err
	}

	observability.RecordReducedPixels(a.spec.Dataset, algebra.LatticeSize(frame.Grid(), a.roi.Bound(), a.spec.ResolutionMeters)*int64(frame.BandCount()))

	return raster.Observation{
		Label:   w.Label,
		Time:    w.Start.UTC(),
		Values:  values,
		Sources: frame.Sources(),
	}, nil
}

// Bands returns the bands the aggregator reads.
func (a *Aggregator) Bands() []string {
	return a.spec.Options.Bands
}

type countingSource struct {
	src catalog.Stream
	n   int
}

func (c *countingSource) Next(ctx context.Context) (*raster.Frame, error) {
	f, err := c.src.Next(ctx)
	if err == nil {
		c.n++
	}

	return f, err
}

// classify maps catalog errors onto failure kinds. Caller mistakes are
// configuration errors; anything else from the backend is a collaborator
// failure.
func classify(backend string, err error) error {
	switch {
	case errors.Is(err, failure.ErrConfiguration),
		errors.Is(err, failure.ErrCollaboratorUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, catalog.ErrUnknownDataset), errors.Is(err, catalog.ErrInvalidQuery):
		return fmt.Errorf("%w: %w", failure.ErrConfiguration, err)
	default:
		return failure.Collaborator(backend, err)
	}
}
