// Package reduce computes regional statistics of a frame
package reduce

import (
	"context"
	"errors"

	"github.com/ethpandaops/gridstat/pkg/algebra"
	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/region"
	"github.com/sirupsen/logrus"
)

// DefaultMaxPixels matches the largest reduction the hosted engine accepted.
const DefaultMaxPixels int64 = 1e13

var (
	// ErrInvalidMaxPixels is returned when the pixel cap is negative
	ErrInvalidMaxPixels = errors.New("maxPixels must not be negative")
)

// Config controls the reducer
type Config struct {
	MaxPixels int64  `yaml:"maxPixels" default:"10000000000000"`
	Statistic string `yaml:"statistic" default:"mean"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.MaxPixels < 0 {
		return ErrInvalidMaxPixels
	}

	_, err := algebra.ParseStatistic(c.Statistic)

	return err
}

// Reducer reduces frames over a region to one value per band.
type Reducer struct {
	log       logrus.FieldLogger
	engine    algebra.Engine
	maxPixels int64
	statistic algebra.Statistic
}

// New creates a reducer backed by engine.
func New(log logrus.FieldLogger, engine algebra.Engine, cfg Config) (*Reducer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	statistic, _ := algebra.ParseStatistic(cfg.Statistic) //nolint:errcheck // validated above

	maxPixels := cfg.MaxPixels
	if maxPixels == 0 {
		maxPixels = DefaultMaxPixels
	}

	return &Reducer{
		log:       log.WithField("component", "reducer"),
		engine:    engine,
		maxPixels: maxPixels,
		statistic: statistic,
	}, nil
}

// Statistic returns the statistic used when Reduce is called without one.
func (r *Reducer) Statistic() algebra.Statistic {
	return r.statistic
}

// Reduce returns statistic of every band of frame over roi, sampled at
// resolutionMeters. A band with no valid sample yields NaN. An empty
// statistic uses the reducer default.
func (r *Reducer) Reduce(ctx context.Context, frame *raster.Frame, roi *region.Region, resolutionMeters float64, statistic algebra.Statistic) ([]float64, error) {
	if statistic == "" {
		statistic = r.statistic
	}

	values, err := r.engine.ReduceRegion(ctx, frame, roi, algebra.ReduceOptions{
		ResolutionMeters: resolutionMeters,
		Statistic:        statistic,
		MaxPixels:        r.maxPixels,
	})
	if err != nil {
		if errors.Is(err, failure.ErrResourceLimitExceeded) {
			r.log.WithFields(logrus.Fields{
				"label":      frame.Label(),
				"resolution": resolutionMeters,
				"max_pixels": r.maxPixels,
			}).Warn("Regional reduction exceeds pixel cap")
		}

		return nil, err
	}

	return values, nil
}
