// Package algebra provides the raster-algebra and spatial-reduction engine:
// per-pixel arithmetic, clipping to a region and region-to-scalar reduction
package algebra

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/region"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Statistic is a region reducer
type Statistic string

// Supported statistics
const (
	StatMean  Statistic = "mean"
	StatSum   Statistic = "sum"
	StatMin   Statistic = "min"
	StatMax   Statistic = "max"
	StatCount Statistic = "count"
)

// ParseStatistic parses a statistic name, defaulting to mean when empty.
func ParseStatistic(s string) (Statistic, error) {
	if s == "" {
		return StatMean, nil
	}

	st := Statistic(strings.ToLower(s))
	switch st {
	case StatMean, StatSum, StatMin, StatMax, StatCount:
		return st, nil
	default:
		return "", failure.Configuration("unknown statistic %q", s)
	}
}

// ReduceOptions controls ReduceRegion
type ReduceOptions struct {
	// ResolutionMeters is the sampling interval; it should equal the dataset's native resolution.
	ResolutionMeters float64
	Statistic        Statistic
	// MaxPixels caps the number of samples a single reduction may visit.
	MaxPixels int64
}

// Engine performs raster algebra. Implementations may be local or remote;
// every method returns new frames and never mutates its inputs.
type Engine interface {
	// Sum adds frames per pixel over their valid values.
	Sum(frames []*raster.Frame) (*raster.Frame, error)
	// Scale multiplies every valid pixel by factor.
	Scale(frame *raster.Frame, factor float64) *raster.Frame
	// Mean averages frames per pixel over their valid values.
	Mean(frames []*raster.Frame) (*raster.Frame, error)
	// Clip crops frame to the region bound and masks pixels outside the region.
	Clip(frame *raster.Frame, roi *region.Region) (*raster.Frame, error)
	// Resample returns frame on a grid of the given resolution (nearest neighbour).
	Resample(frame *raster.Frame, resolutionMeters float64) (*raster.Frame, error)
	// ReduceRegion reduces each band over the region to a scalar, NaN when undefined.
	ReduceRegion(ctx context.Context, frame *raster.Frame, roi *region.Region, opts ReduceOptions) ([]float64, error)
}

// latticeEps absorbs rounding when a bound falls on a lattice line.
const latticeEps = 1e-9

// Local is the in-process Engine
type Local struct {
	log logrus.FieldLogger
}

// NewLocal creates an in-process engine.
func NewLocal(log logrus.FieldLogger) *Local {
	return &Local{log: log.WithField("component", "algebra")}
}

// Sum implements Engine.
func (e *Local) Sum(frames []*raster.Frame) (*raster.Frame, error) {
	return e.fold(frames, false)
}

// Mean implements Engine.
func (e *Local) Mean(frames []*raster.Frame) (*raster.Frame, error) {
	return e.fold(frames, true)
}

func (e *Local) fold(frames []*raster.Frame, mean bool) (*raster.Frame, error) {
	if len(frames) == 0 {
		return nil, failure.Configuration("no frames to combine")
	}

	first := frames[0]
	acc := NewAccumulator(first.Bands())

	for _, f := range frames {
		if err := acc.Add(f); err != nil {
			return nil, err
		}
	}

	if mean {
		return acc.Mean(first.Time(), first.Label()), nil
	}

	return acc.Sum(first.Time(), first.Label()), nil
}

// Scale implements Engine.
func (e *Local) Scale(frame *raster.Frame, factor float64) *raster.Frame {
	if frame.Empty() || factor == 1 {
		return frame
	}

	data := make([][]float64, frame.BandCount())
	for i := range data {
		values := slices.Clone(frame.Values(i))
		floats.Scale(factor, values)
		data[i] = values
	}

	return raster.Adopt(frame.Time(), frame.Label(), frame.Grid(), frame.Bands(), data, frame.Sources())
}

// Clip implements Engine.
func (e *Local) Clip(frame *raster.Frame, roi *region.Region) (*raster.Frame, error) {
	if frame.Empty() {
		return frame, nil
	}

	cropped, ok := frame.Crop(roi.Bound())
	if !ok {
		return nil, fmt.Errorf("%w: region %s does not intersect the frame", failure.ErrNoDataAvailable, roi.Name())
	}

	grid := cropped.Grid()

	inside := make([]bool, grid.Len())
	for row := 0; row < grid.Height; row++ {
		for col := 0; col < grid.Width; col++ {
			inside[grid.Index(col, row)] = roi.Contains(grid.Center(col, row))
		}
	}

	data := make([][]float64, cropped.BandCount())
	for b := range data {
		values := slices.Clone(cropped.Values(b))
		for i := range values {
			if !inside[i] {
				values[i] = raster.NoData()
			}
		}

		data[b] = values
	}

	return raster.Adopt(cropped.Time(), cropped.Label(), grid, cropped.Bands(), data, cropped.Sources()), nil
}

// Resample implements Engine.
func (e *Local) Resample(frame *raster.Frame, resolutionMeters float64) (*raster.Frame, error) {
	if frame.Empty() {
		return frame, nil
	}

	if resolutionMeters <= 0 {
		return nil, failure.Configuration("resolution must be positive, got %g", resolutionMeters)
	}

	src := frame.Grid()
	size := raster.Degrees(resolutionMeters)

	if math.Abs(size-src.PixelWidth) < 1e-9*size && math.Abs(size-src.PixelHeight) < 1e-9*size {
		return frame, nil
	}

	bound := src.Bound()
	dst := raster.Grid{
		OriginX:     bound.Min.X(),
		OriginY:     bound.Max.Y(),
		PixelWidth:  size,
		PixelHeight: size,
		Width:       max(1, int(math.Ceil((bound.Max.X()-bound.Min.X())/size-1e-9))),
		Height:      max(1, int(math.Ceil((bound.Max.Y()-bound.Min.Y())/size-1e-9))),
	}

	data := make([][]float64, frame.BandCount())
	for b := range data {
		values := make([]float64, dst.Len())

		for row := 0; row < dst.Height; row++ {
			for col := 0; col < dst.Width; col++ {
				values[dst.Index(col, row)] = frame.Sample(b, dst.Center(col, row))
			}
		}

		data[b] = values
	}

	e.log.WithFields(logrus.Fields{
		"from":   fmt.Sprintf("%dx%d", src.Width, src.Height),
		"to":     fmt.Sprintf("%dx%d", dst.Width, dst.Height),
		"meters": resolutionMeters,
	}).Debug("Resampled frame")

	return raster.Adopt(frame.Time(), frame.Label(), dst, frame.Bands(), data, frame.Sources()), nil
}

// ReduceRegion implements Engine.
//
// The region's bounding box is sampled on a lattice of the requested
// resolution anchored at the frame origin, so at the native resolution every
// sample is a pixel centre. Samples outside the region or on no-data pixels
// are skipped. The sample count is checked against MaxPixels before any
// sampling happens.
func (e *Local) ReduceRegion(ctx context.Context, frame *raster.Frame, roi *region.Region, opts ReduceOptions) ([]float64, error) {
	out := make([]float64, frame.BandCount())
	for i := range out {
		out[i] = raster.NoData()
	}

	if opts.ResolutionMeters <= 0 {
		return nil, failure.Configuration("resolution must be positive, got %g", opts.ResolutionMeters)
	}

	if frame.Empty() {
		return out, nil
	}

	grid := frame.Grid()
	step := raster.Degrees(opts.ResolutionMeters)

	// counted in float64 so very fine resolutions cannot wrap past the cap
	if samples := latticeCount(grid, roi.Bound(), step); opts.MaxPixels > 0 && samples > float64(opts.MaxPixels) {
		return nil, fmt.Errorf("%w: reducing %s at %gm needs %.0f pixels, cap is %d",
			failure.ErrResourceLimitExceeded, roi.Name(), opts.ResolutionMeters, samples, opts.MaxPixels)
	}

	k0, k1, j0, j1 := lattice(grid, roi.Bound(), step)

	values := make([][]float64, frame.BandCount())

	for j := j0; j < j1; j++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		y := grid.OriginY - (float64(j)+0.5)*step

		for k := k0; k < k1; k++ {
			p := orb.Point{grid.OriginX + (float64(k)+0.5)*step, y}
			if !roi.Contains(p) {
				continue
			}

			for band := range values {
				if v := frame.Sample(band, p); !raster.IsNoData(v) {
					values[band] = append(values[band], v)
				}
			}
		}
	}

	for band, vs := range values {
		out[band] = Reduce(vs, opts.Statistic)
	}

	return out, nil
}

// lattice returns the column range [k0, k1) and row range [j0, j1) of the
// sampling lattice of step degrees, anchored at the grid origin, that covers b.
func lattice(grid raster.Grid, b orb.Bound, step float64) (k0, k1, j0, j1 int) {
	k0 = int(math.Floor((b.Min.X()-grid.OriginX)/step + latticeEps))
	k1 = int(math.Ceil((b.Max.X()-grid.OriginX)/step - latticeEps))
	j0 = int(math.Floor((grid.OriginY-b.Max.Y())/step + latticeEps))
	j1 = int(math.Ceil((grid.OriginY-b.Min.Y())/step - latticeEps))

	return k0, k1, j0, j1
}

// LatticeSize returns the number of samples ReduceRegion visits for a
// region bounded by b on grid at resolutionMeters.
func LatticeSize(grid raster.Grid, b orb.Bound, resolutionMeters float64) int64 {
	if resolutionMeters <= 0 {
		return 0
	}

	n := latticeCount(grid, b, raster.Degrees(resolutionMeters))
	if n >= math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(n)
}

// latticeCount returns the sample count of the lattice covering b, at least
// one, without integer overflow.
func latticeCount(grid raster.Grid, b orb.Bound, step float64) float64 {
	nx := math.Ceil((b.Max.X()-grid.OriginX)/step-latticeEps) - math.Floor((b.Min.X()-grid.OriginX)/step+latticeEps)
	ny := math.Ceil((grid.OriginY-b.Min.Y())/step-latticeEps) - math.Floor((grid.OriginY-b.Max.Y())/step+latticeEps)

	return math.Max(1, nx) * math.Max(1, ny)
}

// Reduce applies statistic to values. An empty input is undefined (NaN)
// except for count.
func Reduce(values []float64, statistic Statistic) float64 {
	if statistic == StatCount {
		return float64(len(values))
	}

	if len(values) == 0 {
		return raster.NoData()
	}

	switch statistic {
	case StatSum:
		return floats.Sum(values)
	case StatMin:
		return floats.Min(values)
	case StatMax:
		return floats.Max(values)
	default:
		return stat.Mean(values, nil)
	}
}

var _ Engine = (*Local)(nil)
