package algebra

import (
	"fmt"
	"slices"
	"time"

	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/raster"
)

// Accumulator keeps a per-pixel running sum and valid count for every band.
// Pixels that are no-data in a frame add nothing to either. Accumulators are
// not safe for concurrent use; partial accumulators are combined with Merge,
// which is associative and commutative.
type Accumulator struct {
	bands   []string
	grid    raster.Grid
	sum     [][]float64
	count   [][]int32
	frames  int
	sources int
}

// NewAccumulator returns an accumulator for frames carrying bands.
func NewAccumulator(bands []string) *Accumulator {
	return &Accumulator{bands: slices.Clone(bands)}
}

// Frames returns the number of non-empty frames added.
func (a *Accumulator) Frames() int { return a.frames }

// Sources returns the total source count of the frames added.
func (a *Accumulator) Sources() int { return a.sources }

// Grid returns the grid of the accumulated frames, zero until one is added.
func (a *Accumulator) Grid() raster.Grid { return a.grid }

func (a *Accumulator) init(grid raster.Grid) {
	a.grid = grid
	a.sum = make([][]float64, len(a.bands))
	a.count = make([][]int32, len(a.bands))

	for i := range a.bands {
		a.sum[i] = make([]float64, grid.Len())
		a.count[i] = make([]int32, grid.Len())
	}
}

func (a *Accumulator) compatible(grid raster.Grid, bands []string) error {
	if !slices.Equal(a.bands, bands) {
		return failure.Configuration("band mismatch: accumulating %v, got %v", a.bands, bands)
	}

	if a.frames > 0 && !a.grid.Equal(grid) {
		return fmt.Errorf("%w: %w: %+v vs %+v", failure.ErrConfiguration, raster.ErrGridMismatch, a.grid, grid)
	}

	return nil
}

// Add accumulates f. Empty frames are ignored.
func (a *Accumulator) Add(f *raster.Frame) error {
	if f.Empty() {
		return nil
	}

	if err := a.compatible(f.Grid(), f.Bands()); err != nil {
		return err
	}

	if a.frames == 0 {
		a.init(f.Grid())
	}

	for b := range a.bands {
		sum, count := a.sum[b], a.count[b]

		for i, v := range f.Values(b) {
			if raster.IsNoData(v) {
				continue
			}

			sum[i] += v
			count[i]++
		}
	}

	a.frames++
	a.sources += f.Sources()

	return nil
}

// Merge folds other into a.
func (a *Accumulator) Merge(other *Accumulator) error {
	if other == nil || other.frames == 0 {
		return nil
	}

	if err := a.compatible(other.grid, other.bands); err != nil {
		return err
	}

	if a.frames == 0 {
		a.init(other.grid)
	}

	for b := range a.bands {
		for i := range a.sum[b] {
			a.sum[b][i] += other.sum[b][i]
			a.count[b][i] += other.count[b][i]
		}
	}

	a.frames += other.frames
	a.sources += other.sources

	return nil
}

// Sum returns the per-pixel sum. Pixels with no valid contribution are no-data.
func (a *Accumulator) Sum(t time.Time, label string) *raster.Frame {
	return a.finish(t, label, false)
}

// Mean returns the per-pixel mean over the valid contributions only.
func (a *Accumulator) Mean(t time.Time, label string) *raster.Frame {
	return a.finish(t, label, true)
}

func (a *Accumulator) finish(t time.Time, label string, mean bool) *raster.Frame {
	if a.frames == 0 {
		return raster.EmptyFrame(t, label, a.bands)
	}

	data := make([][]float64, len(a.bands))

	for b := range a.bands {
		out := make([]float64, a.grid.Len())

		for i := range out {
			switch n := a.count[b][i]; {
			case n == 0:
				out[i] = raster.NoData()
			case mean:
				out[i] = a.sum[b][i] / float64(n)
			default:
				out[i] = a.sum[b][i]
			}
		}

		data[b] = out
	}

	return raster.Adopt(t, label, a.grid, slices.Clone(a.bands), data, a.sources)
}
