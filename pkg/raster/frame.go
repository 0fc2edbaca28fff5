package raster

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/paulmach/orb"
)

var (
	// ErrUnknownBand is returned when a requested band is not in the frame
	ErrUnknownBand = errors.New("unknown band")
	// ErrBandShape is returned when band data does not match the grid
	ErrBandShape = errors.New("band data does not match grid")
)

// NoData is the in-memory marker for a pixel without a valid sample.
func NoData() float64 {
	return math.NaN()
}

// IsNoData reports whether v marks a missing pixel or statistic.
func IsNoData(v float64) bool {
	return math.IsNaN(v)
}

// Frame is an immutable multi-band raster tagged with a time and label.
//
// A frame with Sources == 0 and a zero grid is an empty frame: the window it
// represents had no contributing catalog frames. It is distinct from a frame
// whose pixels are valid zeros.
type Frame struct {
	time    time.Time
	label   string
	grid    Grid
	bands   []string
	data    [][]float64
	sources int
}

// NewFrame builds a frame, copying the band data. data[i] holds band i in
// row-major order.
func NewFrame(t time.Time, label string, grid Grid, bands []string, data [][]float64) (*Frame, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}

	if len(bands) == 0 || len(bands) != len(data) {
		return nil, fmt.Errorf("%w: %d bands, %d data slices", ErrBandShape, len(bands), len(data))
	}

	copied := make([][]float64, len(data))
	for i, values := range data {
		if len(values) != grid.Len() {
			return nil, fmt.Errorf("%w: band %s has %d values, grid has %d pixels", ErrBandShape, bands[i], len(values), grid.Len())
		}

		copied[i] = slices.Clone(values)
	}

	return &Frame{
		time:    t.UTC(),
		label:   label,
		grid:    grid,
		bands:   slices.Clone(bands),
		data:    copied,
		sources: 1,
	}, nil
}

// Uniform builds a frame whose every pixel in every band equals value.
func Uniform(t time.Time, label string, grid Grid, bands []string, value float64) (*Frame, error) {
	data := make([][]float64, len(bands))
	for i := range data {
		data[i] = filled(grid.Len(), value)
	}

	return NewFrame(t, label, grid, bands, data)
}

// EmptyFrame returns the frame of a window with no contributing catalog frames.
func EmptyFrame(t time.Time, label string, bands []string) *Frame {
	return &Frame{time: t.UTC(), label: label, bands: slices.Clone(bands)}
}

// Adopt wraps data without copying it. The caller hands over ownership of
// data and must not modify it afterwards.
func Adopt(t time.Time, label string, grid Grid, bands []string, data [][]float64, sources int) *Frame {
	return &Frame{time: t.UTC(), label: label, grid: grid, bands: bands, data: data, sources: sources}
}

// Time returns the validity time of the frame.
func (f *Frame) Time() time.Time { return f.time }

// Label returns the window or period label.
func (f *Frame) Label() string { return f.label }

// Grid returns the pixel grid.
func (f *Frame) Grid() Grid { return f.grid }

// Bands returns a copy of the band names.
func (f *Frame) Bands() []string { return slices.Clone(f.bands) }

// BandCount returns the number of bands.
func (f *Frame) BandCount() int { return len(f.bands) }

// Sources returns how many catalog frames contributed to this frame.
func (f *Frame) Sources() int { return f.sources }

// Empty reports whether no catalog frame contributed.
func (f *Frame) Empty() bool { return f.sources == 0 || f.data == nil }

// BandIndex returns the position of band name.
func (f *Frame) BandIndex(name string) (int, error) {
	idx := slices.Index(f.bands, name)
	if idx < 0 {
		return 0, fmt.Errorf("%w: %s (have %v)", ErrUnknownBand, name, f.bands)
	}

	return idx, nil
}

// Values returns band i. The slice is shared and must not be modified.
func (f *Frame) Values(i int) []float64 {
	if f.Empty() {
		return nil
	}

	return f.data[i]
}

// At returns the value of band i at (col, row).
func (f *Frame) At(i, col, row int) float64 {
	if f.Empty() {
		return NoData()
	}

	return f.data[i][f.grid.Index(col, row)]
}

// Sample returns the value of band i at point p, NoData when p is off the grid.
func (f *Frame) Sample(i int, p orb.Point) float64 {
	if f.Empty() {
		return NoData()
	}

	col, row, ok := f.grid.Locate(p)
	if !ok {
		return NoData()
	}

	return f.data[i][f.grid.Index(col, row)]
}

// Relabel returns a frame sharing pixel data with a new time and label.
func (f *Frame) Relabel(t time.Time, label string) *Frame {
	out := *f
	out.time = t.UTC()
	out.label = label

	return &out
}

// WithSources returns a frame sharing pixel data with a new source count.
func (f *Frame) WithSources(n int) *Frame {
	out := *f
	out.sources = n

	return &out
}

// Select returns a frame holding only the named bands, in that order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	if len(names) == 0 {
		return f, nil
	}

	out := *f
	out.bands = make([]string, 0, len(names))

	if !f.Empty() {
		out.data = make([][]float64, 0, len(names))
	}

	for _, name := range names {
		idx, err := f.BandIndex(name)
		if err != nil {
			return nil, err
		}

		out.bands = append(out.bands, name)
		if !f.Empty() {
			out.data = append(out.data, f.data[idx])
		}
	}

	return &out, nil
}

// Crop returns the part of the frame intersecting b. ok is false when the
// frame lies entirely outside b.
func (f *Frame) Crop(b orb.Bound) (*Frame, bool) {
	if f.Empty() {
		return f, true
	}

	sub, col0, row0, ok := f.grid.Window(b)
	if !ok {
		return nil, false
	}

	if sub.Equal(f.grid) {
		return f, true
	}

	data := make([][]float64, len(f.data))
	for i, band := range f.data {
		values := make([]float64, 0, sub.Len())
		for row := 0; row < sub.Height; row++ {
			start := f.grid.Index(col0, row0+row)
			values = append(values, band[start:start+sub.Width]...)
		}

		data[i] = values
	}

	return Adopt(f.time, f.label, sub, f.bands, data, f.sources), true
}

// ValidCount returns the number of valid pixels in band i.
func (f *Frame) ValidCount(i int) int {
	n := 0

	for _, v := range f.Values(i) {
		if !IsNoData(v) {
			n++
		}
	}

	return n
}

func filled(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}

	return out
}
