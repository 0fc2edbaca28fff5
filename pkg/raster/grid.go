// Package raster holds the immutable frame, observation and summary types
// exchanged between pipeline stages
package raster

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// MetersPerDegree converts a nominal resolution in meters to degrees at the equator.
const MetersPerDegree = 111319.49

var (
	// ErrInvalidGrid is returned when a grid has no pixels or a non-positive pixel size
	ErrInvalidGrid = errors.New("invalid grid")
	// ErrGridMismatch is returned when frames that must share a grid do not
	ErrGridMismatch = errors.New("grid mismatch")
)

// Grid is a north-up geographic (EPSG:4326) pixel grid. Origin is the
// top-left corner; rows run south.
type Grid struct {
	OriginX     float64 `json:"origin_x" yaml:"originX" msgpack:"ox"`
	OriginY     float64 `json:"origin_y" yaml:"originY" msgpack:"oy"`
	PixelWidth  float64 `json:"pixel_width" yaml:"pixelWidth" msgpack:"pw"`
	PixelHeight float64 `json:"pixel_height" yaml:"pixelHeight" msgpack:"ph"`
	Width       int     `json:"width" yaml:"width" msgpack:"w"`
	Height      int     `json:"height" yaml:"height" msgpack:"h"`
}

// Validate checks the grid is usable.
func (g Grid) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("%w: %dx%d pixels", ErrInvalidGrid, g.Width, g.Height)
	}

	if g.PixelWidth <= 0 || g.PixelHeight <= 0 {
		return fmt.Errorf("%w: pixel size %gx%g", ErrInvalidGrid, g.PixelWidth, g.PixelHeight)
	}

	return nil
}

// IsZero reports whether g is the zero grid carried by empty frames.
func (g Grid) IsZero() bool {
	return g == Grid{}
}

// Len returns the number of pixels per band.
func (g Grid) Len() int {
	return g.Width * g.Height
}

// Equal reports whether two grids describe the same pixels.
func (g Grid) Equal(o Grid) bool {
	const eps = 1e-9

	return g.Width == o.Width && g.Height == o.Height &&
		math.Abs(g.OriginX-o.OriginX) < eps && math.Abs(g.OriginY-o.OriginY) < eps &&
		math.Abs(g.PixelWidth-o.PixelWidth) < eps && math.Abs(g.PixelHeight-o.PixelHeight) < eps
}

// Bound returns the geographic extent of the grid.
func (g Grid) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{g.OriginX, g.OriginY - float64(g.Height)*g.PixelHeight},
		Max: orb.Point{g.OriginX + float64(g.Width)*g.PixelWidth, g.OriginY},
	}
}

// Center returns the coordinate of the centre of pixel (col, row).
func (g Grid) Center(col, row int) orb.Point {
	return orb.Point{
		g.OriginX + (float64(col)+0.5)*g.PixelWidth,
		g.OriginY - (float64(row)+0.5)*g.PixelHeight,
	}
}

// Locate returns the pixel containing p.
func (g Grid) Locate(p orb.Point) (col, row int, ok bool) {
	col = int(math.Floor((p.X() - g.OriginX) / g.PixelWidth))
	row = int(math.Floor((g.OriginY - p.Y()) / g.PixelHeight))

	if col < 0 || row < 0 || col >= g.Width || row >= g.Height {
		return 0, 0, false
	}

	return col, row, true
}

// Index returns the row-major offset of (col, row).
func (g Grid) Index(col, row int) int {
	return row*g.Width + col
}

// Window returns the sub-grid of pixels intersecting b and the column/row
// offset of its origin within g. ok is false when b misses the grid.
func (g Grid) Window(b orb.Bound) (sub Grid, col0, row0 int, ok bool) {
	if !g.Bound().Intersects(b) {
		return Grid{}, 0, 0, false
	}

	col0 = clamp(int(math.Floor((b.Min.X()-g.OriginX)/g.PixelWidth)), 0, g.Width-1)
	col1 := clamp(int(math.Ceil((b.Max.X()-g.OriginX)/g.PixelWidth)), col0+1, g.Width)
	row0 = clamp(int(math.Floor((g.OriginY-b.Max.Y())/g.PixelHeight)), 0, g.Height-1)
	row1 := clamp(int(math.Ceil((g.OriginY-b.Min.Y())/g.PixelHeight)), row0+1, g.Height)

	sub = Grid{
		OriginX:     g.OriginX + float64(col0)*g.PixelWidth,
		OriginY:     g.OriginY - float64(row0)*g.PixelHeight,
		PixelWidth:  g.PixelWidth,
		PixelHeight: g.PixelHeight,
		Width:       col1 - col0,
		Height:      row1 - row0,
	}

	return sub, col0, row0, true
}

// Degrees converts a nominal resolution in meters to a pixel size in
// degrees, using the equatorial length of a degree on both axes.
func Degrees(meters float64) float64 {
	return meters / MetersPerDegree
}

// ResolutionMeters returns the nominal north-south pixel size in meters.
func (g Grid) ResolutionMeters() float64 {
	return g.PixelHeight * MetersPerDegree
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}

	if v > hi {
		return hi
	}

	return v
}
