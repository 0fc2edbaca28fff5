// Package region loads and queries the region of interest
package region

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

var (
	// ErrUnsupportedGeometry is returned for geometries other than (multi)polygons
	ErrUnsupportedGeometry = errors.New("region must be a Polygon or MultiPolygon")
	// ErrEmptyRegion is returned when a document holds no polygon
	ErrEmptyRegion = errors.New("region has no polygons")
)

// Region is a polygonal area of interest. It is read-only once built.
type Region struct {
	name    string
	polys   orb.MultiPolygon
	bound   orb.Bound
	areaKm2 float64
}

// New builds a region from a Polygon or MultiPolygon.
func New(name string, g orb.Geometry) (*Region, error) {
	var mp orb.MultiPolygon

	switch v := g.(type) {
	case orb.Polygon:
		mp = orb.MultiPolygon{v}
	case orb.MultiPolygon:
		mp = v
	case orb.Bound:
		mp = orb.MultiPolygon{v.ToPolygon()}
	default:
		if g == nil {
			return nil, ErrEmptyRegion
		}

		return nil, fmt.Errorf("%w: got %s", ErrUnsupportedGeometry, g.GeoJSONType())
	}

	if len(mp) == 0 {
		return nil, ErrEmptyRegion
	}

	return &Region{
		name:    name,
		polys:   mp,
		bound:   mp.Bound(),
		areaKm2: geo.Area(mp) / 1e6,
	}, nil
}

// FromBound builds a rectangular region.
func FromBound(name string, b orb.Bound) *Region {
	r, _ := New(name, b) //nolint:errcheck // a bound always converts to a polygon

	return r
}

// Parse reads a region from a GeoJSON geometry, feature or feature
// collection. Polygons from every feature are merged.
func Parse(name string, data []byte) (*Region, error) {
	var head struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse region %s: %w", name, err)
	}

	var geometries []orb.Geometry

	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse region %s: %w", name, err)
		}

		for _, f := range fc.Features {
			geometries = append(geometries, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse region %s: %w", name, err)
		}

		geometries = append(geometries, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return nil, fmt.Errorf("failed to parse region %s: %w", name, err)
		}

		geometries = append(geometries, g.Geometry())
	}

	var merged orb.MultiPolygon

	for _, g := range geometries {
		switch v := g.(type) {
		case orb.Polygon:
			merged = append(merged, v)
		case orb.MultiPolygon:
			merged = append(merged, v...)
		case nil:
			continue
		default:
			return nil, fmt.Errorf("%w: got %s in %s", ErrUnsupportedGeometry, g.GeoJSONType(), name)
		}
	}

	return New(name, merged)
}

// Load reads a GeoJSON region from disk.
func Load(path string) (*Region, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-provided region path
	if err != nil {
		return nil, fmt.Errorf("failed to read region: %w", err)
	}

	return Parse(path, data)
}

// Name returns the region name (file path or caller label).
func (r *Region) Name() string { return r.name }

// Bound returns the bounding box of the region.
func (r *Region) Bound() orb.Bound { return r.bound }

// AreaKm2 returns the spherical area of the region in square kilometres.
func (r *Region) AreaKm2() float64 { return r.areaKm2 }

// Geometry returns the region as a MultiPolygon. It must not be modified.
func (r *Region) Geometry() orb.MultiPolygon { return r.polys }

// Contains reports whether p lies inside the region.
func (r *Region) Contains(p orb.Point) bool {
	if !r.bound.Contains(p) {
		return false
	}

	return planar.MultiPolygonContains(r.polys, p)
}
