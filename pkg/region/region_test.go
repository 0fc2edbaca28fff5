package region

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const triangle = `{"type":"Polygon","coordinates":[[[39,13],[40,13],[39,14],[39,13]]]}`

const collection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "west"},
     "geometry": {"type": "Polygon", "coordinates": [[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
    {"type": "Feature", "properties": {"name": "east"},
     "geometry": {"type": "MultiPolygon", "coordinates": [[[[2,0],[3,0],[3,1],[2,1],[2,0]]]]}}
  ]
}`

func TestParseGeometry(t *testing.T) {
	r, err := Parse("gheba", []byte(triangle))
	require.NoError(t, err)

	assert.Equal(t, "gheba", r.Name())
	assert.Equal(t, orb.Bound{Min: orb.Point{39, 13}, Max: orb.Point{40, 14}}, r.Bound())
	assert.True(t, r.Contains(orb.Point{39.2, 13.2}))
	assert.False(t, r.Contains(orb.Point{39.9, 13.9}))
	assert.False(t, r.Contains(orb.Point{41, 13.5}))
	assert.Greater(t, r.AreaKm2(), 5000.0)
}

func TestParseFeatureCollectionMergesPolygons(t *testing.T) {
	r, err := Parse("basins", []byte(collection))
	require.NoError(t, err)

	assert.Len(t, r.Geometry(), 2)
	assert.True(t, r.Contains(orb.Point{0.5, 0.5}))
	assert.True(t, r.Contains(orb.Point{2.5, 0.5}))
	assert.False(t, r.Contains(orb.Point{1.5, 0.5}))
}

func TestParseFeature(t *testing.T) {
	r, err := Parse("f", []byte(`{"type":"Feature","properties":{},"geometry":`+triangle+`}`))
	require.NoError(t, err)
	assert.Len(t, r.Geometry(), 1)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("pt", []byte(`{"type":"Point","coordinates":[1,2]}`))
	assert.ErrorIs(t, err, ErrUnsupportedGeometry)

	_, err = Parse("empty", []byte(`{"type":"FeatureCollection","features":[]}`))
	assert.ErrorIs(t, err, ErrEmptyRegion)

	_, err = Parse("junk", []byte(`not json`))
	assert.Error(t, err)
}

func TestLoadAndFromBound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roi.geojson")
	require.NoError(t, os.WriteFile(path, []byte(triangle), 0o600))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, r.Name())

	box := FromBound("box", orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}})
	assert.True(t, box.Contains(orb.Point{0.5, 0.5}))
}
