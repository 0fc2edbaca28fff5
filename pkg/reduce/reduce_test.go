package reduce

import (
	"context"
	"testing"
	"time"

	"github.com/ethpandaops/gridstat/pkg/algebra"
	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/region"
	"github.com/paulmach/orb"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resolution = 0.25 * raster.MetersPerDegree

func newReducer(t *testing.T, cfg Config) *Reducer {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	r, err := New(log, algebra.NewLocal(log), cfg)
	require.NoError(t, err)

	return r
}

func frame(t *testing.T) *raster.Frame {
	t.Helper()

	grid := raster.Grid{OriginX: 39, OriginY: 14, PixelWidth: 0.25, PixelHeight: 0.25, Width: 4, Height: 4}
	values := make([]float64, grid.Len())

	for i := range values {
		values[i] = float64(i)
	}

	f, err := raster.NewFrame(time.Date(2001, 6, 1, 0, 0, 0, 0, time.UTC), "2001-06-01", grid, []string{"precipitation"}, [][]float64{values})
	require.NoError(t, err)

	return f
}

func TestReduceDefaultsToMean(t *testing.T) {
	r := newReducer(t, Config{})
	assert.Equal(t, algebra.StatMean, r.Statistic())

	roi := region.FromBound("nw", orb.Bound{Min: orb.Point{39, 13.5}, Max: orb.Point{39.5, 14}})

	got, err := r.Reduce(context.Background(), frame(t), roi, resolution, "")
	require.NoError(t, err)

	// pixels 0, 1, 4, 5
	assert.InDelta(t, 2.5, got[0], 1e-9)
}

func TestReduceExplicitStatistic(t *testing.T) {
	r := newReducer(t, Config{Statistic: "mean"})
	roi := region.FromBound("all", orb.Bound{Min: orb.Point{39, 13}, Max: orb.Point{40, 14}})

	got, err := r.Reduce(context.Background(), frame(t), roi, resolution, algebra.StatMax)
	require.NoError(t, err)
	assert.Equal(t, 15.0, got[0])
}

func TestReduceFinerThanCapFails(t *testing.T) {
	r := newReducer(t, Config{MaxPixels: 16})
	roi := region.FromBound("all", orb.Bound{Min: orb.Point{39, 13}, Max: orb.Point{40, 14}})

	_, err := r.Reduce(context.Background(), frame(t), roi, resolution, "")
	require.NoError(t, err)

	_, err = r.Reduce(context.Background(), frame(t), roi, resolution/10, "")
	assert.ErrorIs(t, err, failure.ErrResourceLimitExceeded)
	assert.True(t, failure.Retryable(err))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "zero value", cfg: Config{}},
		{name: "negative cap", cfg: Config{MaxPixels: -1}, wantErr: ErrInvalidMaxPixels},
		{name: "unknown statistic", cfg: Config{Statistic: "mode"}, wantErr: failure.ErrConfiguration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
