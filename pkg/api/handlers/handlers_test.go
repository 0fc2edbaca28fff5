package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	defStart := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	defEnd := time.Date(2002, 12, 31, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		start     string
		end       string
		wantFirst time.Time
		wantLast  time.Time
		wantErr   bool
	}{
		{name: "defaults", wantFirst: defStart, wantLast: defEnd},
		{name: "start only", start: "2000-03-01", wantFirst: time.Date(2000, 3, 1, 0, 0, 0, 0, time.UTC), wantLast: defEnd},
		{name: "both", start: " 2000-01-01 ", end: "2000-01-31", wantFirst: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), wantLast: time.Date(2000, 1, 31, 0, 0, 0, 0, time.UTC)},
		{name: "timestamp", start: "2000-01-01T00:00:00Z", wantErr: true},
		{name: "invalid end", end: "31/01/2000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last, err := parseRange(tt.start, tt.end, defStart, defEnd)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRange)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantFirst, first)
			assert.Equal(t, tt.wantLast, last)
		})
	}
}

func TestBandStats(t *testing.T) {
	stats := bandStats("rain", []float64{raster.NoData(), 2, 4, raster.NoData()})
	assert.Equal(t, 2, stats.Pixels)
	assert.InDelta(t, 2, float64(*stats.Min), 1e-9)
	assert.InDelta(t, 4, float64(*stats.Max), 1e-9)
	assert.InDelta(t, 3, float64(*stats.Mean), 1e-9)

	empty := bandStats("rain", []float64{raster.NoData()})
	assert.Zero(t, empty.Pixels)
	assert.Nil(t, empty.Mean)
}

func TestRowEncodesInfinity(t *testing.T) {
	row := newRow(raster.Observation{
		Time:   time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		Label:  "2000-01-01",
		Values: []float64{math.Inf(1), raster.NoData(), 2.5, math.Inf(-1)},
	})

	data, err := json.Marshal(row)
	require.NoError(t, err)
	assert.JSONEq(t, `{"time":"2000-01-01T00:00:00Z","label":"2000-01-01","values":["+Inf",null,2.5,"-Inf"],"sources":0}`, string(data))

	var back Row
	require.NoError(t, json.Unmarshal(data, &back))
	require.Len(t, back.Values, 4)
	assert.True(t, math.IsInf(float64(*back.Values[0]), 1))
	assert.Nil(t, back.Values[1])
	assert.InDelta(t, 2.5, float64(*back.Values[2]), 1e-12)
	assert.True(t, math.IsInf(float64(*back.Values[3]), -1))
}

func TestNumberRejectsOtherStrings(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    float64
		wantErr bool
	}{
		{name: "number", input: `1.25`, want: 1.25},
		{name: "positive infinity", input: `"+Inf"`, want: math.Inf(1)},
		{name: "negative infinity", input: `"-Inf"`, want: math.Inf(-1)},
		{name: "quoted number", input: `"1.25"`, wantErr: true},
		{name: "nan", input: `"NaN"`, wantErr: true},
		{name: "word", input: `"wet"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n Number

			err := json.Unmarshal([]byte(tt.input), &n)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, float64(n))
		})
	}
}

func TestRunError(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{err: failure.Configuration("bad"), code: fiber.StatusBadRequest},
		{err: failure.ErrNoDataAvailable, code: fiber.StatusNotFound},
		{err: failure.ErrResourceLimitExceeded, code: fiber.StatusUnprocessableEntity},
		{err: failure.Collaborator("sink", errors.New("down")), code: fiber.StatusBadGateway},
		{err: ErrInvalidRegion, code: fiber.StatusBadRequest},
		{err: errors.New("boom"), code: fiber.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.code, runError(tt.err).Code)
		})
	}
}
