package tabular

import (
	"bytes"
	"context"
	"math"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSeries() *raster.Series {
	day := func(d int) time.Time { return time.Date(2000, 1, d, 0, 0, 0, 0, time.UTC) }

	return &raster.Series{
		Dataset:    "terraclimate",
		TimeColumn: "date",
		Columns:    []string{"TERRACLIMATE_PRECIPITATION", "TERRACLIMATE_PET"},
		Observations: []raster.Observation{
			{Label: "2000-01-01", Time: day(1), Values: []float64{0.1, 1e-7}, Sources: 1},
			{Label: "2000-01-02", Time: day(2), Values: []float64{raster.NoData(), 0}},
			{Label: "2000-01-03", Time: day(3), Values: []float64{1.0 / 3, 123456.789}, Sources: 8},
		},
	}
}

func TestWriteFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, testSeries()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "date,TERRACLIMATE_PRECIPITATION,TERRACLIMATE_PET", lines[0])
	assert.Equal(t, "2000-01-01,0.1,0.0000001", lines[1])
	assert.Equal(t, "2000-01-02,,0", lines[2], "missing is an empty field, zero is a value")
}

func TestRoundTrip(t *testing.T) {
	want := testSeries()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, want))

	got, err := Read(&buf)
	require.NoError(t, err)

	assert.Equal(t, want.TimeColumn, got.TimeColumn)
	assert.Equal(t, want.Columns, got.Columns)
	require.Len(t, got.Observations, len(want.Observations))

	for i, obs := range want.Observations {
		assert.Equal(t, obs.Label, got.Observations[i].Label)
		assert.True(t, obs.Time.Equal(got.Observations[i].Time))

		for j, v := range obs.Values {
			if raster.IsNoData(v) {
				assert.True(t, got.Observations[i].Missing(j))
				continue
			}

			assert.Equal(t, v, got.Observations[i].Values[j])
		}
	}
}

func TestReadErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		err   error
	}{
		{name: "empty", input: "", err: ErrHeader},
		{name: "time column only", input: "date\n2000-01-01\n", err: ErrHeader},
		{name: "bad value", input: "date,a\n2000-01-01,wet\n", err: ErrRow},
		{name: "bad label", input: "date,a\nyesterday,1\n", err: ErrRow},
		{name: "short row", input: "date,a,b\n2000-01-01,1\n", err: ErrRow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name string
		v    float64
		want string
	}{
		{name: "missing", v: math.NaN(), want: ""},
		{name: "positive infinity", v: math.Inf(1), want: "+Inf"},
		{name: "negative infinity", v: math.Inf(-1), want: "-Inf"},
		{name: "negative", v: -2.5, want: "-2.5"},
		{name: "zero", v: 0, want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatValue(tt.v))
		})
	}
}

func TestInfinityIsNotMissing(t *testing.T) {
	want := &raster.Series{
		TimeColumn: "date",
		Columns:    []string{"a", "b"},
		Observations: []raster.Observation{
			{Label: "2000-01-01", Time: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), Values: []float64{math.Inf(1), raster.NoData()}},
			{Label: "2000-01-02", Time: time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC), Values: []float64{math.Inf(-1), 1}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, want))
	assert.Equal(t, "date,a,b\n2000-01-01,+Inf,\n2000-01-02,-Inf,1\n", buf.String())

	got, err := Read(&buf)
	require.NoError(t, err)
	require.Len(t, got.Observations, 2)

	assert.True(t, math.IsInf(got.Observations[0].Values[0], 1))
	assert.False(t, got.Observations[0].Missing(0))
	assert.True(t, got.Observations[0].Missing(1))
	assert.True(t, math.IsInf(got.Observations[1].Values[0], -1))
}

func TestSinkWritesFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	require.NoError(t, s.WriteTable(context.Background(), sink.Table{Name: "Tigray_TerraClimate", Series: testSeries()}))

	f, err := os.Open(s.Path("Tigray_TerraClimate"))
	require.NoError(t, err)
	defer f.Close()

	got, err := Read(f)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Len())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file is renamed into place")
}
