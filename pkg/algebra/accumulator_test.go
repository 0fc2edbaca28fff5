package algebra

import (
	"math"
	"testing"
	"time"

	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorMergeMatchesSequentialAdd(t *testing.T) {
	nan := math.NaN()
	frames := []*raster.Frame{
		uniform(t, 10),
		frameOf(t, nan, 20, 20, 20, 20, 20, 20, 20, 20, 20, 20, 20),
		uniform(t, 30),
		frameOf(t, nan, nan, 40, 40, 40, 40, 40, 40, 40, 40, 40, 40),
	}

	seq := NewAccumulator([]string{"precipitation"})
	for _, f := range frames {
		require.NoError(t, seq.Add(f))
	}

	left := NewAccumulator([]string{"precipitation"})
	right := NewAccumulator([]string{"precipitation"})
	require.NoError(t, left.Add(frames[3]))
	require.NoError(t, left.Add(frames[0]))
	require.NoError(t, right.Add(frames[2]))
	require.NoError(t, right.Add(frames[1]))
	require.NoError(t, right.Merge(left))

	at := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	want := seq.Mean(at, "1999-2002")
	got := right.Mean(at, "1999-2002")

	assert.Equal(t, 4, right.Frames())
	assert.Equal(t, 4, right.Sources())

	for i, v := range want.Values(0) {
		assert.InDelta(t, v, got.Values(0)[i], 1e-12)
	}

	assert.Equal(t, 20.0, got.At(0, 0, 0))
	assert.InDelta(t, 20.0, got.At(0, 1, 0), 1e-12)
	assert.Equal(t, 25.0, got.At(0, 2, 0))
}

func TestAccumulatorIgnoresEmptyFrames(t *testing.T) {
	acc := NewAccumulator([]string{"precipitation"})
	require.NoError(t, acc.Add(raster.EmptyFrame(time.Now(), "x", []string{"precipitation"})))

	assert.Equal(t, 0, acc.Frames())
	assert.True(t, acc.Sum(time.Now(), "x").Empty())

	require.NoError(t, acc.Merge(NewAccumulator([]string{"precipitation"})))
	assert.True(t, acc.Grid().IsZero())
}

func TestAccumulatorBandMismatch(t *testing.T) {
	acc := NewAccumulator([]string{"pet"})
	assert.ErrorIs(t, acc.Add(uniform(t, 1)), failure.ErrConfiguration)
}
