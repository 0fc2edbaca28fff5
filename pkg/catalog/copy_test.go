package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopy(t *testing.T) {
	src := NewSynthetic()
	cadence, err := window.ParseCadence("3h")
	require.NoError(t, err)

	require.NoError(t, src.Register("trmm", Source{
		Grid:    grid(),
		Bands:   []string{"precipitation"},
		Cadence: cadence,
		Value:   Constant(1),
	}))

	q := Query{Dataset: "trmm", Start: day(1), End: day(2)}

	t.Run("batches into memory", func(t *testing.T) {
		mem := NewMemory()

		var batches []int

		dst := WriterFunc(func(ctx context.Context, dataset string, frames ...*raster.Frame) error {
			batches = append(batches, len(frames))
			return MemoryWriter(mem).Put(ctx, dataset, frames...)
		})

		n, err := Copy(context.Background(), src, dst, "TRMM/3B42", q, 3)
		require.NoError(t, err)
		assert.Equal(t, 8, n)
		assert.Equal(t, []int{3, 3, 2}, batches)
		assert.Equal(t, []string{"TRMM/3B42"}, mem.Datasets())
	})

	t.Run("writer failure", func(t *testing.T) {
		boom := errors.New("boom")
		dst := WriterFunc(func(context.Context, string, ...*raster.Frame) error { return boom })

		n, err := Copy(context.Background(), src, dst, "trmm", q, 0)
		require.ErrorIs(t, err, boom)
		assert.Zero(t, n)
	})

	t.Run("unknown dataset", func(t *testing.T) {
		_, err := Copy(context.Background(), src, MemoryWriter(NewMemory()), "x", Query{Dataset: "x", Start: day(1), End: day(2)}, 0)
		assert.ErrorIs(t, err, ErrUnknownDataset)
	})
}
