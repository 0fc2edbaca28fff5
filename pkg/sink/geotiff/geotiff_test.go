package geotiff

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"testing"
	"time"

	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type field struct {
	typ   uint16
	count uint32
	value []byte
}

// parse reads back the IFD of a little-endian TIFF.
func parse(t *testing.T, b []byte) map[uint16]field {
	t.Helper()

	require.Equal(t, "II", string(b[:2]))
	require.Equal(t, uint16(42), binary.LittleEndian.Uint16(b[2:]))

	ifd := binary.LittleEndian.Uint32(b[4:])
	n := int(binary.LittleEndian.Uint16(b[ifd:]))
	out := make(map[uint16]field, n)

	size := map[uint16]uint32{typeASCII: 1, typeShort: 2, typeLong: 4, typeDouble: 8}

	var last uint16

	for i := range n {
		at := ifd + 2 + uint32(i*entrySize) //nolint:gosec // test
		tag := binary.LittleEndian.Uint16(b[at:])
		require.Greater(t, tag, last, "tags ascend")
		last = tag

		f := field{typ: binary.LittleEndian.Uint16(b[at+2:]), count: binary.LittleEndian.Uint32(b[at+4:])}

		length := size[f.typ] * f.count
		if length <= 4 {
			f.value = b[at+8 : at+8+length]
		} else {
			off := binary.LittleEndian.Uint32(b[at+8:])
			f.value = b[off : off+length]
		}

		out[tag] = f
	}

	return out
}

func u32(f field) uint32 { return binary.LittleEndian.Uint32(f.value) }

func f64s(f field) []float64 {
	out := make([]float64, f.count)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(f.value[8*i:]))
	}

	return out
}

func u16s(f field) []uint16 {
	out := make([]uint16, f.count)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(f.value[2*i:])
	}

	return out
}

func testFrame(t *testing.T, bands ...string) *raster.Frame {
	t.Helper()

	grid := raster.Grid{OriginX: 38.5, OriginY: 14.25, PixelWidth: 0.05, PixelHeight: 0.05, Width: 3, Height: 2}
	data := make([][]float64, len(bands))

	for b := range bands {
		data[b] = []float64{1, 2, raster.NoData(), 4, 5, 6}
		for i := range data[b] {
			data[b][i] += float64(100 * b)
		}
	}

	f, err := raster.NewFrame(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC), "1999-2002", grid, bands, data)
	require.NoError(t, err)

	return f
}

func TestEncodeSingleBand(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, testFrame(t, "precipitation")))

	b := buf.Bytes()
	tags := parse(t, b)

	assert.Equal(t, uint32(3), u32(tags[TagImageWidth]))
	assert.Equal(t, uint32(2), u32(tags[TagImageLength]))
	assert.Equal(t, []uint16{3}, u16s(tags[TagSampleFormat]))
	assert.InDeltaSlice(t, []float64{0.05, 0.05, 0}, f64s(tags[TagModelPixelScale]), 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0, 0, 38.5, 14.25, 0}, f64s(tags[TagModelTiepoint]), 1e-12)
	assert.Equal(t, "nan\x00", string(tags[TagGDALNoData].value))
	assert.Contains(t, u16s(tags[TagGeoKeyDirectory]), uint16(4326))
	assert.NotContains(t, tags, TagExtraSamples)

	offset := u32(tags[TagStripOffsets])
	count := u32(tags[TagStripByteCounts])
	require.Equal(t, uint32(6*4), count)
	require.Equal(t, len(b), int(offset+count))

	var pixels []float32
	for i := uint32(0); i < count; i += 4 {
		pixels = append(pixels, math.Float32frombits(binary.LittleEndian.Uint32(b[offset+i:])))
	}

	assert.Equal(t, float32(1), pixels[0])
	assert.True(t, math.IsNaN(float64(pixels[2])))
	assert.Equal(t, float32(6), pixels[5])
}

func TestEncodeInterleavesBands(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, testFrame(t, "pr", "pet")))

	b := buf.Bytes()
	tags := parse(t, b)

	assert.Equal(t, []uint16{32, 32}, u16s(tags[TagBitsPerSample]))
	assert.Equal(t, []uint16{0}, u16s(tags[TagExtraSamples]))

	offset := u32(tags[TagStripOffsets])
	second := math.Float32frombits(binary.LittleEndian.Uint32(b[offset+4:]))
	assert.Equal(t, float32(101), second, "band 2 of pixel 0 follows band 1")
}

func TestEncodeEmptyFrame(t *testing.T) {
	err := Encode(&bytes.Buffer{}, raster.EmptyFrame(time.Time{}, "x", []string{"pr"}))
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestSinkWritesFile(t *testing.T) {
	s := New(t.TempDir())
	summary := &raster.Summary{Frame: testFrame(t, "precipitation"), Kind: raster.KindMean, Period: "1999-2002", Periods: 4}

	require.NoError(t, s.WriteRaster(context.Background(), sink.Raster{Name: "CHRPS_Avg_Annual_Precip_1999_2002", Summary: summary}))

	b, err := os.ReadFile(s.Path("CHRPS_Avg_Annual_Precip_1999_2002"))
	require.NoError(t, err)
	assert.Equal(t, uint32(3), u32(parse(t, b)[TagImageWidth]))

	err = s.WriteRaster(context.Background(), sink.Raster{Name: "empty", Summary: &raster.Summary{Frame: raster.EmptyFrame(time.Time{}, "x", []string{"pr"})}})
	assert.ErrorIs(t, err, ErrEmptyFrame)

	_, err = os.Stat(s.Path("empty"))
	assert.True(t, os.IsNotExist(err))
}
