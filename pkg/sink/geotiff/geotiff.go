// Package geotiff writes summary rasters as uncompressed float32 GeoTIFFs in
// EPSG:4326
package geotiff

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/sink"
)

// ErrEmptyFrame is returned for a frame without a grid
var ErrEmptyFrame = errors.New("cannot encode an empty frame")

// TIFF field types
const (
	typeASCII  uint16 = 2
	typeShort  uint16 = 3
	typeLong   uint16 = 4
	typeDouble uint16 = 12
)

// Tags written, baseline TIFF then GeoTIFF and GDAL extensions
const (
	TagImageWidth       uint16 = 256
	TagImageLength      uint16 = 257
	TagBitsPerSample    uint16 = 258
	TagCompression      uint16 = 259
	TagPhotometric      uint16 = 262
	TagStripOffsets     uint16 = 273
	TagSamplesPerPixel  uint16 = 277
	TagRowsPerStrip     uint16 = 278
	TagStripByteCounts  uint16 = 279
	TagPlanarConfig     uint16 = 284
	TagExtraSamples     uint16 = 338
	TagSampleFormat     uint16 = 339
	TagModelPixelScale  uint16 = 33550
	TagModelTiepoint    uint16 = 33922
	TagGeoKeyDirectory  uint16 = 34735
	TagGDALNoData       uint16 = 42113
	sampleFormatFloat   uint16 = 3
	geoKeyModelType     uint16 = 1024
	geoKeyRasterType    uint16 = 1025
	geoKeyGeographic    uint16 = 2048
	modelTypeGeographic uint16 = 2
	rasterPixelIsArea   uint16 = 1
	epsgWGS84           uint16 = 4326
	headerSize                 = 8
	entrySize                  = 12
)

type entry struct {
	tag   uint16
	typ   uint16
	count uint32
	data  []byte
}

func shorts(v ...uint16) []byte {
	b := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(b[2*i:], x)
	}

	return b
}

func long(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

func doubles(v ...float64) []byte {
	b := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(b[8*i:], math.Float64bits(x))
	}

	return b
}

func repeat(v uint16, n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}

	return out
}

// Encode writes f as a single-strip, pixel-interleaved, little-endian
// GeoTIFF with one float32 sample per band. No-data pixels are NaN and the
// GDAL_NODATA tag says so.
func Encode(w io.Writer, f *raster.Frame) error {
	if f.Empty() {
		return ErrEmptyFrame
	}

	g := f.Grid()
	spp := f.BandCount()
	pixelBytes := uint32(g.Len() * spp * 4) //nolint:gosec // bounded by grid validation

	entries := []entry{
		{TagImageWidth, typeLong, 1, long(uint32(g.Width))},   //nolint:gosec // positive
		{TagImageLength, typeLong, 1, long(uint32(g.Height))}, //nolint:gosec // positive
		{TagBitsPerSample, typeShort, uint32(spp), shorts(repeat(32, spp)...)},
		{TagCompression, typeShort, 1, shorts(1)},
		{TagPhotometric, typeShort, 1, shorts(1)},
		{TagStripOffsets, typeLong, 1, long(0)},
		{TagSamplesPerPixel, typeShort, 1, shorts(uint16(spp))},
		{TagRowsPerStrip, typeLong, 1, long(uint32(g.Height))}, //nolint:gosec // positive
		{TagStripByteCounts, typeLong, 1, long(pixelBytes)},
		{TagPlanarConfig, typeShort, 1, shorts(1)},
		{TagSampleFormat, typeShort, uint32(spp), shorts(repeat(sampleFormatFloat, spp)...)},
		{TagModelPixelScale, typeDouble, 3, doubles(g.PixelWidth, g.PixelHeight, 0)},
		{TagModelTiepoint, typeDouble, 6, doubles(0, 0, 0, g.OriginX, g.OriginY, 0)},
		{TagGeoKeyDirectory, typeShort, 16, shorts(
			1, 1, 0, 3,
			geoKeyModelType, 0, 1, modelTypeGeographic,
			geoKeyRasterType, 0, 1, rasterPixelIsArea,
			geoKeyGeographic, 0, 1, epsgWGS84,
		)},
		{TagGDALNoData, typeASCII, 4, []byte("nan\x00")},
	}

	if spp > 1 {
		entries = append(entries, entry{TagExtraSamples, typeShort, uint32(spp - 1), shorts(repeat(0, spp-1)...)})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].tag < entries[j].tag })

	// Out-of-line values follow the IFD, word aligned, then the pixel strip.
	next := uint32(headerSize + 2 + entrySize*len(entries) + 4) //nolint:gosec // few entries
	offsets := make([]uint32, len(entries))

	for i, e := range entries {
		if len(e.data) <= 4 {
			continue
		}

		offsets[i] = next
		next += uint32(len(e.data)) //nolint:gosec // small
		next += next & 1
	}

	for i := range entries {
		if entries[i].tag == TagStripOffsets {
			entries[i].data = long(next)
		}
	}

	bw := bufio.NewWriter(w)

	var buf bytes.Buffer

	buf.WriteString("II")
	buf.Write(shorts(42))
	buf.Write(long(headerSize))
	buf.Write(shorts(uint16(len(entries)))) //nolint:gosec // few entries

	for i, e := range entries {
		buf.Write(shorts(e.tag, e.typ))
		buf.Write(long(e.count))

		if len(e.data) <= 4 {
			inline := make([]byte, 4)
			copy(inline, e.data)
			buf.Write(inline)

			continue
		}

		buf.Write(long(offsets[i]))
	}

	buf.Write(long(0))

	for _, e := range entries {
		if len(e.data) <= 4 {
			continue
		}

		buf.Write(e.data)

		if buf.Len()%2 == 1 {
			buf.WriteByte(0)
		}
	}

	if _, err := bw.Write(buf.Bytes()); err != nil {
		return err
	}

	sample := make([]byte, 4)

	for p := range g.Len() {
		for b := range spp {
			binary.LittleEndian.PutUint32(sample, math.Float32bits(float32(f.Values(b)[p])))

			if _, err := bw.Write(sample); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

// Sink writes each raster to <dir>/<name>.tif
type Sink struct {
	dir string
}

var _ sink.RasterSink = (*Sink)(nil)

// New creates a GeoTIFF sink rooted at dir.
func New(dir string) *Sink {
	return &Sink{dir: dir}
}

// Name implements sink.RasterSink.
func (s *Sink) Name() string { return "geotiff" }

// Path returns the file a raster named name is written to.
func (s *Sink) Path(name string) string {
	return filepath.Join(s.dir, name+".tif")
}

// WriteRaster implements sink.RasterSink.
func (s *Sink) WriteRaster(ctx context.Context, r sink.Raster) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+r.Name+"-*.tif")
	if err != nil {
		return err
	}

	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if err := Encode(tmp, r.Summary.Frame); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing

		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.Path(r.Name))
}
