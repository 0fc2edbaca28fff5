// Package tabular writes observation series as CSV
package tabular

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/sink"
	"github.com/ethpandaops/gridstat/pkg/window"
)

var (
	// ErrHeader is returned when a CSV file has no usable header
	ErrHeader = errors.New("csv header must name a time column and at least one value column")
	// ErrRow is returned for a row that does not match the header
	ErrRow = errors.New("malformed csv row")
)

// Write writes series as CSV: a header of the time column and the value
// columns, then one row per observation. Missing values are empty fields.
func Write(w io.Writer, series *raster.Series) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(series.Header()); err != nil {
		return err
	}

	row := make([]string, len(series.Columns)+1)

	for _, obs := range series.Observations {
		if len(obs.Values) != len(series.Columns) {
			return fmt.Errorf("%w: %s has %d values for %d columns", ErrRow, obs.Label, len(obs.Values), len(series.Columns))
		}

		row[0] = obs.Label

		for i, v := range obs.Values {
			row[i+1] = FormatValue(v)
		}

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}

// FormatValue renders v in the shortest decimal form that parses back to v.
// Missing values render as an empty string and infinities as +Inf or -Inf.
func FormatValue(v float64) string {
	if raster.IsNoData(v) {
		return ""
	}

	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Read parses CSV written by Write. Empty fields read back as missing; +Inf
// and -Inf read back as infinities.
func Read(r io.Reader) (*raster.Series, error) {
	cr := csv.NewReader(r)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) || (err == nil && len(header) < 2) {
		return nil, ErrHeader
	}

	if err != nil {
		return nil, err
	}

	cr.FieldsPerRecord = len(header)

	series := &raster.Series{
		TimeColumn: header[0],
		Columns:    header[1:],
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return series, nil
		}

		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRow, err)
		}

		ts, _, err := window.ParseLabel(rec[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRow, err)
		}

		obs := raster.Observation{Label: rec[0], Time: ts, Values: make([]float64, len(series.Columns))}

		for i, field := range rec[1:] {
			if field == "" {
				obs.Values[i] = raster.NoData()
				continue
			}

			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %s column %s: %w", ErrRow, rec[0], series.Columns[i], err)
			}

			obs.Values[i] = v
		}

		series.Observations = append(series.Observations, obs)
	}
}

// Sink writes each table to <dir>/<name>.csv
type Sink struct {
	dir string
}

var _ sink.TableSink = (*Sink)(nil)

// New creates a CSV sink rooted at dir.
func New(dir string) *Sink {
	return &Sink{dir: dir}
}

// Name implements sink.TableSink.
func (s *Sink) Name() string { return "csv" }

// Path returns the file a table named name is written to.
func (s *Sink) Path(name string) string {
	return filepath.Join(s.dir, name+".csv")
}

// WriteTable implements sink.TableSink. The file is written under a temporary
// name and renamed into place.
func (s *Sink) WriteTable(ctx context.Context, t sink.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, "."+t.Name+"-*.csv")
	if err != nil {
		return err
	}

	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if err := Write(tmp, t.Series); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing

		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), s.Path(t.Name))
}
