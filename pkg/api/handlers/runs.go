package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/gridstat/pkg/pipeline"
	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/region"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const dateLayout = "2006-01-02"

// Number is a JSON number that encodes infinities as the strings "+Inf" and
// "-Inf", the same spelling the CSV tables use.
type Number float64

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	if v := float64(n); math.IsInf(v, 0) {
		return []byte(strconv.Quote(strconv.FormatFloat(v, 'f', -1, 64))), nil
	}

	return json.Marshal(float64(n))
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || !math.IsInf(v, 0) {
			return fmt.Errorf("invalid number %q", s)
		}

		*n = Number(v)

		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	*n = Number(v)

	return nil
}

// Row is one observation; missing values are null
type Row struct {
	Time    string    `json:"time"`
	Label   string    `json:"label"`
	Values  []*Number `json:"values"`
	Sources int       `json:"sources"`
}

// BandStats summarizes the valid pixels of one band of an exported raster
type BandStats struct {
	Band   string  `json:"band"`
	Pixels int     `json:"pixels"`
	Min    *Number `json:"min"`
	Max    *Number `json:"max"`
	Mean   *Number `json:"mean"`
}

// ExportSummary describes one summary raster of a run
type ExportSummary struct {
	Name    string      `json:"name"`
	Kind    string      `json:"kind"`
	Period  string      `json:"period"`
	Periods int         `json:"periods"`
	Skipped bool        `json:"skipped"`
	Bands   []BandStats `json:"bands,omitempty"`
}

// WindowFailure is a window skipped by the failure policy
type WindowFailure struct {
	Window string `json:"window"`
	Error  string `json:"error"`
}

// RunResponse is the body of POST /api/v1/datasets/:id/runs
type RunResponse struct {
	RunID     string          `json:"run_id"`
	Dataset   string          `json:"dataset"`
	Region    string          `json:"region"`
	Table     string          `json:"table"`
	Columns   []string        `json:"columns"`
	Rows      []Row           `json:"rows"`
	Truncated bool            `json:"truncated"`
	Exports   []ExportSummary `json:"exports"`
	Failures  []WindowFailure `json:"failures,omitempty"`
	Duration  string          `json:"duration"`
}

// CreateRun runs a dataset over the GeoJSON region in the request body.
// The query parameters start and end override the dataset range.
// POST /api/v1/datasets/:id/runs
func (s *Server) CreateRun(c fiber.Ctx) error {
	cfg, err := s.dataset(c.Params("id"))
	if err != nil {
		return err
	}

	first, last, err := parseRange(c.Query("start"), c.Query("end"), cfg.RangeStart, cfg.RangeEnd)
	if err != nil {
		return err
	}

	cfg = cfg.WithRange(first, last)

	roi, err := region.Parse(c.Query("name", "request"), c.Body())
	if err != nil {
		s.log.WithError(err).Debug("Rejected region")
		return ErrInvalidRegion
	}

	log := s.log.WithFields(logrus.Fields{
		"dataset": cfg.ID,
		"start":   first.Format(dateLayout),
		"end":     last.Format(dateLayout),
	})

	var ctx context.Context = c.Context()

	if s.runTimeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	res, err := s.runner.Run(ctx, cfg, roi)
	if err != nil {
		log.WithError(err).Warn("Requested run failed")
		return runError(err)
	}

	return c.Status(fiber.StatusCreated).JSON(newRunResponse(res))
}

func parseRange(start, end string, defStart, defEnd time.Time) (first, last time.Time, err error) {
	first, last = defStart, defEnd

	if start = strings.TrimSpace(start); start != "" {
		if first, err = time.Parse(dateLayout, start); err != nil {
			return time.Time{}, time.Time{}, ErrInvalidRange
		}
	}

	if end = strings.TrimSpace(end); end != "" {
		if last, err = time.Parse(dateLayout, end); err != nil {
			return time.Time{}, time.Time{}, ErrInvalidRange
		}
	}

	return first, last, nil
}

func newRunResponse(res *pipeline.Result) RunResponse {
	out := RunResponse{
		RunID:     res.RunID,
		Dataset:   res.Dataset,
		Region:    res.Region,
		Table:     res.Table,
		Truncated: res.Partitioning.Truncated,
		Rows:      []Row{},
		Exports:   make([]ExportSummary, 0, len(res.Exports)),
		Duration:  res.Duration.String(),
	}

	if res.Series != nil {
		out.Columns = res.Series.Columns

		for _, o := range res.Series.Observations {
			out.Rows = append(out.Rows, newRow(o))
		}
	}

	for _, e := range res.Exports {
		out.Exports = append(out.Exports, newExportSummary(e))
	}

	for _, f := range res.Failures {
		out.Failures = append(out.Failures, WindowFailure{
			Window: f.Window,
			Error:  f.Err.Error(),
		})
	}

	return out
}

func newRow(o raster.Observation) Row {
	row := Row{
		Time:    o.Time.Format(time.RFC3339),
		Label:   o.Label,
		Values:  make([]*Number, len(o.Values)),
		Sources: o.Sources,
	}

	for i, v := range o.Values {
		row.Values[i] = number(v)
	}

	return row
}

func newExportSummary(e pipeline.Export) ExportSummary {
	out := ExportSummary{
		Name:    e.Name,
		Skipped: e.Skipped,
	}

	if e.Summary == nil {
		return out
	}

	out.Kind = e.Summary.Kind
	out.Period = e.Summary.Period
	out.Periods = e.Summary.Periods

	if e.Skipped || e.Summary.Frame == nil || e.Summary.Empty() {
		return out
	}

	for i, band := range e.Summary.Bands() {
		out.Bands = append(out.Bands, bandStats(band, e.Summary.Values(i)))
	}

	return out
}

func bandStats(band string, values []float64) BandStats {
	valid := make([]float64, 0, len(values))

	for _, v := range values {
		if !raster.IsNoData(v) {
			valid = append(valid, v)
		}
	}

	out := BandStats{Band: band, Pixels: len(valid)}
	if len(valid) == 0 {
		return out
	}

	out.Min = number(floats.Min(valid))
	out.Max = number(floats.Max(valid))
	out.Mean = number(stat.Mean(valid, nil))

	return out
}

func number(v float64) *Number {
	if raster.IsNoData(v) {
		return nil
	}

	n := Number(v)

	return &n
}
