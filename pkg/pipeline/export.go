package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/gridstat/pkg/datasets"
	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/region"
	"github.com/ethpandaops/gridstat/pkg/rendering"
	"github.com/ethpandaops/gridstat/pkg/sink"
	"github.com/sirupsen/logrus"
)

// export writes the table and the summary rasters of a finished run.
func (d *Driver) export(ctx context.Context, log logrus.FieldLogger, cfg datasets.Config, roi *region.Region, res *Result) error {
	base := rendering.Export{
		Dataset: cfg.ID,
		Region:  roi.Name(),
		RunID:   res.RunID,
		Start:   cfg.RangeStart,
		End:     cfg.RangeEnd,
	}

	table := base
	table.Columns = cfg.Columns()
	table.Kind = "table"

	name, err := d.templates.RenderName(cfg.Table.Name, table)
	if err != nil {
		return failure.Configuration("dataset %s: table name: %v", cfg.ID, err)
	}

	res.Table = name

	if err := sink.WriteTable(ctx, log, d.deps.Tables, sink.Table{RunID: res.RunID, Name: name, Series: res.Series}); err != nil {
		return err
	}

	if res.Mean != nil {
		for _, e := range cfg.Rollup.Exports {
			if err := d.exportSummary(ctx, log, cfg, roi, res, base, e.Name, e.Bands, res.Mean); err != nil {
				return err
			}
		}
	}

	if cfg.Rollup.ExportPeriods {
		for _, total := range res.PeriodTotals {
			if err := d.exportSummary(ctx, log, cfg, roi, res, base, cfg.Rollup.PeriodName, nil, total); err != nil {
				return err
			}
		}
	}

	return nil
}

// exportSummary narrows summary to bands, clips it to the region, resamples
// it to the dataset resolution and writes it. Summaries without a valid
// pixel are recorded as skipped.
func (d *Driver) exportSummary(ctx context.Context, log logrus.FieldLogger, cfg datasets.Config, roi *region.Region, res *Result, base rendering.Export, template string, bands []string, summary *raster.Summary) error {
	if len(bands) == 0 {
		bands = cfg.BandNames()
	}

	vars := base
	vars.Bands = bands
	vars.Period = summary.Period
	vars.Kind = summary.Kind

	name, err := d.templates.RenderName(template, vars)
	if err != nil {
		return failure.Configuration("dataset %s: raster name: %v", cfg.ID, err)
	}

	prepared, err := d.prepare(summary, bands, roi, cfg.ResolutionMeters)

	switch {
	case errors.Is(err, failure.ErrNoDataAvailable):
		log.WithField("name", name).WithError(err).Warn("Skipping summary raster without data")
		res.Exports = append(res.Exports, Export{Name: name, Summary: summary, Skipped: true})

		return nil
	case err != nil:
		return err
	}

	if err := sink.WriteRaster(ctx, log, d.deps.Rasters, sink.Raster{RunID: res.RunID, Name: name, Summary: prepared}); err != nil {
		return err
	}

	res.Exports = append(res.Exports, Export{Name: name, Summary: prepared})

	return nil
}

// prepare returns the exported form of summary.
func (d *Driver) prepare(summary *raster.Summary, bands []string, roi *region.Region, resolutionMeters float64) (*raster.Summary, error) {
	if summary.Empty() {
		return nil, fmt.Errorf("%w: period %s has no valid pixel", failure.ErrNoDataAvailable, summary.Period)
	}

	f, err := summary.Select(bands...)
	if err != nil {
		return nil, failure.Configuration("%v", err)
	}

	if f, err = d.deps.Engine.Clip(f, roi); err != nil {
		return nil, err
	}

	if f, err = d.deps.Engine.Resample(f, resolutionMeters); err != nil {
		return nil, err
	}

	return &raster.Summary{
		Frame:   f,
		Kind:    summary.Kind,
		Period:  summary.Period,
		Periods: summary.Periods,
	}, nil
}
