package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/gridstat/pkg/aggregate"
	"github.com/ethpandaops/gridstat/pkg/algebra"
	"github.com/ethpandaops/gridstat/pkg/catalog"
	"github.com/ethpandaops/gridstat/pkg/datasets"
	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/observability"
	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/reduce"
	"github.com/ethpandaops/gridstat/pkg/region"
	"github.com/ethpandaops/gridstat/pkg/rendering"
	"github.com/ethpandaops/gridstat/pkg/rollup"
	"github.com/ethpandaops/gridstat/pkg/sink"
	"github.com/ethpandaops/gridstat/pkg/window"
	"github.com/ethpandaops/gridstat/pkg/worker"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Runner runs one dataset over one region. The scheduler and the API
// depend on this rather than on Driver.
type Runner interface {
	Run(ctx context.Context, cfg datasets.Config, roi *region.Region) (*Result, error)
}

// Deps are the collaborators of a Driver
type Deps struct {
	Catalog catalog.Catalog
	Engine  algebra.Engine
	Pool    *worker.Pool
	Tables  []sink.TableSink
	Rasters []sink.RasterSink
}

// Result is everything a run produced
type Result struct {
	RunID   string
	Dataset string
	Region  string
	// Partitioning holds the windows processed and whether a trailing
	// partial window was dropped.
	Partitioning window.Partitioning
	Series       *raster.Series
	// PeriodTotals are the per-period rollup totals, unclipped. They are
	// only kept when the period is coarser than the window granularity or
	// period exports are enabled.
	PeriodTotals []*raster.Summary
	// Mean is the per-pixel mean of the period totals, unclipped.
	Mean *raster.Summary
	// Exports are the summary rasters handed to the raster sinks.
	Exports  []Export
	Table    string
	Failures []*failure.WindowError
	Duration time.Duration
}

// Export is one summary raster written by a run
type Export struct {
	Name    string
	Summary *raster.Summary
	// Skipped is set when the summary held no valid pixel and was not written.
	Skipped bool
}

// Driver runs datasets end to end.
type Driver struct {
	log       logrus.FieldLogger
	deps      Deps
	reducer   *reduce.Reducer
	templates *rendering.TemplateEngine
	policy    FailurePolicy
}

var _ Runner = (*Driver)(nil)

// NewDriver creates a driver.
func NewDriver(log logrus.FieldLogger, deps Deps, cfg Config) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if deps.Catalog == nil || deps.Engine == nil || deps.Pool == nil {
		return nil, failure.Configuration("a catalog, engine and worker pool are required")
	}

	reducer, err := reduce.New(log, deps.Engine, cfg.Config)
	if err != nil {
		return nil, err
	}

	policy, _ := ParseFailurePolicy(string(cfg.FailurePolicy)) //nolint:errcheck // validated above

	return &Driver{
		log:       log.WithField("component", "pipeline"),
		deps:      deps,
		reducer:   reducer,
		templates: rendering.NewTemplateEngine(),
		policy:    policy,
	}, nil
}

// Policy returns the failure policy runs use.
func (d *Driver) Policy() FailurePolicy { return d.policy }

// Run partitions the dataset range, aggregates and reduces every window on
// the worker pool, rolls the window frames up into summaries and writes the
// outputs. With FailFast the first failed window aborts the run and nothing
// is written; outputs are written only after every window is done.
func (d *Driver) Run(ctx context.Context, cfg datasets.Config, roi *region.Region) (*Result, error) {
	started := time.Now()

	res, err := d.run(ctx, cfg, roi)

	status := "success"
	if err != nil {
		status = "failed"

		observability.RecordError("pipeline", failure.Kind(err))
	}

	observability.RecordRun(cfg.ID, status, time.Since(started).Seconds())

	if res != nil {
		res.Duration = time.Since(started)
	}

	return res, err
}

func (d *Driver) run(ctx context.Context, cfg datasets.Config, roi *region.Region) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if roi == nil {
		return nil, failure.Configuration("dataset %s: a region of interest is required", cfg.ID)
	}

	start, end := cfg.PartitionRange()

	part, err := window.Partition(start, end, cfg.Granularity)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", cfg.ID, err)
	}

	res := &Result{
		RunID:        uuid.New().String(),
		Dataset:      cfg.ID,
		Region:       roi.Name(),
		Partitioning: part,
	}

	log := d.log.WithFields(logrus.Fields{
		"dataset": cfg.ID,
		"region":  roi.Name(),
		"run_id":  res.RunID,
	})

	if part.Truncated {
		log.WithField("dropped", part.Dropped.String()).Warn("Dropped trailing partial window")
	}

	log.WithFields(logrus.Fields{
		"windows": len(part.Windows),
		"from":    part.Start().Format(time.DateOnly),
		"to":      part.End().Format(time.DateOnly),
		"policy":  d.policy,
	}).Info("Starting run")

	agg, err := aggregate.NewAggregator(d.log, d.deps.Catalog, d.deps.Engine, d.reducer, roi, aggregate.Spec{
		Dataset:          cfg.ID,
		CatalogID:        cfg.CatalogID(),
		Options:          cfg.Options(),
		ResolutionMeters: cfg.ResolutionMeters,
		Statistic:        cfg.Statistic,
	})
	if err != nil {
		return nil, err
	}

	newRollup := rollup.New
	if cfg.Rollup.Period == cfg.Granularity && !cfg.Rollup.ExportPeriods {
		newRollup = rollup.NewRunningMean
	}

	totals, err := newRollup(cfg.Rollup.Period, cfg.BandNames())
	if err != nil {
		return nil, err
	}

	observations, err := d.windows(ctx, log, cfg, agg, totals, res)
	if err != nil {
		return nil, err
	}

	res.Series = &raster.Series{
		Dataset:      cfg.ID,
		TimeColumn:   cfg.TimeColumn,
		Columns:      cfg.Columns(),
		Observations: observations,
	}

	if res.PeriodTotals, res.Mean, err = totals.Summaries(); err != nil {
		return nil, err
	}

	if err := d.export(ctx, log, cfg, roi, res); err != nil {
		return res, err
	}

	log.WithFields(logrus.Fields{
		"observations": res.Series.Len(),
		"periods":      totals.Len(),
		"exports":      len(res.Exports),
		"failures":     len(res.Failures),
	}).Info("Run complete")

	return res, nil
}

// windows runs one task per window. Observations land at their window's
// index; window frames go to a single collector goroutine that owns the
// rollup.
func (d *Driver) windows(ctx context.Context, log logrus.FieldLogger, cfg datasets.Config, agg *aggregate.Aggregator, totals *rollup.Rollup, res *Result) ([]raster.Observation, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	windows := res.Partitioning.Windows
	observations := make([]raster.Observation, len(windows))
	frames := make(chan *raster.Frame, d.deps.Pool.Config().Concurrency)

	var collectErr error

	collected := make(chan struct{})

	go func() {
		defer close(collected)

		for f := range frames {
			if collectErr != nil {
				continue
			}

			if err := totals.Add(f); err != nil {
				collectErr = err
				cancel(err)
			}
		}
	}()

	var mu sync.Mutex

	tasks := make([]worker.Task, len(windows))

	for i, w := range windows {
		tasks[i] = worker.Task{
			Key: w.Label,
			Run: func(ctx context.Context) error {
				begun := time.Now()

				observability.RecordWindowStart(cfg.ID)

				frame, obs, err := d.window(ctx, agg, w)
				if err != nil {
					observability.RecordWindowComplete(cfg.ID, "failed", time.Since(begun).Seconds())
					return &failure.WindowError{Dataset: cfg.ID, Window: w.Label, Err: err}
				}

				status := "success"
				if frame.Empty() {
					status = "empty"
				}

				observability.RecordWindowComplete(cfg.ID, status, time.Since(begun).Seconds())

				observations[i] = obs

				select {
				case frames <- frame:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		}

		if d.policy == Skip {
			tasks[i].Fallback = func(err error) error {
				if !failure.Skippable(err) {
					return err
				}

				var werr *failure.WindowError
				if !errors.As(err, &werr) {
					werr = &failure.WindowError{Dataset: cfg.ID, Window: w.Label, Err: err}
				}

				log.WithFields(logrus.Fields{
					"window": w.Label,
					"kind":   failure.Kind(err),
				}).WithError(err).Warn("Skipping failed window")

				observability.RecordWindowSkipped(cfg.ID)

				mu.Lock()
				res.Failures = append(res.Failures, werr)
				mu.Unlock()

				observations[i] = raster.MissingObservation(w.Start, w.Label, len(cfg.Bands))

				return nil
			}
		}
	}

	runErr := d.deps.Pool.Run(ctx, cfg.ID, tasks)

	close(frames)
	<-collected

	if collectErr != nil {
		return nil, collectErr
	}

	if runErr != nil {
		var werr *failure.WindowError
		if errors.As(runErr, &werr) {
			log.WithFields(logrus.Fields{
				"window": werr.Window,
				"kind":   failure.Kind(werr.Err),
			}).WithError(werr.Err).Error("Window failed")
		}

		return nil, runErr
	}

	slices.SortFunc(res.Failures, func(a, b *failure.WindowError) int {
		return strings.Compare(a.Window, b.Window)
	})

	return observations, nil
}

// window combines and reduces one window.
func (d *Driver) window(ctx context.Context, agg *aggregate.Aggregator, w window.Window) (*raster.Frame, raster.Observation, error) {
	frame, err := agg.Window(ctx, w)
	if err != nil {
		return nil, raster.Observation{}, err
	}

	obs, err := agg.Observe(ctx, w, frame)
	if err != nil {
		return nil, raster.Observation{}, err
	}

	return frame, obs, nil
}
