// Package datasets holds the dataset definitions a run is parameterized by
package datasets

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/ethpandaops/gridstat/pkg/aggregate"
	"github.com/ethpandaops/gridstat/pkg/algebra"
	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/rendering"
	"github.com/ethpandaops/gridstat/pkg/window"
	"github.com/robfig/cron/v3"
)

var (
	// ErrUnknownDataset is returned for an id missing from the registry
	ErrUnknownDataset = errors.New("unknown dataset")
	// ErrIDRequired is returned for a dataset without an id
	ErrIDRequired = errors.New("dataset id is required")
)

// minimum length of one window per granularity
var minWindow = map[window.Granularity]time.Duration{ //nolint:gochecknoglobals // immutable lookup table
	window.Hour:  time.Hour,
	window.Day:   24 * time.Hour,
	window.Month: 28 * 24 * time.Hour,
	window.Year:  365 * 24 * time.Hour,
}

// Band maps a source band to its output column
type Band struct {
	Name   string `yaml:"name" json:"name"`
	Column string `yaml:"column" json:"column"`
}

// Export is one summary raster written per run
type Export struct {
	// Name is a destination name template.
	Name string `yaml:"name" json:"name"`
	// Bands to include, empty for every band.
	Bands []string `yaml:"bands,omitempty" json:"bands,omitempty"`
}

// RollupConfig controls the summary rasters
type RollupConfig struct {
	Period  window.Granularity `yaml:"period" json:"period"`
	Exports []Export           `yaml:"exports" json:"exports"`
	// ExportPeriods also writes every period total, named by PeriodName.
	ExportPeriods bool   `yaml:"exportPeriods" json:"exportPeriods"`
	PeriodName    string `yaml:"periodName,omitempty" json:"periodName,omitempty"`
}

// TableConfig controls the tabular export
type TableConfig struct {
	// Name is a destination name template.
	Name string `yaml:"name" json:"name"`
}

// Config describes one dataset. It is immutable once registered.
type Config struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	// Catalog is the catalog dataset id, defaulting to ID.
	Catalog          string             `yaml:"catalog" json:"catalog"`
	Bands            []Band             `yaml:"bands" json:"bands"`
	ResolutionMeters float64            `yaml:"resolutionMeters" json:"resolutionMeters"`
	UnitFactor       float64            `yaml:"unitFactor" default:"1" json:"unitFactor"`
	Granularity      window.Granularity `yaml:"granularity" default:"day" json:"granularity"`
	Cadence          window.Cadence     `yaml:"cadence" json:"cadence"`
	Combine          aggregate.Combine  `yaml:"combine" default:"sum" json:"combine"`
	Statistic        algebra.Statistic  `yaml:"statistic" default:"mean" json:"statistic"`
	// RangeStart is the first day and RangeEnd the last day included.
	RangeStart time.Time    `yaml:"rangeStart" json:"rangeStart"`
	RangeEnd   time.Time    `yaml:"rangeEnd" json:"rangeEnd"`
	TimeColumn string       `yaml:"timeColumn" default:"date" json:"timeColumn"`
	Table      TableConfig  `yaml:"table" json:"table"`
	Rollup     RollupConfig `yaml:"rollup" json:"rollup"`
	// Schedule is an optional cron expression for periodic runs.
	Schedule string `yaml:"schedule,omitempty" json:"schedule,omitempty"`
}

// Validate checks the dataset is runnable.
func (c *Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: %w", failure.ErrConfiguration, ErrIDRequired)
	}

	if err := c.validateBands(); err != nil {
		return err
	}

	if c.ResolutionMeters <= 0 || math.IsNaN(c.ResolutionMeters) {
		return failure.Configuration("dataset %s: resolution must be positive, got %g", c.ID, c.ResolutionMeters)
	}

	if !c.Granularity.Valid() {
		return failure.Configuration("dataset %s: unrecognized granularity %q", c.ID, c.Granularity)
	}

	if !c.Cadence.Valid() {
		return failure.Configuration("dataset %s: a native cadence is required", c.ID)
	}

	if err := c.Options().Validate(); err != nil {
		return fmt.Errorf("dataset %s: %w", c.ID, err)
	}

	if c.Combine == aggregate.CombineIdentity && !c.singleFramePerWindow() {
		return failure.Configuration("dataset %s: identity combine needs a cadence of at least one %s, got %s", c.ID, c.Granularity, c.Cadence)
	}

	if _, err := algebra.ParseStatistic(string(c.Statistic)); err != nil {
		return fmt.Errorf("dataset %s: %w", c.ID, err)
	}

	if c.RangeStart.IsZero() || c.RangeEnd.Before(c.RangeStart) {
		return failure.Configuration("dataset %s: range end %s is before start %s", c.ID, c.RangeEnd.Format(time.DateOnly), c.RangeStart.Format(time.DateOnly))
	}

	if c.TimeColumn == "" {
		return failure.Configuration("dataset %s: time column is required", c.ID)
	}

	if err := c.validateOutputs(); err != nil {
		return err
	}

	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return failure.Configuration("dataset %s: invalid schedule %q: %v", c.ID, c.Schedule, err)
		}
	}

	return nil
}

func (c *Config) validateBands() error {
	if len(c.Bands) == 0 {
		return failure.Configuration("dataset %s: at least one band is required", c.ID)
	}

	names := make(map[string]bool, len(c.Bands))
	columns := make(map[string]bool, len(c.Bands))

	for _, b := range c.Bands {
		if b.Name == "" || b.Column == "" {
			return failure.Configuration("dataset %s: bands need a name and a column", c.ID)
		}

		if names[b.Name] || columns[b.Column] {
			return failure.Configuration("dataset %s: duplicate band %s or column %s", c.ID, b.Name, b.Column)
		}

		names[b.Name] = true
		columns[b.Column] = true
	}

	return nil
}

func (c *Config) validateOutputs() error {
	templates := rendering.NewTemplateEngine()

	if c.Table.Name == "" {
		return failure.Configuration("dataset %s: table name is required", c.ID)
	}

	if err := templates.Check(c.Table.Name); err != nil {
		return failure.Configuration("dataset %s: table name: %v", c.ID, err)
	}

	if !c.Rollup.Period.Valid() || c.Granularity.Coarser(c.Rollup.Period) {
		return failure.Configuration("dataset %s: rollup period %q must be a granularity no finer than %s", c.ID, c.Rollup.Period, c.Granularity)
	}

	for _, e := range c.Rollup.Exports {
		if err := templates.Check(e.Name); err != nil || e.Name == "" {
			return failure.Configuration("dataset %s: invalid export name %q", c.ID, e.Name)
		}

		for _, b := range e.Bands {
			if !slices.Contains(c.BandNames(), b) {
				return failure.Configuration("dataset %s: export %s names unknown band %s", c.ID, e.Name, b)
			}
		}
	}

	if c.Rollup.ExportPeriods {
		if err := templates.Check(c.Rollup.PeriodName); err != nil || c.Rollup.PeriodName == "" {
			return failure.Configuration("dataset %s: exportPeriods needs a valid periodName", c.ID)
		}
	}

	return nil
}

// singleFramePerWindow reports whether no window can hold two native frames.
func (c *Config) singleFramePerWindow() bool {
	if c.Cadence.Granularity != "" {
		return !c.Granularity.Coarser(c.Cadence.Granularity)
	}

	return c.Cadence.Every >= minWindow[c.Granularity]
}

// CatalogID returns the catalog dataset id.
func (c *Config) CatalogID() string {
	if c.Catalog == "" {
		return c.ID
	}

	return c.Catalog
}

// BandNames returns the source band names in order.
func (c *Config) BandNames() []string {
	out := make([]string, len(c.Bands))
	for i, b := range c.Bands {
		out[i] = b.Name
	}

	return out
}

// Columns returns the output column names in band order.
func (c *Config) Columns() []string {
	out := make([]string, len(c.Bands))
	for i, b := range c.Bands {
		out[i] = b.Column
	}

	return out
}

// Options returns the window aggregation options.
func (c *Config) Options() aggregate.Options {
	return aggregate.Options{
		Bands:      c.BandNames(),
		Combine:    c.Combine,
		UnitFactor: c.UnitFactor,
	}
}

// PartitionRange returns the half-open range [RangeStart, RangeEnd + 1 day).
func (c *Config) PartitionRange() (start, end time.Time) {
	start = window.Truncate(c.RangeStart, window.Day)
	end = window.Truncate(c.RangeEnd, window.Day).AddDate(0, 0, 1)

	return start, end
}

// WithRange returns a copy covering [first, last] days.
func (c Config) WithRange(first, last time.Time) Config {
	c.RangeStart = first.UTC()
	c.RangeEnd = last.UTC()

	return c
}

// Clone returns a deep copy.
func (c Config) Clone() Config {
	c.Bands = slices.Clone(c.Bands)
	c.Rollup.Exports = slices.Clone(c.Rollup.Exports)

	for i := range c.Rollup.Exports {
		c.Rollup.Exports[i].Bands = slices.Clone(c.Rollup.Exports[i].Bands)
	}

	return c
}
