// Package rollup aggregates window frames into per-period totals and the
// mean across periods
package rollup

import (
	"fmt"
	"slices"
	"time"

	"github.com/ethpandaops/gridstat/pkg/algebra"
	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/window"
)

// Rollup accumulates window frames into per-period running totals.
//
// A Rollup has a single writer. Concurrent producers either send frames to
// the one goroutine that owns it or fill their own Rollup and Merge the
// partial results afterwards; both give the same totals.
type Rollup struct {
	period window.Granularity
	bands  []string
	totals map[string]*periodTotal

	// running is set when every added frame is a whole period. Frames then
	// go straight into one mean accumulator and no period totals are kept.
	running *runningMean
}

type runningMean struct {
	acc          *algebra.Accumulator
	first, last  time.Time
	seen         int
	contributing int
}

type periodTotal struct {
	start time.Time
	acc   *algebra.Accumulator
}

// New creates a rollup grouping frames by period.
func New(period window.Granularity, bands []string) (*Rollup, error) {
	if !period.Valid() {
		return nil, failure.Configuration("unrecognized rollup period %q", period)
	}

	if len(bands) == 0 {
		return nil, failure.Configuration("rollup needs at least one band")
	}

	return &Rollup{
		period: period,
		bands:  slices.Clone(bands),
		totals: make(map[string]*periodTotal),
	}, nil
}

// NewRunningMean creates a rollup for frames that each cover exactly one
// period, such as hourly frames rolled up per hour. It keeps a single running
// mean instead of one total per period, so Periods returns nil and Mean
// equals MeanAcrossPeriods over the totals New would have kept.
func NewRunningMean(period window.Granularity, bands []string) (*Rollup, error) {
	r, err := New(period, bands)
	if err != nil {
		return nil, err
	}

	r.totals = nil
	r.running = &runningMean{acc: algebra.NewAccumulator(r.bands)}

	return r, nil
}

// Period returns the grouping granularity.
func (r *Rollup) Period() window.Granularity { return r.period }

func (r *Rollup) total(start time.Time) *periodTotal {
	key := window.Label(start, r.period)

	pt, ok := r.totals[key]
	if !ok {
		pt = &periodTotal{start: start, acc: algebra.NewAccumulator(r.bands)}
		r.totals[key] = pt
	}

	return pt
}

// Add adds a window frame to the total of the period containing its time.
// Empty frames register the period without contributing pixels.
func (r *Rollup) Add(f *raster.Frame) error {
	if r.running != nil {
		start := window.Truncate(f.Time(), r.period)

		if err := r.running.add(start, f); err != nil {
			return fmt.Errorf("period %s: %w", window.Label(start, r.period), err)
		}

		return nil
	}

	pt := r.total(window.Truncate(f.Time(), r.period))

	if err := pt.acc.Add(f); err != nil {
		return fmt.Errorf("period %s: %w", window.Label(pt.start, r.period), err)
	}

	return nil
}

// Merge folds other into r. Both must group by the same period.
func (r *Rollup) Merge(other *Rollup) error {
	if other.period != r.period {
		return failure.Configuration("cannot merge %s rollup into %s rollup", other.period, r.period)
	}

	if (r.running == nil) != (other.running == nil) {
		return failure.Configuration("cannot merge a running mean rollup with a per-period rollup")
	}

	if r.running != nil {
		return r.running.merge(other.running)
	}

	for key, pt := range other.totals {
		mine := r.total(pt.start)

		if err := mine.acc.Merge(pt.acc); err != nil {
			return fmt.Errorf("period %s: %w", key, err)
		}
	}

	return nil
}

// Len returns the number of periods seen.
func (r *Rollup) Len() int {
	if r.running != nil {
		return r.running.seen
	}

	return len(r.totals)
}

// Periods returns one total per period seen, ascending. Periods that saw only
// empty frames yield empty summaries. A running mean rollup returns nil.
func (r *Rollup) Periods() []*raster.Summary {
	if r.running != nil {
		return nil
	}

	keys := make([]string, 0, len(r.totals))
	for key := range r.totals {
		keys = append(keys, key)
	}

	slices.SortFunc(keys, func(a, b string) int {
		return r.totals[a].start.Compare(r.totals[b].start)
	})

	out := make([]*raster.Summary, 0, len(keys))

	for _, key := range keys {
		pt := r.totals[key]
		out = append(out, &raster.Summary{
			Frame:   pt.acc.Sum(pt.start, key),
			Kind:    raster.KindTotal,
			Period:  key,
			Periods: 1,
		})
	}

	return out
}

// Mean returns the per-pixel mean of the period totals.
func (r *Rollup) Mean() (*raster.Summary, error) {
	if r.running != nil {
		return r.running.summary(r.period)
	}

	return MeanAcrossPeriods(r.Periods())
}

// Summaries returns the period totals and their mean. The mean is nil when no
// period was seen; the totals are nil for a running mean rollup.
func (r *Rollup) Summaries() ([]*raster.Summary, *raster.Summary, error) {
	if r.Len() == 0 {
		return nil, nil, nil
	}

	if r.running != nil {
		mean, err := r.running.summary(r.period)
		return nil, mean, err
	}

	periods := r.Periods()

	mean, err := MeanAcrossPeriods(periods)
	if err != nil {
		return nil, nil, err
	}

	return periods, mean, nil
}

func (m *runningMean) span(start time.Time) {
	if m.seen == 0 || start.Before(m.first) {
		m.first = start
	}

	if m.seen == 0 || start.After(m.last) {
		m.last = start
	}
}

func (m *runningMean) add(start time.Time, f *raster.Frame) error {
	if err := m.acc.Add(f); err != nil {
		return err
	}

	m.span(start)
	m.seen++

	if !f.Empty() {
		m.contributing++
	}

	return nil
}

func (m *runningMean) merge(other *runningMean) error {
	if other.seen == 0 {
		return nil
	}

	if err := m.acc.Merge(other.acc); err != nil {
		return err
	}

	if m.seen == 0 {
		m.first, m.last = other.first, other.last
	} else {
		m.span(other.first)
		m.span(other.last)
	}

	m.seen += other.seen
	m.contributing += other.contributing

	return nil
}

func (m *runningMean) summary(period window.Granularity) (*raster.Summary, error) {
	if m.seen == 0 {
		return nil, failure.Configuration("no periods to average")
	}

	label := window.Label(m.first, period)
	if last := window.Label(m.last, period); last != label {
		label = label + "-" + last
	}

	return &raster.Summary{
		Frame:   m.acc.Mean(m.first, label),
		Kind:    raster.KindMean,
		Period:  label,
		Periods: m.contributing,
	}, nil
}

// RollupToPeriod groups window frames by the period containing each frame's
// time and sums every group.
func RollupToPeriod(frames []*raster.Frame, period window.Granularity) ([]*raster.Summary, error) {
	if len(frames) == 0 {
		return nil, nil
	}

	r, err := New(period, frames[0].Bands())
	if err != nil {
		return nil, err
	}

	for _, f := range frames {
		if err := r.Add(f); err != nil {
			return nil, err
		}
	}

	return r.Periods(), nil
}

// MeanAcrossPeriods averages period totals pixel by pixel. A pixel that is
// no-data in a period is left out of that pixel's denominator. The result
// does not depend on the order of periods.
func MeanAcrossPeriods(periods []*raster.Summary) (*raster.Summary, error) {
	if len(periods) == 0 {
		return nil, failure.Configuration("no periods to average")
	}

	ordered := slices.Clone(periods)
	slices.SortFunc(ordered, func(a, b *raster.Summary) int {
		return a.Time().Compare(b.Time())
	})

	acc := algebra.NewAccumulator(ordered[0].Bands())
	contributing := 0

	for _, p := range ordered {
		if p.Empty() {
			continue
		}

		if err := acc.Add(p.Frame); err != nil {
			return nil, fmt.Errorf("period %s: %w", p.Period, err)
		}

		contributing++
	}

	label := ordered[0].Period
	if last := ordered[len(ordered)-1].Period; last != label {
		label = label + "-" + last
	}

	return &raster.Summary{
		Frame:   acc.Mean(ordered[0].Time(), label),
		Kind:    raster.KindMean,
		Period:  label,
		Periods: contributing,
	}, nil
}
