package raster

import (
	"slices"
	"time"
)

// Observation is one row of the tabular series: the regional statistic of
// every band for one window. Missing values are NaN.
type Observation struct {
	Label   string
	Time    time.Time
	Values  []float64
	Sources int
}

// Missing reports whether value i is missing.
func (o Observation) Missing(i int) bool {
	return IsNoData(o.Values[i])
}

// MissingObservation returns an observation whose every value is missing.
func MissingObservation(t time.Time, label string, n int) Observation {
	return Observation{Label: label, Time: t.UTC(), Values: filled(n, NoData())}
}

// Series is the ordered tabular output of a run.
type Series struct {
	Dataset      string
	TimeColumn   string
	Columns      []string
	Observations []Observation
}

// Len returns the number of observations.
func (s *Series) Len() int {
	return len(s.Observations)
}

// Header returns the tabular header row.
func (s *Series) Header() []string {
	return append([]string{s.TimeColumn}, s.Columns...)
}

// Sorted reports whether observations ascend by time.
func (s *Series) Sorted() bool {
	return slices.IsSortedFunc(s.Observations, func(a, b Observation) int {
		return a.Time.Compare(b.Time)
	})
}

// Summary kinds
const (
	KindTotal = "total"
	KindMean  = "mean"
)

// Summary is an aggregate raster: a per-period total or the mean across periods.
type Summary struct {
	*Frame
	Kind    string
	Period  string
	Periods int
}
