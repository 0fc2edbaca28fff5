// Package window partitions a time range into calendar-aligned windows
package window

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/gridstat/pkg/failure"
)

// Granularity is the size of a window
type Granularity string

// Supported granularities
const (
	Hour  Granularity = "hour"
	Day   Granularity = "day"
	Month Granularity = "month"
	Year  Granularity = "year"
)

// label layouts per granularity
var layouts = map[Granularity]string{ //nolint:gochecknoglobals // immutable lookup table
	Hour:  "2006-01-02 15:04:05",
	Day:   "2006-01-02",
	Month: "2006-01",
	Year:  "2006",
}

// rank orders granularities from finest to coarsest
var rank = map[Granularity]int{Hour: 0, Day: 1, Month: 2, Year: 3} //nolint:gochecknoglobals // immutable lookup table

// ParseGranularity parses a granularity name.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", failure.Configuration("unrecognized granularity %q", s)
	}

	return g, nil
}

// Valid reports whether g is a supported granularity.
func (g Granularity) Valid() bool {
	_, ok := layouts[g]
	return ok
}

// Layout returns the time layout used for window labels.
func (g Granularity) Layout() string {
	return layouts[g]
}

// Coarser reports whether g spans more time than other.
func (g Granularity) Coarser(other Granularity) bool {
	return rank[g] > rank[other]
}

// UnmarshalText implements encoding.TextUnmarshaler so configs can name a granularity.
func (g *Granularity) UnmarshalText(text []byte) error {
	parsed, err := ParseGranularity(string(text))
	if err != nil {
		return err
	}

	*g = parsed

	return nil
}

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
	Label string
}

// Contains reports whether t falls in [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

func (w Window) String() string {
	return fmt.Sprintf("%s [%s, %s)", w.Label, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Truncate returns the start of the window of granularity g containing t (UTC).
func Truncate(t time.Time, g Granularity) time.Time {
	t = t.UTC()

	switch g {
	case Hour:
		return t.Truncate(time.Hour)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	case Year:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// Next returns the start of the window following the one that starts at t.
func Next(t time.Time, g Granularity) time.Time {
	switch g {
	case Hour:
		return t.Add(time.Hour)
	case Day:
		return t.AddDate(0, 0, 1)
	case Month:
		return t.AddDate(0, 1, 0)
	case Year:
		return t.AddDate(1, 0, 0)
	default:
		return t
	}
}

// Label formats t with the layout of g.
func Label(t time.Time, g Granularity) string {
	return t.UTC().Format(g.Layout())
}

// ParseLabel recovers the window start and granularity from a window label.
func ParseLabel(label string) (time.Time, Granularity, error) {
	for _, g := range []Granularity{Hour, Day, Month, Year} {
		if len(label) != len(g.Layout()) {
			continue
		}

		if t, err := time.ParseInLocation(g.Layout(), label, time.UTC); err == nil {
			return t, g, nil
		}
	}

	return time.Time{}, "", failure.Configuration("unrecognized window label %q", label)
}

// Of returns the window of granularity g that contains t.
func Of(t time.Time, g Granularity) Window {
	start := Truncate(t, g)
	return Window{Start: start, End: Next(start, g), Label: Label(start, g)}
}

// PeriodKey returns the label of the coarser period g that contains w.
func PeriodKey(w Window, g Granularity) string {
	return Label(w.Start, g)
}

// Partitioning is the result of Partition
type Partitioning struct {
	Granularity Granularity
	Windows     []Window
	// Truncated is set when the requested range did not end on a window boundary.
	// Dropped is the uncovered tail [Windows[last].End, requested end).
	Truncated bool
	Dropped   Window
}

// Start returns the start of the first window.
func (p Partitioning) Start() time.Time {
	return p.Windows[0].Start
}

// End returns the end of the last window.
func (p Partitioning) End() time.Time {
	return p.Windows[len(p.Windows)-1].End
}

// Partition splits [start, end) into contiguous calendar-aligned windows.
//
// A start that is not on a boundary is moved up to the next boundary and an
// end that is not on a boundary is moved down to the previous one; partial
// windows are never emitted. Truncation of the tail is reported on the result.
func Partition(start, end time.Time, g Granularity) (Partitioning, error) {
	if !g.Valid() {
		return Partitioning{}, failure.Configuration("unrecognized granularity %q", g)
	}

	start, end = start.UTC(), end.UTC()
	if !end.After(start) {
		return Partitioning{}, failure.Configuration("range end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	first := Truncate(start, g)
	if first.Before(start) {
		first = Next(first, g)
	}

	result := Partitioning{Granularity: g}

	for cur := first; ; {
		next := Next(cur, g)
		if next.After(end) {
			break
		}

		result.Windows = append(result.Windows, Window{Start: cur, End: next, Label: Label(cur, g)})
		cur = next
	}

	if len(result.Windows) == 0 {
		return Partitioning{}, failure.Configuration("range [%s, %s) holds no complete %s window", start.Format(time.RFC3339), end.Format(time.RFC3339), g)
	}

	if last := result.End(); last.Before(end) {
		result.Truncated = true
		result.Dropped = Window{Start: last, End: end, Label: Label(last, g)}
	}

	return result, nil
}

// Cadence is the native time step of a source: either a calendar
// granularity or a fixed duration such as 3h.
type Cadence struct {
	Granularity Granularity
	Every       time.Duration
}

// ParseCadence parses a granularity name or a Go duration.
func ParseCadence(s string) (Cadence, error) {
	if g, err := ParseGranularity(s); err == nil {
		return Cadence{Granularity: g}, nil
	}

	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return Cadence{}, failure.Configuration("cadence %q is neither a granularity nor a positive duration", s)
	}

	return Cadence{Every: d}, nil
}

// Valid reports whether c describes a usable step.
func (c Cadence) Valid() bool {
	return c.Every > 0 || c.Granularity.Valid()
}

// Next returns the step after t.
func (c Cadence) Next(t time.Time) time.Time {
	if c.Every > 0 {
		return t.Add(c.Every)
	}

	return Next(t, c.Granularity)
}

// Align returns the first step at or after t. Duration cadences are
// anchored at the Unix epoch.
func (c Cadence) Align(t time.Time) time.Time {
	t = t.UTC()

	var aligned time.Time
	if c.Every > 0 {
		aligned = t.Truncate(c.Every)
	} else {
		aligned = Truncate(t, c.Granularity)
	}

	if aligned.Before(t) {
		aligned = c.Next(aligned)
	}

	return aligned
}

func (c Cadence) String() string {
	if c.Every > 0 {
		return c.Every.String()
	}

	return string(c.Granularity)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Cadence) UnmarshalText(text []byte) error {
	parsed, err := ParseCadence(string(text))
	if err != nil {
		return err
	}

	*c = parsed

	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (c Cadence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}
