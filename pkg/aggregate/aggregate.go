// Package aggregate combines catalog frames into one frame per time window
// and reduces each window frame to an observation
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"slices"
	"strings"

	"github.com/ethpandaops/gridstat/pkg/algebra"
	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/window"
)

// Combine is how the frames of one window become one frame
type Combine string

// Supported combine operations
const (
	// CombineSum adds frames per pixel; used for accumulative quantities.
	CombineSum Combine = "sum"
	// CombineMean averages frames per pixel; used for instantaneous
	// quantities sampled more than once per window.
	CombineMean Combine = "mean"
	// CombineIdentity passes the single frame of a window through; used when
	// the native cadence equals the window.
	CombineIdentity Combine = "identity"
)

// ParseCombine parses a combine name, defaulting to sum when empty.
func ParseCombine(s string) (Combine, error) {
	switch c := Combine(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CombineSum, nil
	case CombineSum, CombineMean, CombineIdentity:
		return c, nil
	default:
		return "", failure.Configuration("unknown combine operation %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Combine) UnmarshalText(text []byte) error {
	parsed, err := ParseCombine(string(text))
	if err != nil {
		return err
	}

	*c = parsed

	return nil
}

// Options parameterize window aggregation
type Options struct {
	// Bands carried by every frame, also used for empty windows.
	Bands   []string
	Combine Combine
	// UnitFactor multiplies the combined frame.
	UnitFactor float64
}

// Validate checks the options.
func (o Options) Validate() error {
	if len(o.Bands) == 0 {
		return failure.Configuration("at least one band is required")
	}

	if _, err := ParseCombine(string(o.Combine)); err != nil {
		return err
	}

	if o.UnitFactor == 0 || math.IsNaN(o.UnitFactor) || math.IsInf(o.UnitFactor, 0) {
		return failure.Configuration("unit factor must be finite and non-zero, got %g", o.UnitFactor)
	}

	return nil
}

// Windowed is a window and its combined frame
type Windowed struct {
	Window window.Window
	Frame  *raster.Frame
}

// FrameSource is the part of a catalog stream Aggregate reads.
type FrameSource interface {
	Next(ctx context.Context) (*raster.Frame, error)
}

// Each reads frames in ascending time order from src and calls fn once per
// window, in window order, with the combined frame of that window. Windows
// must be ascending and non-overlapping. Frames outside every window are
// discarded. A window without frames yields an empty frame, never an error.
func Each(ctx context.Context, engine algebra.Engine, src FrameSource, windows []window.Window, opts Options, fn func(Windowed) error) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	if len(windows) == 0 {
		return nil
	}

	wi := 0
	cur := newBucket(windows[0], opts, engine)

	emit := func() error {
		f, err := cur.finish()
		if err != nil {
			return err
		}

		if err := fn(Windowed{Window: cur.w, Frame: f}); err != nil {
			return err
		}

		wi++
		if wi < len(windows) {
			cur = newBucket(windows[wi], opts, engine)
		}

		return nil
	}

	for wi < len(windows) {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return err
		}

		t := f.Time()

		for wi < len(windows) && !t.Before(windows[wi].End) {
			if err := emit(); err != nil {
				return err
			}
		}

		if wi == len(windows) {
			break
		}

		if t.Before(windows[wi].Start) {
			continue
		}

		if err := cur.add(f); err != nil {
			return err
		}
	}

	for wi < len(windows) {
		if err := emit(); err != nil {
			return err
		}
	}

	return nil
}

// Aggregate is Each collected into a slice: exactly one entry per window.
func Aggregate(ctx context.Context, engine algebra.Engine, src FrameSource, windows []window.Window, opts Options) ([]Windowed, error) {
	out := make([]Windowed, 0, len(windows))

	err := Each(ctx, engine, src, windows, opts, func(w Windowed) error {
		out = append(out, w)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// sumBatch bounds the frames a sum bucket holds before folding them.
const sumBatch = 16

// bucket collects the frames of one window and combines them on the engine.
// Sum buckets fold every sumBatch frames into one partial sum; mean buckets
// keep every frame of the window until finish.
type bucket struct {
	w      window.Window
	opts   Options
	engine algebra.Engine
	frames []*raster.Frame
	n      int
}

func newBucket(w window.Window, opts Options, engine algebra.Engine) *bucket {
	return &bucket{w: w, opts: opts, engine: engine}
}

func (b *bucket) add(f *raster.Frame) error {
	if !slices.Equal(f.Bands(), b.opts.Bands) {
		return failure.Configuration("window %s: frame bands %v, expected %v", b.w.Label, f.Bands(), b.opts.Bands)
	}

	b.n++

	if b.opts.Combine == CombineIdentity && b.n > 1 {
		return failure.Configuration("window %s holds more than one frame; identity combine needs one frame per window", b.w.Label)
	}

	if f.Empty() {
		return nil
	}

	b.frames = append(b.frames, f)

	if b.opts.Combine != CombineMean && len(b.frames) >= sumBatch {
		partial, err := b.engine.Sum(b.frames)
		if err != nil {
			return fmt.Errorf("window %s: %w", b.w.Label, err)
		}

		clear(b.frames)
		b.frames = append(b.frames[:0], partial)
	}

	return nil
}

func (b *bucket) finish() (*raster.Frame, error) {
	if len(b.frames) == 0 {
		return raster.EmptyFrame(b.w.Start, b.w.Label, b.opts.Bands), nil
	}

	var (
		combined *raster.Frame
		err      error
	)

	switch b.opts.Combine {
	case CombineIdentity:
		combined = b.frames[0]
	case CombineMean:
		combined, err = b.engine.Mean(b.frames)
	default:
		combined, err = b.engine.Sum(b.frames)
	}

	if err != nil {
		return nil, fmt.Errorf("window %s: %w", b.w.Label, err)
	}

	combined = combined.Relabel(b.w.Start, b.w.Label)

	if b.opts.UnitFactor != 1 {
		combined = b.engine.Scale(combined, b.opts.UnitFactor)
	}

	return combined, nil
}
