// Package catalog defines the gridded-data catalog the pipeline reads frames from
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/paulmach/orb"
)

var (
	// ErrUnknownDataset is returned when the catalog holds no dataset with the requested id
	ErrUnknownDataset = errors.New("unknown dataset")
	// ErrInvalidQuery is returned for a query with an empty time range
	ErrInvalidQuery = errors.New("invalid catalog query")
	// ErrOutOfOrder is returned when a backend yields frames out of time order
	ErrOutOfOrder = errors.New("catalog frames out of order")
)

// Query selects frames of one dataset
type Query struct {
	Dataset string
	// Bands to keep, in order; empty keeps every band.
	Bands []string
	// Start and End bound frame times as [Start, End).
	Start time.Time
	End   time.Time
	// Bounds crops frames unless zero.
	Bounds orb.Bound
}

// Validate checks the query is usable.
func (q Query) Validate() error {
	if q.Dataset == "" {
		return fmt.Errorf("%w: dataset is required", ErrInvalidQuery)
	}

	if !q.End.After(q.Start) {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidQuery, q.End.Format(time.RFC3339), q.Start.Format(time.RFC3339))
	}

	return nil
}

// Stream is a lazy, finite sequence of frames in ascending time order.
type Stream interface {
	// Next returns the next frame, or io.EOF once the stream is exhausted.
	Next(ctx context.Context) (*raster.Frame, error)
	Close() error
}

// Catalog supplies frames by dataset, band and time range.
type Catalog interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	Fetch(ctx context.Context, q Query) (Stream, error)
}

// Shape applies the band and bounds parts of q to f. ok is false when the
// frame lies outside the bounds.
func Shape(f *raster.Frame, q Query) (*raster.Frame, bool, error) {
	out, err := f.Select(q.Bands...)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", failure.ErrConfiguration, err)
	}

	if q.Bounds.IsZero() {
		return out, true, nil
	}

	out, ok := out.Crop(q.Bounds)

	return out, ok, nil
}

// sliceStream serves frames from memory
type sliceStream struct {
	frames []*raster.Frame
	pos    int
}

// NewSliceStream returns a stream over frames, which must already be in
// ascending time order.
func NewSliceStream(frames []*raster.Frame) Stream {
	return &sliceStream{frames: frames}
}

func (s *sliceStream) Next(ctx context.Context) (*raster.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s.pos >= len(s.frames) {
		return nil, io.EOF
	}

	f := s.frames[s.pos]
	s.pos++

	return f, nil
}

func (s *sliceStream) Close() error {
	s.pos = len(s.frames)
	return nil
}

// Collect drains s into a slice and closes it. It fails if frames are not
// in ascending time order.
func Collect(ctx context.Context, s Stream) ([]*raster.Frame, error) {
	defer s.Close() //nolint:errcheck // close after a full read

	var frames []*raster.Frame

	for {
		f, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return frames, nil
		}

		if err != nil {
			return nil, err
		}

		if n := len(frames); n > 0 && f.Time().Before(frames[n-1].Time()) {
			return nil, fmt.Errorf("%w: %s after %s", ErrOutOfOrder, f.Time().Format(time.RFC3339), frames[n-1].Time().Format(time.RFC3339))
		}

		frames = append(frames, f)
	}
}

// sortFrames orders frames by time, stable for equal times.
func sortFrames(frames []*raster.Frame) {
	slices.SortStableFunc(frames, func(a, b *raster.Frame) int {
		return a.Time().Compare(b.Time())
	})
}
