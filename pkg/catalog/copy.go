package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ethpandaops/gridstat/pkg/raster"
)

// DefaultCopyBatch is the number of frames written per Put by Copy
const DefaultCopyBatch = 256

// Writer stores frames under a dataset id
type Writer interface {
	Put(ctx context.Context, dataset string, frames ...*raster.Frame) error
}

// WriterFunc adapts a function to Writer
type WriterFunc func(ctx context.Context, dataset string, frames ...*raster.Frame) error

// Put implements Writer.
func (f WriterFunc) Put(ctx context.Context, dataset string, frames ...*raster.Frame) error {
	return f(ctx, dataset, frames...)
}

// MemoryWriter returns a Writer storing into m.
func MemoryWriter(m *Memory) Writer {
	return WriterFunc(func(_ context.Context, dataset string, frames ...*raster.Frame) error {
		m.Put(dataset, frames...)
		return nil
	})
}

// Copy streams the frames selected by q from src into dst under dataset, in
// batches of batch frames. It returns the number of frames copied.
func Copy(ctx context.Context, src Catalog, dst Writer, dataset string, q Query, batch int) (int, error) {
	if batch <= 0 {
		batch = DefaultCopyBatch
	}

	s, err := src.Fetch(ctx, q)
	if err != nil {
		return 0, err
	}
	defer s.Close() //nolint:errcheck // read-only stream

	var (
		buf    = make([]*raster.Frame, 0, batch)
		copied int
	)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}

		if err := dst.Put(ctx, dataset, buf...); err != nil {
			return fmt.Errorf("failed to copy frames of %s: %w", dataset, err)
		}

		copied += len(buf)
		buf = buf[:0]

		return nil
	}

	for {
		f, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return copied, err
		}

		buf = append(buf, f)

		if len(buf) == batch {
			if err := flush(); err != nil {
				return copied, err
			}
		}
	}

	if err := flush(); err != nil {
		return copied, err
	}

	return copied, nil
}
