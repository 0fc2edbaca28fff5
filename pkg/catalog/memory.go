package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethpandaops/gridstat/pkg/raster"
)

// Memory is an in-process catalog. It is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	datasets map[string][]*raster.Frame
}

// NewMemory creates an empty in-process catalog.
func NewMemory() *Memory {
	return &Memory{datasets: make(map[string][]*raster.Frame)}
}

// Name implements Catalog.
func (m *Memory) Name() string { return "memory" }

// Put adds frames to dataset, keeping the dataset in time order.
func (m *Memory) Put(dataset string, frames ...*raster.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// copy so streams already handed out keep their snapshot
	all := make([]*raster.Frame, 0, len(m.datasets[dataset])+len(frames))
	all = append(all, m.datasets[dataset]...)
	all = append(all, frames...)
	sortFrames(all)
	m.datasets[dataset] = all
}

// Datasets returns the ids of every dataset held.
func (m *Memory) Datasets() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.datasets))
	for id := range m.datasets {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Fetch implements Catalog.
func (m *Memory) Fetch(_ context.Context, q Query) (Stream, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	frames, ok := m.datasets[q.Dataset]
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, q.Dataset)
	}

	lo := sort.Search(len(frames), func(i int) bool { return !frames[i].Time().Before(q.Start) })
	hi := sort.Search(len(frames), func(i int) bool { return !frames[i].Time().Before(q.End) })

	selected := make([]*raster.Frame, 0, hi-lo)

	for _, f := range frames[lo:hi] {
		shaped, inside, err := Shape(f, q)
		if err != nil {
			return nil, err
		}

		if inside {
			selected = append(selected, shaped)
		}
	}

	return NewSliceStream(selected), nil
}

var _ Catalog = (*Memory)(nil)
