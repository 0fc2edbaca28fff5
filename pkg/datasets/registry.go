package datasets

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/creasty/defaults"
	"github.com/ethpandaops/gridstat/pkg/failure"
	"gopkg.in/yaml.v3"
)

// Registry maps dataset ids to configurations. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	datasets map[string]Config
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{datasets: make(map[string]Config)}
}

// Register validates cfg and adds it, replacing any dataset with the same id.
func (r *Registry) Register(cfg Config) error {
	cfg = cfg.Clone()

	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.datasets[cfg.ID] = cfg

	return nil
}

// Get returns the dataset with the given id.
func (r *Registry) Get(id string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.datasets[id]
	if !ok {
		return Config{}, fmt.Errorf("%w: %w: %s", failure.ErrConfiguration, ErrUnknownDataset, id)
	}

	return cfg.Clone(), nil
}

// List returns every dataset ordered by id.
func (r *Registry) List() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Config, 0, len(r.datasets))
	for _, cfg := range r.datasets {
		out = append(out, cfg.Clone())
	}

	slices.SortFunc(out, func(a, b Config) int { return strings.Compare(a.ID, b.ID) })

	return out
}

// IDs returns the registered ids in order.
func (r *Registry) IDs() []string {
	list := r.List()

	out := make([]string, len(list))
	for i, cfg := range list {
		out[i] = cfg.ID
	}

	return out
}

// file is the layout of a datasets YAML file
type file struct {
	Datasets []yaml.Node `yaml:"datasets"`
}

// Load reads dataset entries from YAML. An entry whose id is already
// registered overrides only the fields it sets; other entries are new
// datasets and start from the struct defaults. Nothing is registered unless
// every entry is valid.
func (r *Registry) Load(data []byte) error {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return failure.Configuration("failed to parse datasets: %v", err)
	}

	staged := make([]Config, 0, len(f.Datasets))

	for i := range f.Datasets {
		node := &f.Datasets[i]

		var head struct {
			ID string `yaml:"id"`
		}

		if err := node.Decode(&head); err != nil {
			return failure.Configuration("dataset entry %d: %v", i, err)
		}

		cfg, err := r.Get(head.ID)
		if err != nil {
			cfg = Config{}
			if err := defaults.Set(&cfg); err != nil {
				return fmt.Errorf("failed to set dataset defaults: %w", err)
			}
		}

		if err := node.Decode(&cfg); err != nil {
			return failure.Configuration("dataset %s: %v", head.ID, err)
		}

		if err := cfg.Validate(); err != nil {
			return err
		}

		staged = append(staged, cfg)
	}

	for _, cfg := range staged {
		if err := r.Register(cfg); err != nil {
			return err
		}
	}

	return nil
}

// LoadFile reads dataset entries from a YAML file.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read datasets file: %w", err)
	}

	return r.Load(data)
}
