// Package engine wires the gridstat services together
package engine

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/creasty/defaults"
	"github.com/ethpandaops/gridstat/pkg/api"
	"github.com/ethpandaops/gridstat/pkg/clickhouse"
	"github.com/ethpandaops/gridstat/pkg/pipeline"
	"github.com/ethpandaops/gridstat/pkg/raster"
	"github.com/ethpandaops/gridstat/pkg/redis"
	"github.com/ethpandaops/gridstat/pkg/scheduler"
	"github.com/ethpandaops/gridstat/pkg/sink/sqlsink"
	"github.com/ethpandaops/gridstat/pkg/worker"
	"gopkg.in/yaml.v3"
)

// Catalog backends
const (
	CatalogMemory    = "memory"
	CatalogSynthetic = "synthetic"
	CatalogRedis     = "redis"
)

var (
	// ErrInvalidCatalogType is returned for a catalog type other than memory, synthetic or redis
	ErrInvalidCatalogType = errors.New("invalid catalog type")
	// ErrOutputDirectoryRequired is returned when a file sink is enabled without a directory
	ErrOutputDirectoryRequired = errors.New("output directory is required for csv and geotiff outputs")
	// ErrInvalidScale is returned for a non-positive synthetic scale
	ErrInvalidScale = errors.New("synthetic scale must be positive")
)

// Config represents the complete engine configuration
type Config struct {
	// Core settings
	Logging         string `yaml:"logging" default:"info" validate:"oneof=panic fatal warn info debug trace"`
	MetricsAddr     string `yaml:"metricsAddr" default:":9091"`
	HealthCheckAddr string `yaml:"healthCheckAddr"`
	PProfAddr       string `yaml:"pprofAddr"`

	// Where frames come from
	Catalog CatalogConfig `yaml:"catalog"`

	// Extra or overriding dataset definitions
	Datasets DatasetsConfig `yaml:"datasets"`

	// Window execution
	Worker worker.Config `yaml:"worker"`

	// Reduction and failure policy
	Pipeline pipeline.Config `yaml:"pipeline"`

	// Where results go
	Outputs OutputsConfig `yaml:"outputs"`

	// API service configuration
	API api.Config `yaml:"api"`

	// Periodic runs
	Scheduler scheduler.Config `yaml:"scheduler"`
}

// CatalogConfig selects the frame catalog
type CatalogConfig struct {
	Type  string       `yaml:"type" default:"synthetic"`
	Redis redis.Config `yaml:"redis"`
	// CacheFrames is the number of decoded Redis frames kept in process.
	CacheFrames int `yaml:"cacheFrames" default:"1024"`
	// Synthetic generates frames for every dataset. It also feeds the
	// memory catalog and `catalog seed`.
	Synthetic SyntheticConfig `yaml:"synthetic"`
	// Preload lists the datasets copied into the memory catalog at startup.
	Preload []string `yaml:"preload"`
}

// SyntheticConfig describes the generated frames
type SyntheticConfig struct {
	Grid  raster.Grid `yaml:"grid"`
	Scale float64     `yaml:"scale" default:"1"`
}

// DatasetsConfig points at a YAML file of dataset definitions
type DatasetsConfig struct {
	Path string `yaml:"path"`
}

// OutputsConfig selects the sinks
type OutputsConfig struct {
	Directory  string            `yaml:"directory" default:"./output"`
	CSV        bool              `yaml:"csv" default:"true"`
	GeoTIFF    bool              `yaml:"geotiff" default:"true"`
	SQL        sqlsink.Config    `yaml:"sql"`
	ClickHouse clickhouse.Config `yaml:"clickhouse"`
}

// DefaultGrid covers the Gheba catchment at roughly 5.5km.
func DefaultGrid() raster.Grid {
	return raster.Grid{OriginX: 38.9, OriginY: 14.1, PixelWidth: 0.05, PixelHeight: 0.05, Width: 30, Height: 22}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Catalog.Validate(); err != nil {
		return err
	}

	if err := c.Worker.Validate(); err != nil {
		return err
	}

	if err := c.Pipeline.Validate(); err != nil {
		return err
	}

	if err := c.Outputs.Validate(); err != nil {
		return err
	}

	if err := c.API.Validate(); err != nil {
		return err
	}

	return c.Scheduler.Validate()
}

// Validate checks the catalog configuration
func (c *CatalogConfig) Validate() error {
	c.Type = strings.ToLower(strings.TrimSpace(c.Type))

	switch c.Type {
	case CatalogMemory, CatalogSynthetic:
	case CatalogRedis:
		if err := c.Redis.Validate(); err != nil {
			return fmt.Errorf("invalid redis configuration: %w", err)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCatalogType, c.Type)
	}

	if c.Synthetic.Grid.IsZero() {
		c.Synthetic.Grid = DefaultGrid()
	}

	if err := c.Synthetic.Grid.Validate(); err != nil {
		return fmt.Errorf("invalid synthetic grid: %w", err)
	}

	if c.Synthetic.Scale <= 0 {
		return ErrInvalidScale
	}

	return nil
}

// Validate checks the sink configuration
func (c *OutputsConfig) Validate() error {
	if (c.CSV || c.GeoTIFF) && c.Directory == "" {
		return ErrOutputDirectoryRequired
	}

	if err := c.SQL.Validate(); err != nil {
		return err
	}

	return c.ClickHouse.Validate()
}

// LoadConfig reads a YAML config file over the defaults. A missing file
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if err := defaults.Set(cfg); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}
