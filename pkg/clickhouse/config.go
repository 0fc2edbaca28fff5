// Package clickhouse writes observation series to ClickHouse over its HTTP interface
package clickhouse

import (
	"errors"
	"os"
	"regexp"
	"time"
)

// Static errors for configuration validation
var (
	ErrURLRequired  = errors.New("URL is required")
	ErrInvalidTable = errors.New("invalid clickhouse database or table name")

	identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Config contains ClickHouse connection and destination settings
type Config struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Database      string        `yaml:"database" default:"default"`
	Table         string        `yaml:"table" default:"gridstat_observations"`
	Cluster       string        `yaml:"cluster"`
	QueryTimeout  time.Duration `yaml:"queryTimeout" default:"30s"`
	InsertTimeout time.Duration `yaml:"insertTimeout" default:"5m"`
	KeepAlive     time.Duration `yaml:"keepAlive" default:"30s"`
	Debug         bool          `yaml:"debug"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.URL == "" {
		return ErrURLRequired
	}

	if !identifier.MatchString(c.Database) || !identifier.MatchString(c.Table) {
		return ErrInvalidTable
	}

	return nil
}

// SetDefaults fills zero durations and names
func (c *Config) SetDefaults() {
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 30 * time.Second
	}

	if c.InsertTimeout == 0 {
		c.InsertTimeout = 5 * time.Minute
	}

	if c.KeepAlive == 0 {
		c.KeepAlive = 30 * time.Second
	}

	if c.Database == "" {
		c.Database = "default"
	}

	if c.Table == "" {
		c.Table = "gridstat_observations"
	}
}

// MapDatabase maps a logical database name to a physical database name.
// If GRIDSTAT_DATABASE_PREFIX is set it is prepended.
func (c *Config) MapDatabase(logicalName string) string {
	if prefix := os.Getenv("GRIDSTAT_DATABASE_PREFIX"); prefix != "" {
		return prefix + logicalName
	}

	return logicalName
}

// QualifiedTable returns database.table after database mapping
func (c *Config) QualifiedTable() string {
	return c.MapDatabase(c.Database) + "." + c.Table
}
