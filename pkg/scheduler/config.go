// Package scheduler runs configured dataset jobs on cron schedules. One
// instance at a time holds the schedule, elected through Redis.
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrJobDatasetRequired is returned for a job without a dataset
	ErrJobDatasetRequired = errors.New("job dataset is required")
	// ErrJobRegionRequired is returned for a job without a region file
	ErrJobRegionRequired = errors.New("job region is required")
	// ErrInvalidTickInterval is returned when the tick interval is not positive
	ErrInvalidTickInterval = errors.New("tick interval must be positive")
)

// Job is one dataset run over one region on a schedule
type Job struct {
	Dataset string `yaml:"dataset"`
	// Region is the path of a GeoJSON file.
	Region string `yaml:"region"`
	// Schedule is a cron expression; empty uses the dataset's schedule.
	Schedule string `yaml:"schedule"`
}

// Config defines scheduler configuration
type Config struct {
	Enabled         bool          `yaml:"enabled"`
	Jobs            []Job         `yaml:"jobs"`
	TickInterval    time.Duration `yaml:"tickInterval" default:"1s"`
	RunTimeout      time.Duration `yaml:"runTimeout" default:"6h"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"10s"`
}

// Validate checks if the scheduler configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.TickInterval <= 0 {
		return ErrInvalidTickInterval
	}

	for i, j := range c.Jobs {
		if j.Dataset == "" {
			return fmt.Errorf("job %d: %w", i, ErrJobDatasetRequired)
		}

		if j.Region == "" {
			return fmt.Errorf("job %d: %w", i, ErrJobRegionRequired)
		}

		if j.Schedule != "" {
			if _, err := cron.ParseStandard(j.Schedule); err != nil {
				return fmt.Errorf("job %d: invalid schedule %q: %w", i, j.Schedule, err)
			}
		}
	}

	return nil
}
