// Package pipeline runs a dataset over a region: windows are aggregated on
// the worker pool, reduced to a tabular series, rolled up into summary
// rasters and handed to the sinks
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethpandaops/gridstat/pkg/reduce"
)

// FailurePolicy decides what a failed window does to its run
type FailurePolicy string

const (
	// FailFast aborts the run at the first window that fails for good.
	FailFast FailurePolicy = "fail-fast"
	// Skip records a resource-limit or collaborator failure, emits a missing
	// observation and leaves the window out of the rollup. Configuration
	// errors still abort the run.
	Skip FailurePolicy = "skip"
)

var (
	// ErrInvalidFailurePolicy is returned for an unknown failure policy
	ErrInvalidFailurePolicy = errors.New("failure policy must be fail-fast or skip")
)

// ParseFailurePolicy parses a policy name, defaulting to fail-fast.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return FailFast, nil
	case FailFast, Skip:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFailurePolicy, s)
	}
}

// Config contains pipeline settings
type Config struct {
	reduce.Config `yaml:",inline"`

	FailurePolicy FailurePolicy `yaml:"failurePolicy" default:"fail-fast"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}

	_, err := ParseFailurePolicy(string(c.FailurePolicy))

	return err
}
