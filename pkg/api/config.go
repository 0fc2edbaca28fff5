// Package api serves the dataset registry and runs datasets over a posted
// region
package api

import (
	"errors"
	"time"
)

var (
	// ErrAPIAddrRequired is returned when the API is enabled without an address
	ErrAPIAddrRequired = errors.New("api address is required when API is enabled")
	// ErrInvalidBodyLimit is returned for a negative body limit or run timeout
	ErrInvalidBodyLimit = errors.New("body limit and run timeout must not be negative")
)

// Config represents API service configuration
type Config struct {
	Enabled bool   `yaml:"enabled" default:"false"`
	Addr    string `yaml:"addr" default:":8080"`
	// BodyLimit caps the size of an uploaded region in bytes.
	BodyLimit int `yaml:"bodyLimit" default:"4194304"`
	// RunTimeout bounds a run started by request. Zero disables it.
	RunTimeout time.Duration `yaml:"runTimeout" default:"30m"`
}

// Validate validates the API configuration
func (c *Config) Validate() error {
	if c.Enabled && c.Addr == "" {
		return ErrAPIAddrRequired
	}

	if c.BodyLimit < 0 || c.RunTimeout < 0 {
		return ErrInvalidBodyLimit
	}

	return nil
}
