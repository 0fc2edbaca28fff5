// Package worker runs window tasks on a bounded pool with per-attempt
// timeouts and retries
package worker

import (
	"errors"
	"time"
)

var (
	// ErrInvalidConcurrency is returned when concurrency is not positive
	ErrInvalidConcurrency = errors.New("concurrency must be positive")
	// ErrInvalidTimeout is returned when the window timeout is not positive
	ErrInvalidTimeout = errors.New("window timeout must be positive")
	// ErrInvalidRetries is returned for a negative retry count or backoff
	ErrInvalidRetries = errors.New("retries and backoff must not be negative")
)

// Config contains worker pool settings
type Config struct {
	Concurrency   int           `yaml:"concurrency" default:"8"`
	WindowTimeout time.Duration `yaml:"windowTimeout" default:"5m"`
	MaxRetries    int           `yaml:"maxRetries" default:"3"`
	RetryBackoff  time.Duration `yaml:"retryBackoff" default:"500ms"`
	MaxBackoff    time.Duration `yaml:"maxBackoff" default:"30s"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.WindowTimeout <= 0 {
		return ErrInvalidTimeout
	}

	if c.MaxRetries < 0 || c.RetryBackoff < 0 || c.MaxBackoff < 0 {
		return ErrInvalidRetries
	}

	return nil
}
