// Package redis holds the Redis settings shared by the catalog and the
// scheduler
package redis

import (
	"errors"
	"fmt"
	"time"
)

const defaultPrefix = "gridstat"

var (
	// ErrAddressRequired is returned when no address is configured
	ErrAddressRequired = errors.New("redis address is required")
	// ErrInvalidTimeout is returned for a negative timeout
	ErrInvalidTimeout = errors.New("redis timeouts must not be negative")
)

// Config holds Redis client configuration
type Config struct {
	// Address is host:port or a redis:// URL.
	Address string `yaml:"address"`
	// Prefix namespaces every key, e.g. gridstat:catalog:datasets.
	Prefix string `yaml:"prefix" default:"gridstat"`
	// Timeouts apply to each command; zero keeps the client defaults.
	DialTimeout time.Duration `yaml:"dialTimeout" default:"5s"`
	ReadTimeout time.Duration `yaml:"readTimeout" default:"30s"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Address == "" {
		return ErrAddressRequired
	}

	if c.DialTimeout < 0 || c.ReadTimeout < 0 {
		return ErrInvalidTimeout
	}

	if c.Prefix == "" {
		c.Prefix = defaultPrefix
	}

	return nil
}

// PrefixKey adds the configured prefix to a Redis key
func (c *Config) PrefixKey(key string) string {
	if c.Prefix == "" {
		return key
	}

	return fmt.Sprintf("%s:%s", c.Prefix, key)
}
