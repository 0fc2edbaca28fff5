package redis

import (
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// NewOptions converts the configuration to client options. Both plain
// host:port addresses and redis:// URLs are accepted; configured timeouts
// override those of a URL.
func (c *Config) NewOptions() (*redis.Options, error) {
	if c.Address == "" {
		return nil, ErrAddressRequired
	}

	opt := &redis.Options{Addr: c.Address}

	if strings.Contains(c.Address, "://") {
		parsed, err := redis.ParseURL(c.Address)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis URL: %w", err)
		}

		opt = parsed
	}

	if c.DialTimeout > 0 {
		opt.DialTimeout = c.DialTimeout
	}

	if c.ReadTimeout > 0 {
		opt.ReadTimeout = c.ReadTimeout
	}

	return opt, nil
}
