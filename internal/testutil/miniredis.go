package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	gridredis "github.com/ethpandaops/gridstat/pkg/redis"
	"github.com/redis/go-redis/v9"
)

// RedisPrefix is the key prefix used by Redis-backed tests.
const RedisPrefix = "gridstat"

// NewMiniredisClient returns an in-memory Redis and a client connected to
// it, both closed when the test completes.
func NewMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("failed to close miniredis client: %v", err)
		}
	})

	return mr, client
}

// NewRedisConfig starts an in-memory Redis and returns the configuration a
// service would use to reach it.
func NewRedisConfig(t *testing.T) (*miniredis.Miniredis, gridredis.Config) {
	t.Helper()

	mr := miniredis.RunT(t)

	return mr, gridredis.Config{Address: "redis://" + mr.Addr(), Prefix: RedisPrefix}
}
