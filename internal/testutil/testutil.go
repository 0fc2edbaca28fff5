// Package testutil provides test utilities for gridstat:
//   - Miniredis helpers for the Redis catalog and scheduler (miniredis.go)
//   - A discarding logger for service tests
package testutil

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger returns a logger that discards its output.
func Logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}
