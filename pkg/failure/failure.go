// Package failure defines the error kinds shared by every pipeline stage
package failure

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds. Stages wrap one of these with fmt.Errorf("...: %w", ...) so
// callers can classify with errors.Is.
var (
	// ErrConfiguration is returned for an invalid range, granularity, band or grid
	ErrConfiguration = errors.New("configuration error")
	// ErrResourceLimitExceeded is returned when a reduction would exceed the pixel cap
	ErrResourceLimitExceeded = errors.New("resource limit exceeded")
	// ErrNoDataAvailable marks a window or period without valid pixels
	ErrNoDataAvailable = errors.New("no data available")
	// ErrCollaboratorUnavailable is returned when a catalog, engine or sink call fails or times out
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)

// Kind names used in logs and metric labels
const (
	KindConfiguration = "configuration"
	KindResourceLimit = "resource_limit_exceeded"
	KindNoData        = "no_data"
	KindCollaborator  = "collaborator_unavailable"
	KindCanceled      = "canceled"
	KindUnknown       = "unknown"
)

// Kind classifies err into one of the Kind* names.
func Kind(err error) string {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrResourceLimitExceeded):
		return KindResourceLimit
	case errors.Is(err, ErrNoDataAvailable):
		return KindNoData
	case errors.Is(err, ErrCollaboratorUnavailable), errors.Is(err, context.DeadlineExceeded):
		return KindCollaborator
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindUnknown
	}
}

// Retryable reports whether a failed window attempt may be retried.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}

	return errors.Is(err, ErrResourceLimitExceeded) ||
		errors.Is(err, ErrCollaboratorUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Skippable reports whether a window that failed for good with err may be
// recorded and skipped under a skip policy. Configuration errors and
// cancellation always abort the run.
func Skippable(err error) bool {
	return Retryable(err)
}

// Configuration wraps a formatted message as a configuration error.
func Configuration(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Collaborator wraps err from an external service call.
func Collaborator(service string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrCollaboratorUnavailable) {
		return err
	}

	return fmt.Errorf("%w: %s: %w", ErrCollaboratorUnavailable, service, err)
}

// WindowError reports which dataset and window (or period) a run failed on.
type WindowError struct {
	Dataset string
	Window  string
	Err     error
}

func (e *WindowError) Error() string {
	return fmt.Sprintf("dataset %s window %s (%s): %v", e.Dataset, e.Window, Kind(e.Err), e.Err)
}

func (e *WindowError) Unwrap() error {
	return e.Err
}
