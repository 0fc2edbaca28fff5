package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/observability"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Task is one unit of work, usually a single time window.
type Task struct {
	// Key identifies the task in logs, e.g. the window label.
	Key string
	// Run performs one attempt. The context carries the attempt timeout.
	Run func(ctx context.Context) error
	// Fallback, when set, receives the error of a task that failed for good
	// while the run was still live. Returning nil lets the run continue.
	Fallback func(err error) error
}

// Pool runs tasks with bounded concurrency. The first task that fails for
// good cancels the others.
type Pool struct {
	log    logrus.FieldLogger
	config Config
}

// NewPool creates a pool.
func NewPool(log logrus.FieldLogger, cfg Config) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Pool{
		log:    log.WithField("service", "worker"),
		config: cfg,
	}, nil
}

// Config returns the pool settings.
func (p *Pool) Config() Config { return p.config }

// Run executes tasks and blocks until all finish or one fails. Tasks are
// started in order; no new task starts after the context is canceled.
// The label names the workload in metrics.
func (p *Pool) Run(ctx context.Context, label string, tasks []Task) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)

	for _, t := range tasks {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			err := p.attempt(gctx, label, t)
			if err != nil && t.Fallback != nil && gctx.Err() == nil {
				return t.Fallback(err)
			}

			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

// attempt runs t until it succeeds, fails with a non-retryable error or
// exhausts its retries.
func (p *Pool) attempt(ctx context.Context, label string, t Task) error {
	backoff := p.config.RetryBackoff

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, p.config.WindowTimeout)
		err := t.Run(attemptCtx)

		cancel()

		if err == nil {
			return nil
		}

		// the run is shutting down; the attempt's error is a symptom
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt >= p.config.MaxRetries || !failure.Retryable(err) {
			return err
		}

		kind := failure.Kind(err)
		observability.RecordWindowRetry(label, kind)

		p.log.WithFields(logrus.Fields{
			"task":    t.Key,
			"attempt": attempt + 1,
			"kind":    kind,
			"backoff": backoff,
		}).WithError(err).Warn("Retrying task")

		if err := sleep(ctx, backoff); err != nil {
			return err
		}

		backoff = min(2*backoff, p.config.MaxBackoff)
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
