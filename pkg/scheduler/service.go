package scheduler

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethpandaops/gridstat/pkg/datasets"
	"github.com/ethpandaops/gridstat/pkg/failure"
	"github.com/ethpandaops/gridstat/pkg/observability"
	"github.com/ethpandaops/gridstat/pkg/pipeline"
	"github.com/ethpandaops/gridstat/pkg/region"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoSchedule is returned for a job whose dataset has no schedule either
	ErrNoSchedule = errors.New("job has no schedule")
	// ErrDuplicateJob is returned when two jobs run the same dataset over the same region
	ErrDuplicateJob = errors.New("duplicate job")
)

// Service defines the public interface for the scheduler
type Service interface {
	// Start joins leader election; the leader starts running jobs
	Start(ctx context.Context) error

	// Stop cancels running jobs and waits for them
	Stop() error
}

type service struct {
	log    logrus.FieldLogger
	cfg    *Config
	runner pipeline.Runner

	elector LeaderElector
	tracker scheduleTracker
	jobs    []scheduledJob

	done chan struct{}
	wg   sync.WaitGroup

	runCtx     context.Context
	cancelRuns context.CancelFunc

	mu      sync.Mutex
	running map[string]bool
}

// NewService resolves the configured jobs against registry. With a Redis
// client the schedule is shared between instances under prefix; without one
// this process is the only scheduler.
func NewService(log logrus.FieldLogger, cfg *Config, registry *datasets.Registry, runner pipeline.Runner, client redis.UniversalClient, prefix string) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log = log.WithField("service", "scheduler")

	jobs, err := resolveJobs(cfg.Jobs, registry)
	if err != nil {
		return nil, err
	}

	var (
		elector LeaderElector
		tracker scheduleTracker
	)

	if client != nil {
		elector = NewLeaderElector(log, client, prefix)
		tracker = newScheduleTracker(log, client, prefix)
	} else {
		elector = NewLocalElector(log)
		tracker = newMemoryScheduleTracker()
	}

	return newService(log, cfg, runner, elector, tracker, jobs), nil
}

func newService(log logrus.FieldLogger, cfg *Config, runner pipeline.Runner, elector LeaderElector, tracker scheduleTracker, jobs []scheduledJob) *service {
	runCtx, cancel := context.WithCancel(context.Background())

	return &service{
		log:        log,
		cfg:        cfg,
		runner:     runner,
		elector:    elector,
		tracker:    tracker,
		jobs:       jobs,
		done:       make(chan struct{}),
		runCtx:     runCtx,
		cancelRuns: cancel,
		running:    make(map[string]bool),
	}
}

// resolveJobs looks up each job's dataset and loads its region.
func resolveJobs(jobs []Job, registry *datasets.Registry) ([]scheduledJob, error) {
	out := make([]scheduledJob, 0, len(jobs))
	seen := make(map[string]bool, len(jobs))

	for _, j := range jobs {
		cfg, err := registry.Get(j.Dataset)
		if err != nil {
			return nil, err
		}

		schedule := j.Schedule
		if schedule == "" {
			schedule = cfg.Schedule
		}

		if schedule == "" {
			return nil, failure.Configuration("%v: dataset %s", ErrNoSchedule, j.Dataset)
		}

		sched, err := cron.ParseStandard(schedule)
		if err != nil {
			return nil, failure.Configuration("job %s: invalid schedule %q: %v", j.Dataset, schedule, err)
		}

		roi, err := region.Load(j.Region)
		if err != nil {
			return nil, failure.Configuration("job %s: %v", j.Dataset, err)
		}

		id := JobID(j.Dataset, j.Region)
		if seen[id] {
			return nil, failure.Configuration("%v: %s", ErrDuplicateJob, id)
		}

		seen[id] = true

		out = append(out, scheduledJob{
			ID:       id,
			Schedule: schedule,
			Dataset:  cfg,
			Region:   roi,
			sched:    sched,
		})
	}

	return out, nil
}

// JobID names a job by dataset and region file stem, e.g. "chirps:gheba".
func JobID(dataset, regionPath string) string {
	stem := strings.TrimSuffix(filepath.Base(regionPath), filepath.Ext(regionPath))

	return dataset + ":" + stem
}

// Start joins leader election and runs jobs while this instance leads
func (s *service) Start(ctx context.Context) error {
	for _, j := range s.jobs {
		observability.RecordScheduledJob(j.ID, j.Dataset.ID, true)
	}

	if err := s.elector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start leader election: %w", err)
	}

	s.wg.Add(1)

	go s.handleLeaderElection(ctx)

	s.log.WithField("jobs", len(s.jobs)).Info("Scheduler service started (participating in leader election)")

	return nil
}

// Stop cancels running jobs and waits up to the shutdown timeout for them
func (s *service) Stop() error {
	close(s.done)

	if err := s.elector.Stop(); err != nil {
		s.log.WithError(err).Warn("Failed to stop leader elector")
	}

	s.cancelRuns()

	stopped := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(s.cfg.ShutdownTimeout):
		s.log.Warn("Timed out waiting for scheduled runs to stop")
	}

	for _, j := range s.jobs {
		observability.RecordScheduledJob(j.ID, j.Dataset.ID, false)
	}

	s.log.Info("Scheduler service stopped successfully")

	return nil
}

// handleLeaderElection runs the ticker while this instance is the leader
func (s *service) handleLeaderElection(ctx context.Context) {
	defer s.wg.Done()

	provider, ok := s.elector.(channelProvider)
	if !ok {
		s.log.Error("Leader elector does not provide channels")
		return
	}

	var stopTicker context.CancelFunc

	defer func() {
		if stopTicker != nil {
			stopTicker()
		}
	}()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-provider.PromotedChan():
			if stopTicker != nil {
				continue
			}

			s.log.Info("Promoted to scheduler leader")

			var tickCtx context.Context

			tickCtx, stopTicker = context.WithCancel(ctx)

			t := newTicker(s.log, s.tracker, s.dispatch, s.cfg.TickInterval, cloneJobs(s.jobs))

			s.wg.Add(1)

			go func() {
				defer s.wg.Done()
				t.Run(tickCtx)
			}()
		case <-provider.DemotedChan():
			s.log.Info("Demoted from scheduler leader")

			if stopTicker != nil {
				stopTicker()
				stopTicker = nil
			}
		}
	}
}

// dispatch starts one run of job in the background.
func (s *service) dispatch(job scheduledJob) error {
	s.mu.Lock()
	if s.running[job.ID] {
		s.mu.Unlock()
		return ErrJobRunning
	}

	s.running[job.ID] = true
	s.mu.Unlock()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		defer func() {
			s.mu.Lock()
			delete(s.running, job.ID)
			s.mu.Unlock()
		}()

		s.run(job)
	}()

	return nil
}

func (s *service) run(job scheduledJob) {
	ctx, cancel := context.WithTimeout(s.runCtx, s.cfg.RunTimeout)
	defer cancel()

	log := s.log.WithFields(logrus.Fields{
		"job_id":  job.ID,
		"dataset": job.Dataset.ID,
	})

	log.Info("Starting scheduled run")

	res, err := s.runner.Run(ctx, job.Dataset, job.Region)
	if err != nil {
		log.WithError(err).WithField("kind", failure.Kind(err)).Error("Scheduled run failed")
		observability.RecordError("scheduler", failure.Kind(err))

		return
	}

	log.WithFields(logrus.Fields{
		"run_id":   res.RunID,
		"failures": len(res.Failures),
		"duration": res.Duration,
	}).Info("Scheduled run complete")
}

func cloneJobs(jobs []scheduledJob) []scheduledJob {
	out := make([]scheduledJob, len(jobs))
	for i, j := range jobs {
		j.nextRun = nil
		out[i] = j
	}

	return out
}
