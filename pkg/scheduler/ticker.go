package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethpandaops/gridstat/pkg/datasets"
	"github.com/ethpandaops/gridstat/pkg/region"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ErrJobRunning is returned by a dispatcher when the previous run of a job
// has not finished yet
var ErrJobRunning = errors.New("job is still running")

// scheduledJob is a resolved Job
type scheduledJob struct {
	ID       string
	Schedule string
	Dataset  datasets.Config
	Region   *region.Region
	sched    cron.Schedule
	nextRun  *time.Time // cached to avoid tracker lookups
}

// dispatchFunc starts a run of job without waiting for it.
type dispatchFunc func(job scheduledJob) error

// ticker checks job schedules. It only runs on the leader.
type ticker struct {
	log      logrus.FieldLogger
	tracker  scheduleTracker
	dispatch dispatchFunc
	interval time.Duration
	jobs     []scheduledJob
	jobsMu   sync.RWMutex // protects nextRun
}

func newTicker(log logrus.FieldLogger, tracker scheduleTracker, dispatch dispatchFunc, interval time.Duration, jobs []scheduledJob) *ticker {
	return &ticker{
		log:      log.WithField("component", "ticker"),
		tracker:  tracker,
		dispatch: dispatch,
		interval: interval,
		jobs:     jobs,
	}
}

// Run checks schedules every interval until ctx is canceled.
func (t *ticker) Run(ctx context.Context) {
	t.log.WithField("jobs", len(t.jobs)).Info("Starting ticker")

	tk := time.NewTicker(t.interval)
	defer tk.Stop()

	t.checkSchedules(ctx, time.Now().UTC())

	for {
		select {
		case <-ctx.Done():
			t.log.Info("Ticker stopped")
			return
		case now := <-tk.C:
			t.checkSchedules(ctx, now.UTC())
		}
	}
}

func (t *ticker) checkSchedules(ctx context.Context, now time.Time) {
	for i := range t.jobs {
		job := &t.jobs[i]

		t.jobsMu.RLock()
		cached := job.nextRun
		t.jobsMu.RUnlock()

		if cached != nil && now.Before(*cached) {
			continue
		}

		lastRun, err := t.tracker.GetLastRun(ctx, job.ID)
		if err != nil {
			t.log.WithError(err).WithField("job_id", job.ID).Warn("Failed to get last run, will retry next tick")

			continue
		}

		// a job that never ran is due now
		nextRun := now
		if !lastRun.IsZero() {
			nextRun = job.sched.Next(lastRun)
		}

		t.setNextRun(job, nextRun)

		if now.Before(nextRun) {
			continue
		}

		if err := t.dispatch(*job); err != nil {
			if errors.Is(err, ErrJobRunning) {
				t.log.WithField("job_id", job.ID).Debug("Previous run still in progress, skipping")
			} else {
				t.log.WithError(err).WithField("job_id", job.ID).Error("Failed to start job")
			}

			continue
		}

		if err := t.tracker.SetLastRun(ctx, job.ID, now); err != nil {
			t.log.WithError(err).WithField("job_id", job.ID).Error("Failed to update last run timestamp")
		}

		t.setNextRun(job, job.sched.Next(now))
	}
}

func (t *ticker) setNextRun(job *scheduledJob, next time.Time) {
	t.jobsMu.Lock()
	job.nextRun = &next
	t.jobsMu.Unlock()
}
