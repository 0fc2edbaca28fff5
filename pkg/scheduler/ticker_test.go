package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJob(t *testing.T, id, schedule string) scheduledJob {
	t.Helper()

	sched, err := cron.ParseStandard(schedule)
	require.NoError(t, err)

	return scheduledJob{ID: id, Schedule: schedule, sched: sched}
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func TestTickerCheckSchedules(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("job that never ran is due", func(t *testing.T) {
		tracker := newMemoryScheduleTracker()

		var dispatched []string

		tk := newTicker(quietLogger(), tracker, func(j scheduledJob) error {
			dispatched = append(dispatched, j.ID)
			return nil
		}, time.Second, []scheduledJob{testJob(t, "chirps:gheba", "@daily")})

		tk.checkSchedules(ctx, now)
		assert.Equal(t, []string{"chirps:gheba"}, dispatched)

		lastRun, err := tracker.GetLastRun(ctx, "chirps:gheba")
		require.NoError(t, err)
		assert.Equal(t, now, lastRun)

		// the cached next run suppresses a second dispatch the same day
		tk.checkSchedules(ctx, now.Add(time.Hour))
		assert.Len(t, dispatched, 1)

		tk.checkSchedules(ctx, time.Date(2024, 3, 2, 0, 0, 1, 0, time.UTC))
		assert.Len(t, dispatched, 2)
	})

	t.Run("last run from another leader is honoured", func(t *testing.T) {
		tracker := newMemoryScheduleTracker()
		require.NoError(t, tracker.SetLastRun(ctx, "era5:gheba", now.Add(-30*time.Minute)))

		calls := 0

		tk := newTicker(quietLogger(), tracker, func(scheduledJob) error {
			calls++
			return nil
		}, time.Second, []scheduledJob{testJob(t, "era5:gheba", "@hourly")})

		tk.checkSchedules(ctx, now)
		assert.Zero(t, calls, "next run is 13:00")

		tk.checkSchedules(ctx, now.Add(time.Hour))
		assert.Equal(t, 1, calls)
	})

	t.Run("running job is retried next tick", func(t *testing.T) {
		tracker := newMemoryScheduleTracker()

		busy := true
		calls := 0

		tk := newTicker(quietLogger(), tracker, func(scheduledJob) error {
			calls++
			if busy {
				return ErrJobRunning
			}

			return nil
		}, time.Second, []scheduledJob{testJob(t, "trmm:gheba", "@daily")})

		tk.checkSchedules(ctx, now)

		lastRun, err := tracker.GetLastRun(ctx, "trmm:gheba")
		require.NoError(t, err)
		assert.True(t, lastRun.IsZero(), "a skipped dispatch is not recorded")

		busy = false
		tk.checkSchedules(ctx, now.Add(time.Second))
		assert.Equal(t, 2, calls)
	})

	t.Run("dispatch errors do not stop other jobs", func(t *testing.T) {
		var dispatched []string

		tk := newTicker(quietLogger(), newMemoryScheduleTracker(), func(j scheduledJob) error {
			if j.ID == "bad:gheba" {
				return errors.New("boom")
			}

			dispatched = append(dispatched, j.ID)

			return nil
		}, time.Second, []scheduledJob{testJob(t, "bad:gheba", "@daily"), testJob(t, "good:gheba", "@daily")})

		tk.checkSchedules(ctx, now)
		assert.Equal(t, []string{"good:gheba"}, dispatched)
	})
}

func TestTickerRunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	dispatched := make(chan string, 1)

	tk := newTicker(quietLogger(), newMemoryScheduleTracker(), func(j scheduledJob) error {
		dispatched <- j.ID
		return nil
	}, 10*time.Millisecond, []scheduledJob{testJob(t, "chirps:gheba", "@daily")})

	stopped := make(chan struct{})

	go func() {
		tk.Run(ctx)
		close(stopped)
	}()

	select {
	case id := <-dispatched:
		assert.Equal(t, "chirps:gheba", id)
	case <-time.After(time.Second):
		t.Fatal("job was not dispatched")
	}

	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop")
	}
}
