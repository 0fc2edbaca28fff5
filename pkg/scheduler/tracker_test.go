package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/ethpandaops/gridstat/internal/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleTrackers(t *testing.T) {
	mr, client := testutil.NewMiniredisClient(t)

	trackers := map[string]scheduleTracker{
		"redis":  newScheduleTracker(logrus.New(), client, "gridstat"),
		"memory": newMemoryScheduleTracker(),
	}

	for name, tracker := range trackers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			lastRun, err := tracker.GetLastRun(ctx, "chirps:missing")
			require.NoError(t, err)
			assert.True(t, lastRun.IsZero(), "a job that never ran has no last run")

			now := time.Now().UTC().Truncate(time.Second)
			require.NoError(t, tracker.SetLastRun(ctx, "chirps:gheba", now))
			require.NoError(t, tracker.SetLastRun(ctx, "era5:gheba", now.Add(-time.Hour)))

			lastRun, err = tracker.GetLastRun(ctx, "chirps:gheba")
			require.NoError(t, err)
			assert.True(t, now.Equal(lastRun))

			ids, err := tracker.GetAllJobIDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"chirps:gheba", "era5:gheba"}, ids)

			require.NoError(t, tracker.DeleteLastRun(ctx, "chirps:gheba"))

			lastRun, err = tracker.GetLastRun(ctx, "chirps:gheba")
			require.NoError(t, err)
			assert.True(t, lastRun.IsZero())
		})
	}

	t.Run("redis key layout", func(t *testing.T) {
		tracker := newScheduleTracker(logrus.New(), client, "gridstat")
		require.NoError(t, tracker.SetLastRun(context.Background(), "trmm:gheba", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

		val, err := mr.Get("gridstat:scheduler:job:trmm:gheba")
		require.NoError(t, err)
		assert.Equal(t, "2024-01-02T03:04:05Z", val)
	})

	t.Run("corrupt timestamp", func(t *testing.T) {
		require.NoError(t, mr.Set("gridstat:scheduler:job:bad:gheba", "yesterday"))

		_, err := newScheduleTracker(logrus.New(), client, "gridstat").GetLastRun(context.Background(), "bad:gheba")
		assert.Error(t, err)
	})
}
