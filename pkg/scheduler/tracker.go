package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Key pattern: {prefix}:scheduler:job:{jobID}, e.g.
// gridstat:scheduler:job:chirps:gheba
const jobKeySuffix = ":scheduler:job:"

// scheduleTracker stores when each job last started
type scheduleTracker interface {
	// GetLastRun returns zero time if the job has never run
	GetLastRun(ctx context.Context, jobID string) (time.Time, error)

	// SetLastRun persists with no TTL
	SetLastRun(ctx context.Context, jobID string, timestamp time.Time) error

	// DeleteLastRun is used when a job is removed from config
	DeleteLastRun(ctx context.Context, jobID string) error

	// GetAllJobIDs returns every job tracked
	GetAllJobIDs(ctx context.Context) ([]string, error)
}

type redisScheduleTracker struct {
	log    logrus.FieldLogger
	redis  redis.UniversalClient
	prefix string
}

// newScheduleTracker creates a Redis-backed schedule tracker
func newScheduleTracker(log logrus.FieldLogger, client redis.UniversalClient, prefix string) scheduleTracker {
	return &redisScheduleTracker{
		log:    log.WithField("component", "schedule_tracker"),
		redis:  client,
		prefix: prefix + jobKeySuffix,
	}
}

func (r *redisScheduleTracker) GetLastRun(ctx context.Context, jobID string) (time.Time, error) {
	val, err := r.redis.Get(ctx, r.prefix+jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			r.log.WithField("job_id", jobID).Debug("No last run found for job")
			return time.Time{}, nil
		}

		return time.Time{}, fmt.Errorf("failed to get last run for job %s: %w", jobID, err)
	}

	timestamp, err := time.Parse(time.RFC3339, val)
	if err != nil {
		r.log.WithError(err).
			WithFields(logrus.Fields{
				"job_id":    jobID,
				"raw_value": val,
			}).
			Error("Failed to parse timestamp")

		return time.Time{}, fmt.Errorf("failed to parse timestamp for job %s: %w", jobID, err)
	}

	return timestamp, nil
}

func (r *redisScheduleTracker) SetLastRun(ctx context.Context, jobID string, timestamp time.Time) error {
	if err := r.redis.Set(ctx, r.prefix+jobID, timestamp.UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("failed to set last run for job %s: %w", jobID, err)
	}

	r.log.WithFields(logrus.Fields{
		"job_id":    jobID,
		"timestamp": timestamp,
	}).Debug("Updated last run for job")

	return nil
}

func (r *redisScheduleTracker) DeleteLastRun(ctx context.Context, jobID string) error {
	if err := r.redis.Del(ctx, r.prefix+jobID).Err(); err != nil {
		return fmt.Errorf("failed to delete last run for job %s: %w", jobID, err)
	}

	return nil
}

func (r *redisScheduleTracker) GetAllJobIDs(ctx context.Context) ([]string, error) {
	// SCAN rather than KEYS so Redis is never blocked; the count is a
	// per-iteration hint, not a limit
	const scanBatchSize = 100

	var ids []string

	iter := r.redis.Scan(ctx, 0, r.prefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		ids = append(ids, iter.Val()[len(r.prefix):])
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan job IDs: %w", err)
	}

	sort.Strings(ids)

	return ids, nil
}

// memoryScheduleTracker keeps last runs in process. Used without Redis;
// schedules then restart from scratch with the process.
type memoryScheduleTracker struct {
	mu       sync.RWMutex
	lastRuns map[string]time.Time
}

func newMemoryScheduleTracker() *memoryScheduleTracker {
	return &memoryScheduleTracker{lastRuns: make(map[string]time.Time)}
}

func (m *memoryScheduleTracker) GetLastRun(_ context.Context, jobID string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.lastRuns[jobID], nil
}

func (m *memoryScheduleTracker) SetLastRun(_ context.Context, jobID string, timestamp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastRuns[jobID] = timestamp.UTC()

	return nil
}

func (m *memoryScheduleTracker) DeleteLastRun(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.lastRuns, jobID)

	return nil
}

func (m *memoryScheduleTracker) GetAllJobIDs(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.lastRuns))
	for id := range m.lastRuns {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids, nil
}

var (
	_ scheduleTracker = (*redisScheduleTracker)(nil)
	_ scheduleTracker = (*memoryScheduleTracker)(nil)
)
