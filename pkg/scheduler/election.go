package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/gridstat/pkg/observability"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	leaderKeySuffix = ":scheduler:leader"
	leaseTTL        = 10 * time.Second
	renewInterval   = 3 * time.Second
)

var (
	// ErrElectorStopped is returned when the elector is stopped while waiting for leadership
	ErrElectorStopped = errors.New("elector stopped while waiting for leadership")
)

// LeaderElector manages distributed leader election using Redis
type LeaderElector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	WaitForLeadership(ctx context.Context) error
}

// channelProvider exposes leadership transitions
type channelProvider interface {
	PromotedChan() <-chan struct{}
	DemotedChan() <-chan struct{}
}

// elector implements the LeaderElector interface
type elector struct {
	log        logrus.FieldLogger
	redis      redis.UniversalClient
	instanceID string
	leaderKey  string

	isLeader bool
	mu       sync.RWMutex

	done chan struct{}
	wg   sync.WaitGroup

	promoted chan struct{}
	demoted  chan struct{}
}

// NewLeaderElector creates a leader elector holding its lease under
// prefix. The client stays owned by the caller.
func NewLeaderElector(log logrus.FieldLogger, client redis.UniversalClient, prefix string) LeaderElector {
	instanceID := uuid.New().String()

	return &elector{
		log:        log.WithFields(logrus.Fields{"component": "election", "instance_id": instanceID}),
		redis:      client,
		instanceID: instanceID,
		leaderKey:  prefix + leaderKeySuffix,
		done:       make(chan struct{}),
		promoted:   make(chan struct{}, 1),
		demoted:    make(chan struct{}, 1),
	}
}

func (e *elector) Start(ctx context.Context) error {
	e.log.Info("Starting leader election")

	e.wg.Add(1)
	go e.run(ctx)

	return nil
}

func (e *elector) Stop() error {
	e.log.Info("Stopping leader election")
	close(e.done)

	e.relinquish(context.Background())

	e.wg.Wait()

	e.log.Info("Leader election stopped")
	return nil
}

func (e *elector) run(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	e.elect(ctx)

	for {
		select {
		case <-e.done:
			return

		case <-ctx.Done():
			return

		case <-ticker.C:
			e.elect(ctx)
		}
	}
}

func (e *elector) elect(ctx context.Context) {
	wasLeader := e.IsLeader()
	acquired := e.tryAcquire(ctx)

	if acquired && !wasLeader {
		e.setLeader(true)
		observability.RecordSchedulerLeader(true)
		e.log.Info("Promoted to leader")

		select {
		case e.promoted <- struct{}{}:
		default:
		}
	} else if !acquired && wasLeader {
		e.setLeader(false)
		observability.RecordSchedulerLeader(false)
		e.log.Info("Demoted from leader")

		select {
		case e.demoted <- struct{}{}:
		default:
		}
	}
}

// renewScript extends the lease only while this instance owns it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only while this instance owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// tryAcquire takes a free lease or renews our own. Ownership checks run in
// Redis so a lease that expired and moved to another instance is never
// extended or deleted by this one.
func (e *elector) tryAcquire(ctx context.Context) bool {
	acquired, err := e.redis.SetNX(ctx, e.leaderKey, e.instanceID, leaseTTL).Result()
	if err != nil {
		e.log.WithError(err).Debug("Failed to acquire leader lock")
		return false
	}

	if acquired {
		e.log.WithField("ttl", leaseTTL).Debug("Acquired leader lock")
		return true
	}

	renewed, err := renewScript.Run(ctx, e.redis, []string{e.leaderKey}, e.instanceID, leaseTTL.Milliseconds()).Int()
	if err != nil {
		e.log.WithError(err).Warn("Failed to renew leader lease")
		return false
	}

	if renewed == 0 {
		e.log.Debug("Another instance holds leadership")
		return false
	}

	e.log.WithField("ttl", leaseTTL).Debug("Renewed leader lease")

	return true
}

// relinquish releases the lease so another instance can take over without
// waiting for it to expire.
func (e *elector) relinquish(ctx context.Context) {
	if !e.IsLeader() {
		return
	}

	released, err := releaseScript.Run(ctx, e.redis, []string{e.leaderKey}, e.instanceID).Int()

	switch {
	case err != nil:
		e.log.WithError(err).Warn("Failed to delete leader lock")
	case released == 1:
		e.log.Info("Relinquished leader lock")
	}

	e.setLeader(false)
	observability.RecordSchedulerLeader(false)
}

func (e *elector) setLeader(isLeader bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isLeader = isLeader
}

func (e *elector) IsLeader() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isLeader
}

func (e *elector) WaitForLeadership(ctx context.Context) error {
	if e.IsLeader() {
		return nil
	}

	e.log.Info("Waiting for leadership promotion")

	select {
	case <-e.promoted:
		e.log.Info("Leadership acquired")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context canceled while waiting for leadership: %w", ctx.Err())
	case <-e.done:
		return ErrElectorStopped
	}
}

func (e *elector) PromotedChan() <-chan struct{} {
	return e.promoted
}

func (e *elector) DemotedChan() <-chan struct{} {
	return e.demoted
}

var _ LeaderElector = (*elector)(nil)

// localElector makes a single process the leader. Used when no Redis is
// configured.
type localElector struct {
	log      logrus.FieldLogger
	promoted chan struct{}
	demoted  chan struct{}
	mu       sync.RWMutex
	leader   bool
}

// NewLocalElector returns an elector that is promoted as soon as it starts.
func NewLocalElector(log logrus.FieldLogger) LeaderElector {
	return &localElector{
		log:      log.WithField("component", "election"),
		promoted: make(chan struct{}, 1),
		demoted:  make(chan struct{}, 1),
	}
}

func (l *localElector) Start(context.Context) error {
	l.mu.Lock()
	l.leader = true
	l.mu.Unlock()

	l.log.Info("Running as the only scheduler instance")
	observability.RecordSchedulerLeader(true)

	l.promoted <- struct{}{}

	return nil
}

func (l *localElector) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.leader = false
	observability.RecordSchedulerLeader(false)

	return nil
}

func (l *localElector) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.leader
}

func (l *localElector) WaitForLeadership(ctx context.Context) error {
	if l.IsLeader() {
		return nil
	}

	select {
	case <-l.promoted:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context canceled while waiting for leadership: %w", ctx.Err())
	}
}

func (l *localElector) PromotedChan() <-chan struct{} { return l.promoted }

func (l *localElector) DemotedChan() <-chan struct{} { return l.demoted }

var (
	_ LeaderElector   = (*localElector)(nil)
	_ channelProvider = (*localElector)(nil)
	_ channelProvider = (*elector)(nil)
)
