package distro

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/metrics"
	"github.com/soltixdb/distro/internal/models"
)

// memberView is the part of the Mapper the syncer depends on
type memberView interface {
	Peers() []string
	IsHealthy(addr string) bool
}

// Syncer pushes batches of items to peers. Each task runs on its own timer
// so one slow peer never holds up another.
type Syncer struct {
	stores    StoreRegistry
	transport Transport
	members   memberView
	policy    RetryPolicy
	logger    *logging.Logger
	metrics   *metrics.Distro

	timeout    time.Duration
	maxRetries int
	sem        *semaphore.Weighted
	inFlight   dedupSet

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

// NewSyncer creates a syncer. SetRetryPolicy must be called before the
// first failure can be retried.
func NewSyncer(
	stores StoreRegistry,
	transport Transport,
	members memberView,
	timeout time.Duration,
	maxConcurrent int,
	maxRetries int,
	logger *logging.Logger,
	m *metrics.Distro,
) *Syncer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		stores:     stores,
		transport:  transport,
		members:    members,
		logger:     logger,
		metrics:    m,
		timeout:    timeout,
		maxRetries: maxRetries,
		sem:        semaphore.NewWeighted(int64(maxConcurrent)),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// SetRetryPolicy installs the policy failed tasks are handed to
func (s *Syncer) SetRetryPolicy(p RetryPolicy) {
	s.policy = p
}

// Submit schedules task after delay. Fresh tasks drop keys that already
// have a push in flight to the same target; the result reports whether
// anything was scheduled.
func (s *Syncer) Submit(task *SyncTask, delay time.Duration) bool {
	if task.RetryCount == 0 {
		keys := task.Keys[:0:0]
		for _, key := range task.Keys {
			if s.inFlight.tryAdd(task.Store, key, task.Target) {
				keys = append(keys, key)
			}
		}
		if len(keys) == 0 {
			s.logger.Debug("All keys already in flight, task discarded",
				"store", task.Store, "target", task.Target, "keys", len(task.Keys))
			return false
		}
		task.Keys = keys
		s.metrics.InFlightKeys.Set(float64(s.inFlight.len()))
	}

	return s.schedule(task, delay)
}

// RetrySync reschedules a failed task unless its target has left the
// healthy member list, in which case the task is abandoned
func (s *Syncer) RetrySync(task *SyncTask, delay time.Duration) bool {
	if !s.members.IsHealthy(task.Target) {
		s.abandon(task, "member_gone")
		return false
	}
	s.metrics.RetriesQueued.Inc()
	return s.schedule(task, delay)
}

func (s *Syncer) schedule(task *SyncTask, delay time.Duration) bool {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		s.abandon(task, "stopped")
		return false
	}

	time.AfterFunc(delay, func() { s.run(task) })
	return true
}

func (s *Syncer) enter() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Syncer) run(task *SyncTask) {
	if !s.enter() {
		s.abandon(task, "stopped")
		return
	}
	defer s.wg.Done()

	if len(s.members.Peers()) == 0 {
		s.logger.Debug("No peers left, sync task dropped", "store", task.Store, "target", task.Target)
		s.release(task)
		return
	}
	if !s.members.IsHealthy(task.Target) {
		s.abandon(task, "member_gone")
		return
	}

	st, ok := s.stores.Get(task.Store)
	if !ok {
		s.logger.Error("Sync task for unknown store", "store", task.Store)
		s.release(task)
		return
	}

	items := st.GetBatch(task.Keys)
	if len(items) == 0 {
		s.release(task)
		return
	}

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		s.abandon(task, "stopped")
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	start := time.Now()
	err := s.transport.PushItems(ctx, task.Target, models.StoreItems{task.Store: items})
	cancel()
	s.sem.Release(1)
	s.metrics.PushDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		s.metrics.Pushes.WithLabelValues("ok").Inc()
		s.release(task)
		return
	}

	s.metrics.Pushes.WithLabelValues("error").Inc()
	s.logger.Warn("Push to peer failed",
		"store", task.Store,
		"target", task.Target,
		"keys", len(items),
		"retry_count", task.RetryCount,
		"error", err)

	next := task.nextAttempt(time.Now())
	if s.maxRetries > 0 && next.RetryCount > s.maxRetries {
		s.abandon(next, "max_retries")
		return
	}
	if s.policy == nil {
		s.abandon(next, "no_policy")
		return
	}
	s.policy.Retry(next)
}

func (s *Syncer) release(task *SyncTask) {
	s.inFlight.release(task)
	s.metrics.InFlightKeys.Set(float64(s.inFlight.len()))
}

func (s *Syncer) abandon(task *SyncTask, reason string) {
	s.metrics.RetriesDropped.WithLabelValues(reason).Inc()
	s.logger.Debug("Sync task abandoned",
		"store", task.Store, "target", task.Target, "retry_count", task.RetryCount, "reason", reason)
	s.release(task)
}

// InFlight returns the number of (store, key, target) entries awaiting a push
func (s *Syncer) InFlight() int {
	return s.inFlight.len()
}

// Pending reports whether key has a push in flight to target
func (s *Syncer) Pending(storeName, key, target string) bool {
	return s.inFlight.contains(storeName, key, target)
}

// Stop cancels outstanding pushes and waits for running tasks. Timers that
// fire afterwards abandon their task.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.logger.Info("Syncer stopped")
}
