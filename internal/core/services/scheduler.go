package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driving"
)

var _ driving.Scheduler = (*Scheduler)(nil)

const (
	schedulerLockName        = "scheduler"
	defaultSchedulerInterval = 30 * time.Second
	defaultSchedulerLockTTL  = time.Minute
)

// Scheduler turns due subscriptions into poll tasks.
//
// Enqueuing a task claims the subscription by moving next_poll_at ClaimFor
// ahead, so the next scan skips it; the poller sets the real next time when
// the cycle ends. The claim only applies while the subscription is still due,
// so a poll that finishes first keeps its schedule. With a DistributedLock only one instance scans per tick.
type Scheduler struct {
	subscriptions driven.SubscriptionStore
	taskQueue     driven.TaskQueue
	lock          driven.DistributedLock
	logger        *slog.Logger
	now           func() time.Time

	interval      time.Duration
	claimFor      time.Duration
	lockTTL       time.Duration
	taskRetention time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SchedulerConfig wires a Scheduler. Subscriptions and TaskQueue are required.
type SchedulerConfig struct {
	Subscriptions driven.SubscriptionStore
	TaskQueue     driven.TaskQueue
	Lock          driven.DistributedLock
	Logger        *slog.Logger

	Interval time.Duration // scan period (default 30s)
	ClaimFor time.Duration // how far next_poll_at moves on enqueue (default DefaultPollInterval)
	LockTTL  time.Duration // scan lock lifetime (default 1m)

	// TaskRetention purges finished tasks older than this after each scan; 0 keeps them.
	TaskRetention time.Duration

	Now func() time.Time
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		subscriptions: cfg.Subscriptions,
		taskQueue:     cfg.TaskQueue,
		lock:          cfg.Lock,
		logger:        cfg.Logger,
		now:           cfg.Now,
		interval:      cmpOr(cfg.Interval, defaultSchedulerInterval),
		claimFor:      cmpOr(cfg.ClaimFor, DefaultPollInterval),
		lockTTL:       cmpOr(cfg.LockTTL, defaultSchedulerLockTTL),
		taskRetention: cfg.TaskRetention,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// cmpOr returns v, or def when v is not positive.
func cmpOr(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

// Start scans once immediately and then every interval until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	s.logger.Info("scheduler starting", "interval", s.interval, "claim_for", s.claimFor)
	go s.loop(loopCtx, s.done)
	return nil
}

// Stop cancels the loop and waits for an in-progress scan to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("scheduler stopped")
}

// Running reports whether Start has been called without a matching Stop.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.checkAndEnqueue(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// checkAndEnqueue runs one scan and returns how many tasks it queued.
func (s *Scheduler) checkAndEnqueue(ctx context.Context) int {
	release, ok := s.acquireScan(ctx)
	if !ok {
		return 0
	}
	defer release()

	now := s.now()
	due, err := s.subscriptions.GetDue(ctx, now)
	if err != nil {
		s.logger.Error("listing due subscriptions failed", "error", err)
		return 0
	}

	tasks := make([]*domain.Task, 0, len(due))
	for _, sub := range due {
		if sub.IsDue(now) {
			tasks = append(tasks, domain.NewPollSubscriptionTask(sub.ApplicationID, sub.ID))
		}
	}

	if len(tasks) > 0 {
		// Claims are written only after the batch is queued, so a failed
		// enqueue leaves every subscription due for the next scan.
		if err := s.taskQueue.EnqueueBatch(ctx, tasks); err != nil {
			s.logger.Error("enqueue failed", "count", len(tasks), "error", err)
			return 0
		}
		metrics.tasksEnqueuedTotal.Add(float64(len(tasks)))

		heldUntil := now.Add(s.claimFor).UTC()
		for _, task := range tasks {
			subscriptionID := task.SubscriptionID()
			s.logger.Info("enqueued poll", "subscription_id", subscriptionID, "task_id", task.ID)
			claimed, err := s.subscriptions.ClaimDue(ctx, subscriptionID, now, heldUntil)
			switch {
			case err != nil:
				s.logger.Warn("claiming subscription failed", "subscription_id", subscriptionID, "error", err)
			case !claimed:
				s.logger.Debug("subscription rescheduled before claim", "subscription_id", subscriptionID)
			}
		}
	}

	s.purgeFinishedTasks(ctx)
	return len(tasks)
}

// acquireScan takes the scan lock when one is configured. When ok is false
// the scan must be skipped, including when the lock backend is unreachable.
func (s *Scheduler) acquireScan(ctx context.Context) (release func(), ok bool) {
	noop := func() {}
	if s.lock == nil {
		return noop, true
	}

	acquired, err := s.lock.Acquire(ctx, schedulerLockName, s.lockTTL)
	switch {
	case err != nil:
		s.logger.Warn("scheduler lock unavailable, skipping scan", "error", err)
		return noop, false
	case !acquired:
		s.logger.Debug("another instance is scanning")
		return noop, false
	}

	return func() {
		if err := s.lock.Release(context.WithoutCancel(ctx), schedulerLockName); err != nil {
			s.logger.Warn("releasing scheduler lock failed", "error", err)
		}
	}, true
}

func (s *Scheduler) purgeFinishedTasks(ctx context.Context) {
	if s.taskRetention <= 0 {
		return
	}
	n, err := s.taskQueue.PurgeTasks(ctx, int(s.taskRetention.Seconds()))
	switch {
	case err != nil:
		s.logger.Warn("purging finished tasks failed", "error", err)
	case n > 0:
		s.logger.Info("purged finished tasks", "count", n, "older_than", s.taskRetention)
	}
}
