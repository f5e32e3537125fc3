package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driving"
)

const (
	defaultDequeueTimeout = 5 // seconds
	defaultLockTTL        = 2 * time.Minute
	dequeueBackoff        = time.Second
)

// Worker drains poll tasks from the queue and runs one reconciliation cycle per task.
//
// Cycles for the same subscription never overlap. Inside one process concurrent
// tasks share a single in-flight poll; across processes the distributed lock
// "poll:<subscription id>" decides which instance polls.
type Worker struct {
	queue     driven.TaskQueue
	poller    driving.Poller
	scheduler driving.Scheduler
	lock      driven.DistributedLock
	logger    *slog.Logger

	concurrency    int
	dequeueTimeout int
	lockTTL        time.Duration

	handlers map[domain.TaskType]taskHandler
	inflight singleflight.Group

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type taskHandler func(ctx context.Context, task *domain.Task, logger *slog.Logger) error

// WorkerConfig wires a Worker. Only TaskQueue and Poller are required.
type WorkerConfig struct {
	TaskQueue driven.TaskQueue
	Poller    driving.Poller

	// Scheduler is started and stopped together with the worker when set.
	Scheduler driving.Scheduler

	// Lock serialises polls of one subscription across instances.
	Lock driven.DistributedLock

	Logger *slog.Logger

	Concurrency    int           // goroutines draining the queue (default 1)
	DequeueTimeout int           // seconds per blocking dequeue (default 5)
	LockTTL        time.Duration // poll lock lifetime, renewed at half-life (default 2m)
}

// NewWorker builds a stopped worker.
func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		queue:          cfg.TaskQueue,
		poller:         cfg.Poller,
		scheduler:      cfg.Scheduler,
		lock:           cfg.Lock,
		logger:         cfg.Logger,
		concurrency:    max(cfg.Concurrency, 1),
		dequeueTimeout: cfg.DequeueTimeout,
		lockTTL:        cfg.LockTTL,
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.dequeueTimeout <= 0 {
		w.dequeueTimeout = defaultDequeueTimeout
	}
	if w.lockTTL <= 0 {
		w.lockTTL = defaultLockTTL
	}
	w.handlers = map[domain.TaskType]taskHandler{
		domain.TaskTypePollSubscription: w.handlePollSubscription,
	}
	return w
}

// Start launches the scheduler (if any) and the queue consumers, then returns.
// Consumers exit when ctx is cancelled or Stop is called. Starting a running
// worker does nothing.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	if w.scheduler != nil {
		if err := w.scheduler.Start(ctx); err != nil {
			w.logger.Error("scheduler failed to start", "error", err)
		}
	}

	w.logger.Info("worker starting", "concurrency", w.concurrency, "dequeue_timeout", w.dequeueTimeout)

	var wg sync.WaitGroup
	for id := range w.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consume(loopCtx, ctx, w.logger.With("worker_id", id))
		}()
	}
	go func(done chan struct{}) {
		wg.Wait()
		close(done)
	}(w.done)

	return nil
}

// Stop halts dequeuing, lets in-flight tasks finish and waits for the consumers.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	if w.scheduler != nil {
		w.scheduler.Stop()
	}
	<-done
	w.logger.Info("worker stopped")
}

// Wait blocks until every consumer has exited. It returns at once if the
// worker was never started.
func (w *Worker) Wait() {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running reports whether Start has been called without a matching Stop.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cancel != nil
}

// consume dequeues with loopCtx and processes with taskCtx, so Stop does not
// abort a cycle that already started.
func (w *Worker) consume(loopCtx, taskCtx context.Context, logger *slog.Logger) {
	for loopCtx.Err() == nil {
		task, err := w.queue.DequeueWithTimeout(loopCtx, w.dequeueTimeout)
		switch {
		case err != nil && loopCtx.Err() != nil:
			return
		case err != nil:
			logger.Error("dequeue failed", "error", err)
			sleepCtx(loopCtx, dequeueBackoff)
		case task != nil:
			w.processTask(taskCtx, task, logger)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// processTask runs the handler for the task type and settles the task:
// ack on success, nack with the error text otherwise.
func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With("task_id", task.ID, "task_type", task.Type, "application_id", task.ApplicationID)

	handle, ok := w.handlers[task.Type]
	if !ok {
		handle = func(context.Context, *domain.Task, *slog.Logger) error {
			return fmt.Errorf("no handler for task type %q", task.Type)
		}
	}

	started := time.Now()
	err := handle(ctx, task, logger)
	elapsed := time.Since(started)

	if err != nil {
		logger.Error("task failed", "duration", elapsed, "error", err)
		if nackErr := w.queue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("nack failed", "error", nackErr)
		}
		return
	}

	logger.Info("task completed", "duration", elapsed)
	if ackErr := w.queue.Ack(ctx, task.ID); ackErr != nil {
		logger.Error("ack failed", "error", ackErr)
	}
}

// handlePollSubscription completes the task even when the cycle reports
// failures: the poller has already pushed next_poll_at forward.
func (w *Worker) handlePollSubscription(ctx context.Context, task *domain.Task, logger *slog.Logger) error {
	subscriptionID := task.SubscriptionID()
	if subscriptionID == "" {
		return errors.New("task payload has no subscription_id")
	}
	logger = logger.With("subscription_id", subscriptionID)

	v, err, shared := w.inflight.Do(subscriptionID, func() (any, error) {
		return w.pollLocked(ctx, subscriptionID)
	})
	if shared {
		logger.Info("joined in-flight poll")
	}
	switch {
	case errors.Is(err, domain.ErrPollInProgress):
		logger.Info("subscription is being polled elsewhere")
		return nil
	case err != nil:
		return err
	}

	if result, _ := v.(*domain.PollResult); result != nil && !result.Success {
		logger.Warn("poll finished with errors",
			"error", result.Error,
			"entities_failed", result.Stats.EntitiesFailed,
		)
	}
	return nil
}

// pollLocked runs one cycle under the subscription's distributed lock,
// renewing it at half its TTL until the cycle returns.
func (w *Worker) pollLocked(ctx context.Context, subscriptionID string) (*domain.PollResult, error) {
	if w.lock == nil {
		return w.poller.PollSubscription(ctx, subscriptionID, nil), nil
	}

	name := pollLockName(subscriptionID)
	ok, err := w.lock.Acquire(ctx, name, w.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return nil, domain.ErrPollInProgress
	}

	renewCtx, stopRenew := context.WithCancel(ctx)
	renewed := make(chan struct{})
	go func() {
		defer close(renewed)
		w.renewLock(renewCtx, name)
	}()

	defer func() {
		stopRenew()
		<-renewed
		if err := w.lock.Release(context.WithoutCancel(ctx), name); err != nil {
			w.logger.Warn("poll lock release failed", "lock", name, "error", err)
		}
	}()

	return w.poller.PollSubscription(ctx, subscriptionID, nil), nil
}

func (w *Worker) renewLock(ctx context.Context, name string) {
	ticker := time.NewTicker(w.lockTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.lock.Extend(ctx, name, w.lockTTL); err != nil && ctx.Err() == nil {
				w.logger.Warn("poll lock extend failed", "lock", name, "error", err)
			}
		}
	}
}

func pollLockName(subscriptionID string) string {
	return "poll:" + subscriptionID
}
