package driven

import (
	"context"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
)

// TaskQueue carries poll_subscription tasks from the scheduler and the API to
// workers. Redis streams back it when Redis is configured, a tasks table otherwise.
type TaskQueue interface {
	Enqueue(ctx context.Context, task *domain.Task) error

	// EnqueueBatch enqueues every task or none of them. The scheduler uses it for
	// all subscriptions due in one scan.
	EnqueueBatch(ctx context.Context, tasks []*domain.Task) error

	// Dequeue claims the next ready task, or returns nil, nil when none is ready.
	Dequeue(ctx context.Context) (*domain.Task, error)

	// DequeueWithTimeout waits up to timeout seconds for a ready task and
	// returns nil, nil when none arrives.
	DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error)

	// Ack marks a claimed task completed.
	Ack(ctx context.Context, taskID string) error

	// Nack records reason and either reschedules the task with backoff or, once
	// its attempts are used up, marks it failed.
	Nack(ctx context.Context, taskID string, reason string) error

	// GetTask returns domain.ErrNotFound for unknown ids.
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	ListTasks(ctx context.Context, filter TaskFilter) ([]*domain.Task, error)

	// CancelTask cancels a pending task. Tasks that already started or finished
	// yield domain.ErrTaskNotPending.
	CancelTask(ctx context.Context, taskID string) error

	// PurgeTasks deletes finished tasks last updated more than olderThan seconds
	// ago and returns how many were removed.
	PurgeTasks(ctx context.Context, olderThan int) (int, error)

	Stats(ctx context.Context) (*QueueStats, error)

	Ping(ctx context.Context) error

	Close() error
}

// TaskFilter narrows ListTasks. Zero fields match everything.
type TaskFilter struct {
	ApplicationID string
	Status        domain.TaskStatus
	Type          domain.TaskType
	Limit         int
	Offset        int
}

// QueueStats is served by GET /api/v1/queue/stats. OldestPendingAge is in seconds.
type QueueStats struct {
	PendingCount     int64 `json:"pending_count"`
	ProcessingCount  int64 `json:"processing_count"`
	CompletedCount   int64 `json:"completed_count"`
	FailedCount      int64 `json:"failed_count"`
	OldestPendingAge int64 `json:"oldest_pending_age"`
}
