package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

func setupTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q, err := NewQueue(context.Background(), client, Config{ConsumerName: "test-worker"})
	require.NoError(t, err)
	return q, mr
}

func TestNewQueue_RequiresClient(t *testing.T) {
	_, err := NewQueue(context.Background(), nil, Config{})
	assert.Error(t, err)
}

func TestNewQueue_GroupAlreadyExists(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := NewQueue(context.Background(), client, Config{})
	require.NoError(t, err)

	_, err = NewQueue(context.Background(), client, Config{})
	assert.NoError(t, err, "second queue on the same namespace should reuse the group")
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewPollSubscriptionTask("app-1", "sub-1")
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, "sub-1", got.SubscriptionID())
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)

	require.NoError(t, q.Ack(ctx, task.ID))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
}

func TestQueue_DelayedTaskNotDelivered(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewPollSubscriptionTask("app-1", "sub-1")
	task.ScheduledFor = time.Now().Add(time.Hour)
	require.NoError(t, q.Enqueue(ctx, task))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingCount)

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got, "task scheduled in the future must not be delivered")
}

func TestQueue_NackSchedulesRetry(t *testing.T) {
	q, mr := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewPollSubscriptionTask("app-1", "sub-1")
	require.NoError(t, q.Enqueue(ctx, task))

	_, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, q.Nack(ctx, task.ID, "gateway unavailable"))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
	assert.Equal(t, "gateway unavailable", stored.Error)
	assert.True(t, stored.ScheduledFor.After(time.Now()))

	members, err := mr.ZMembers(q.delayed)
	require.NoError(t, err)
	assert.Equal(t, []string{task.ID}, members)
}

func TestQueue_NackExhaustedFails(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewPollSubscriptionTask("app-1", "sub-1")
	task.MaxAttempts = 1
	require.NoError(t, q.Enqueue(ctx, task))

	_, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, task.ID, "boom"))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
}

func TestQueue_GetTaskNotFound(t *testing.T) {
	q, _ := setupTestQueue(t)

	_, err := q.GetTask(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestQueue_ListAndCancel(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	delayed := domain.NewPollSubscriptionTask("app-1", "sub-1")
	delayed.ScheduledFor = time.Now().Add(time.Hour)
	other := domain.NewPollSubscriptionTask("app-2", "sub-2")
	require.NoError(t, q.EnqueueBatch(ctx, []*domain.Task{delayed, other}))

	tasks, err := q.ListTasks(ctx, driven.TaskFilter{ApplicationID: "app-1"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, delayed.ID, tasks[0].ID)

	require.NoError(t, q.CancelTask(ctx, delayed.ID))

	stored, err := q.GetTask(ctx, delayed.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, stored.Status)

	assert.ErrorIs(t, q.CancelTask(ctx, delayed.ID), domain.ErrTaskNotPending, "cancelling twice should fail")
}

func TestQueue_PurgeTasks(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewPollSubscriptionTask("app-1", "sub-1")
	require.NoError(t, q.Enqueue(ctx, task))
	_, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, task.ID))

	// Not old enough yet
	n, err := q.PurgeTasks(ctx, 3600)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = q.PurgeTasks(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = q.GetTask(ctx, task.ID)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestQueue_Ping(t *testing.T) {
	q, _ := setupTestQueue(t)
	assert.NoError(t, q.Ping(context.Background()))
	assert.NoError(t, q.Close())
}

func TestQueue_DelayedTaskPromotedWhenDue(t *testing.T) {
	q, mr := setupTestQueue(t)
	ctx := context.Background()

	task := domain.NewPollSubscriptionTask("app-1", "sub-1")
	task.ScheduledFor = time.Now().Add(time.Hour)
	require.NoError(t, q.Enqueue(ctx, task))

	// Pull the due time into the past.
	_, err := mr.ZAdd(q.delayed, 0, task.ID)
	require.NoError(t, err)

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)

	members, err := mr.ZMembers(q.delayed)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestQueue_CancelledTaskSkippedOnRead(t *testing.T) {
	q, _ := setupTestQueue(t)
	ctx := context.Background()

	cancelled := domain.NewPollSubscriptionTask("app-1", "sub-1")
	live := domain.NewPollSubscriptionTask("app-1", "sub-2")
	require.NoError(t, q.EnqueueBatch(ctx, []*domain.Task{cancelled, live}))
	require.NoError(t, q.CancelTask(ctx, cancelled.ID))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got, "the cancelled entry is dropped, not delivered")

	got, err = q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, live.ID, got.ID)
}

func TestQueue_ListSkipsExpiredRecords(t *testing.T) {
	q, mr := setupTestQueue(t)
	ctx := context.Background()

	gone := domain.NewPollSubscriptionTask("app-1", "sub-1")
	kept := domain.NewPollSubscriptionTask("app-1", "sub-2")
	require.NoError(t, q.EnqueueBatch(ctx, []*domain.Task{gone, kept}))
	mr.Del(q.recordKey(gone.ID))

	tasks, err := q.ListTasks(ctx, driven.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, kept.ID, tasks[0].ID)

	ids, err := mr.ZMembers(q.index)
	require.NoError(t, err)
	assert.Equal(t, []string{kept.ID}, ids)
}
