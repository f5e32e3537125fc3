package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

// DefaultNamespace prefixes every key the queue owns.
const DefaultNamespace = "sercha-poller"

const (
	// records expire this long after their last write
	recordTTL = 24 * time.Hour

	defaultClaimTimeout = 5 * time.Minute
	promoteBatch        = 100
	scanPage            = 100
)

var _ driven.TaskQueue = (*Queue)(nil)

// Config configures a Queue.
type Config struct {
	// ConsumerName identifies this worker in the consumer group. Defaults to
	// hostname and pid.
	ConsumerName string
	Namespace    string
	// ClaimTimeout is how long a delivery may stay unacked before another
	// consumer takes it over (default 5m).
	ClaimTimeout time.Duration
}

// Queue is a TaskQueue on Redis Streams.
//
// Keys under the namespace:
//
//	<ns>:task:<id>      JSON task record
//	<ns>:delivery:<id>  stream entry id of the current delivery
//	<ns>:index          every task id scored by creation time
//	<ns>:delayed        pending task ids scored by due time (ms)
//	<ns>:ready          stream of due task ids, read by the <ns>:consumers group
type Queue struct {
	client       *redis.Client
	consumer     string
	claimTimeout time.Duration

	ns      string
	ready   string
	group   string
	delayed string
	index   string
}

// promoteScript moves up to ARGV[2] delayed ids due at ARGV[1] onto the stream.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('XADD', KEYS[2], '*', 'id', id)
end
return #due
`)

// NewQueue creates the queue and its consumer group if needed.
func NewQueue(ctx context.Context, client *redis.Client, cfg Config) (*Queue, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	ns := cfg.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	q := &Queue{
		client:       client,
		consumer:     cfg.ConsumerName,
		claimTimeout: cfg.ClaimTimeout,
		ns:           ns,
		ready:        ns + ":ready",
		group:        ns + ":consumers",
		delayed:      ns + ":delayed",
		index:        ns + ":index",
	}
	if q.consumer == "" {
		host, _ := os.Hostname()
		q.consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if q.claimTimeout <= 0 {
		q.claimTimeout = defaultClaimTimeout
	}

	err := client.XGroupCreateMkStream(ctx, q.ready, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return q, nil
}

func (q *Queue) recordKey(id string) string   { return q.ns + ":task:" + id }
func (q *Queue) deliveryKey(id string) string { return q.ns + ":delivery:" + id }

// write stages the record and, when requested, its next delivery.
func (q *Queue) write(ctx context.Context, pipe redis.Pipeliner, task *domain.Task, deliver bool) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.ID, err)
	}
	pipe.Set(ctx, q.recordKey(task.ID), data, recordTTL)
	if !deliver {
		return nil
	}
	if task.ScheduledFor.After(time.Now()) {
		pipe.ZAdd(ctx, q.delayed, redis.Z{Score: float64(task.ScheduledFor.UnixMilli()), Member: task.ID})
	} else {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: q.ready, Values: map[string]any{"id": task.ID}})
	}
	return nil
}

func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	if task == nil {
		return errors.New("task is required")
	}
	return q.EnqueueBatch(ctx, []*domain.Task{task})
}

// EnqueueBatch writes all tasks in one MULTI/EXEC.
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	pipe := q.client.TxPipeline()
	n := 0
	for _, task := range tasks {
		if task == nil {
			continue
		}
		if err := q.write(ctx, pipe, task, true); err != nil {
			return err
		}
		pipe.ZAdd(ctx, q.index, redis.Z{Score: float64(task.CreatedAt.UnixMilli()), Member: task.ID})
		n++
	}
	if n == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %d tasks: %w", n, err)
	}
	return nil
}

func (q *Queue) Dequeue(ctx context.Context) (*domain.Task, error) {
	return q.DequeueWithTimeout(ctx, 0)
}

// DequeueWithTimeout waits up to timeout seconds for a task; zero waits
// indefinitely. It returns nil, nil when nothing arrived.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	if err := q.promote(ctx); err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("promote delayed tasks: %w", err)
	}

	if msg, ok := q.reclaim(ctx); ok {
		if task, err := q.begin(ctx, msg); err != nil || task != nil {
			return task, err
		}
	}

	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.ready, ">"},
		Count:    1,
		Block:    time.Duration(timeout) * time.Second,
	}).Result()
	switch {
	case err == nil:
		if len(res) == 0 || len(res[0].Messages) == 0 {
			return nil, nil
		}
		return q.begin(ctx, res[0].Messages[0])
	case errors.Is(err, redis.Nil), ctx.Err() != nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("read stream: %w", err)
	}
}

func (q *Queue) promote(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return promoteScript.Run(ctx, q.client, []string{q.delayed, q.ready}, now, promoteBatch).Err()
}

// reclaim takes over one delivery another consumer left unacked.
func (q *Queue) reclaim(ctx context.Context) (redis.XMessage, bool) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.ready,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.claimTimeout,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil || len(msgs) == 0 {
		return redis.XMessage{}, false
	}
	return msgs[0], true
}

// begin marks the task behind a stream entry as processing. Entries whose
// record expired or is no longer runnable are discarded and yield nil.
func (q *Queue) begin(ctx context.Context, msg redis.XMessage) (*domain.Task, error) {
	id, _ := msg.Values["id"].(string)
	task, err := q.GetTask(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		q.discard(ctx, msg.ID)
		return nil, nil
	case err != nil:
		return nil, err
	case task.Status != domain.TaskStatusPending && task.Status != domain.TaskStatusProcessing:
		q.discard(ctx, msg.ID)
		return nil, nil
	}

	task.MarkProcessing()
	pipe := q.client.TxPipeline()
	if err := q.write(ctx, pipe, task, false); err != nil {
		return nil, err
	}
	pipe.Set(ctx, q.deliveryKey(id), msg.ID, recordTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("start task %s: %w", id, err)
	}
	return task, nil
}

func (q *Queue) discard(ctx context.Context, entryID string) {
	pipe := q.client.Pipeline()
	pipe.XAck(ctx, q.ready, q.group, entryID)
	pipe.XDel(ctx, q.ready, entryID)
	_, _ = pipe.Exec(ctx)
}

// finish stores the task's new state and retires its current delivery.
func (q *Queue) finish(ctx context.Context, task *domain.Task, redeliver bool) error {
	entryID, err := q.client.Get(ctx, q.deliveryKey(task.ID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	pipe := q.client.TxPipeline()
	if entryID != "" {
		pipe.XAck(ctx, q.ready, q.group, entryID)
		pipe.XDel(ctx, q.ready, entryID)
	}
	pipe.Del(ctx, q.deliveryKey(task.ID))
	if err := q.write(ctx, pipe, task, redeliver); err != nil {
		return err
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (q *Queue) Ack(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	task.MarkCompleted()
	if err := q.finish(ctx, task, false); err != nil {
		return fmt.Errorf("ack task %s: %w", taskID, err)
	}
	return nil
}

// Nack schedules a retry with backoff, or fails the task when its attempts
// are used up.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	retry := task.CanRetry()
	if retry {
		task.Retry(reason)
	} else {
		task.MarkFailed(reason)
	}
	if err := q.finish(ctx, task, retry); err != nil {
		return fmt.Errorf("nack task %s: %w", taskID, err)
	}
	return nil
}

func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := q.client.Get(ctx, q.recordKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &task, nil
}

// walk visits tasks newest first until fn returns false. Index entries whose
// record has expired are dropped along the way.
func (q *Queue) walk(ctx context.Context, fn func(*domain.Task) bool) error {
	for start := int64(0); ; start += scanPage {
		ids, err := q.client.ZRevRange(ctx, q.index, start, start+scanPage-1).Result()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = q.recordKey(id)
		}
		records, err := q.client.MGet(ctx, keys...).Result()
		if err != nil {
			return err
		}

		var expired []any
		for i, rec := range records {
			s, ok := rec.(string)
			if !ok {
				expired = append(expired, ids[i])
				continue
			}
			var task domain.Task
			if json.Unmarshal([]byte(s), &task) != nil {
				continue
			}
			if !fn(&task) {
				return nil
			}
		}
		if len(expired) > 0 {
			if err := q.client.ZRem(ctx, q.index, expired...).Err(); err != nil {
				return err
			}
			start -= int64(len(expired))
		}
		if len(ids) < scanPage {
			return nil
		}
	}
}

// ListTasks filters the whole index in memory, newest first.
func (q *Queue) ListTasks(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	var out []*domain.Task
	skip := filter.Offset
	err := q.walk(ctx, func(t *domain.Task) bool {
		if (filter.ApplicationID != "" && t.ApplicationID != filter.ApplicationID) ||
			(filter.Status != "" && t.Status != filter.Status) ||
			(filter.Type != "" && t.Type != filter.Type) {
			return true
		}
		if skip > 0 {
			skip--
			return true
		}
		out = append(out, t)
		return filter.Limit <= 0 || len(out) < filter.Limit
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return out, nil
}

// CancelTask cancels a pending task. A copy already on the stream is
// discarded when it is read.
func (q *Queue) CancelTask(ctx context.Context, taskID string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskStatusPending {
		return fmt.Errorf("task %s is %s: %w", taskID, task.Status, domain.ErrTaskNotPending)
	}
	task.Status = domain.TaskStatusCancelled
	task.Error = "cancelled"
	task.UpdatedAt = time.Now()

	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.delayed, taskID)
	if err := q.write(ctx, pipe, task, false); err != nil {
		return err
	}
	_, err = pipe.Exec(ctx)
	return err
}

// PurgeTasks deletes finished tasks last updated more than olderThanSeconds ago.
func (q *Queue) PurgeTasks(ctx context.Context, olderThanSeconds int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)
	var ids []string
	err := q.walk(ctx, func(t *domain.Task) bool {
		if t.Status.Finished() && t.UpdatedAt.Before(cutoff) {
			ids = append(ids, t.ID)
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = q.recordKey(id)
		members[i] = id
	}
	pipe := q.client.TxPipeline()
	deleted := pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, q.index, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	return int(deleted.Val()), nil
}

// Stats counts pending work from the stream and delayed set, in-flight work
// from the group's pending entries, and terminal counts from the records.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	stats := &driven.QueueStats{}

	streamLen, err := q.client.XLen(ctx, q.ready).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("stream length: %w", err)
	}
	delayed, err := q.client.ZCard(ctx, q.delayed).Result()
	if err != nil {
		return nil, fmt.Errorf("delayed count: %w", err)
	}

	var inFlight int64
	if p, err := q.client.XPending(ctx, q.ready, q.group).Result(); err == nil {
		inFlight = p.Count
	}
	stats.ProcessingCount = inFlight
	stats.PendingCount = streamLen - inFlight + delayed

	err = q.walk(ctx, func(t *domain.Task) bool {
		switch t.Status {
		case domain.TaskStatusCompleted:
			stats.CompletedCount++
		case domain.TaskStatusFailed:
			stats.FailedCount++
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("count tasks: %w", err)
	}
	return stats, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close is a no-op; the client belongs to the caller.
func (q *Queue) Close() error { return nil }
