package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

var _ driven.TaskQueue = (*Queue)(nil)

// Columns in scanTask order.
const selectColumns = `id, type, application_id, payload, status, priority, attempts, max_attempts,
	error, created_at, updated_at, started_at, completed_at, scheduled_for`

// Columns written on insert, 12 per row.
var insertColumns = []string{
	"id", "type", "application_id", "payload", "status", "priority",
	"attempts", "max_attempts", "error", "created_at", "updated_at", "scheduled_for",
}

// emptyPollInterval is the wait between claims while DequeueWithTimeout finds nothing.
const emptyPollInterval = 500 * time.Millisecond

// Queue keeps poll tasks in the tasks table and hands them out with
// FOR UPDATE SKIP LOCKED. It backs deployments that run without Redis.
type Queue struct {
	db *sql.DB
}

// NewQueue expects the tasks table from the embedded migrations.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	return q.EnqueueBatch(ctx, []*domain.Task{task})
}

// EnqueueBatch writes every task in one INSERT, so either all or none are queued.
func (q *Queue) EnqueueBatch(ctx context.Context, tasks []*domain.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	stmt, args, err := buildInsert(tasks)
	if err != nil {
		return err
	}
	if _, err := q.db.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert %d task(s): %w", len(tasks), err)
	}
	return nil
}

func buildInsert(tasks []*domain.Task) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO tasks (" + strings.Join(insertColumns, ", ") + ") VALUES ")

	args := make([]any, 0, len(tasks)*len(insertColumns))
	for i, t := range tasks {
		payload, err := json.Marshal(t.Payload)
		if err != nil {
			return "", nil, fmt.Errorf("task %s payload: %w", t.ID, err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for c := range insertColumns {
			if c > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", len(args)+c+1)
		}
		sb.WriteByte(')')
		args = append(args,
			t.ID, t.Type, t.ApplicationID, payload, t.Status, t.Priority,
			t.Attempts, t.MaxAttempts, t.Error, t.CreatedAt, t.UpdatedAt, t.ScheduledFor,
		)
	}
	return sb.String(), args, nil
}

func (q *Queue) Dequeue(ctx context.Context) (*domain.Task, error) {
	return q.claim(ctx)
}

// DequeueWithTimeout re-checks an empty queue until timeout seconds pass.
// It returns nil, nil on timeout.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	deadline := time.Now().Add(time.Duration(timeout) * time.Second)
	ticker := time.NewTicker(emptyPollInterval)
	defer ticker.Stop()

	for {
		task, err := q.claim(ctx)
		if err != nil || task != nil || time.Now().After(deadline) {
			return task, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// claim moves the most urgent due task to processing. Concurrent claimers
// skip rows another transaction has locked.
func (q *Queue) claim(ctx context.Context) (*domain.Task, error) {
	const stmt = `
		UPDATE tasks
		SET status = 'processing', started_at = $1, updated_at = $1, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = 'pending' AND scheduled_for <= $1
			ORDER BY priority DESC, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + selectColumns

	task, err := scanTask(q.db.QueryRowContext(ctx, stmt, time.Now()))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

func (q *Queue) Ack(ctx context.Context, taskID string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = 'completed', completed_at = $2, updated_at = $2, error = ''
		WHERE id = $1`, taskID, time.Now())
	if err != nil {
		return fmt.Errorf("ack task %s: %w", taskID, err)
	}
	return requireRow(res)
}

// Nack either re-schedules the task with backoff or, once its attempts are
// spent, fails it. The row is locked while the decision is made.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("nack task %s: %w", taskID, err)
	}
	defer func() { _ = tx.Rollback() }()

	task, err := scanTask(tx.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("nack task %s: %w", taskID, err)
	}

	if task.CanRetry() {
		task.Retry(reason)
	} else {
		task.MarkFailed(reason)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = $2, error = $3, updated_at = $4, scheduled_for = $5
		WHERE id = $1`,
		taskID, task.Status, task.Error, task.UpdatedAt, task.ScheduledFor,
	); err != nil {
		return fmt.Errorf("nack task %s: %w", taskID, err)
	}
	return tx.Commit()
}

func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := scanTask(q.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM tasks WHERE id = $1`, taskID))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, domain.ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("get task %s: %w", taskID, err)
	}
	return task, nil
}

// ListTasks returns matching tasks, newest first.
func (q *Queue) ListTasks(ctx context.Context, filter driven.TaskFilter) ([]*domain.Task, error) {
	stmt, args := buildListQuery(filter)
	rows, err := q.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// buildListQuery renders filter as a parameterised SELECT; zero fields do not filter.
func buildListQuery(filter driven.TaskFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	param := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.ApplicationID != "" {
		conds = append(conds, "application_id = "+param(filter.ApplicationID))
	}
	if filter.Status != "" {
		conds = append(conds, "status = "+param(filter.Status))
	}
	if filter.Type != "" {
		conds = append(conds, "type = "+param(filter.Type))
	}

	stmt := "SELECT " + selectColumns + " FROM tasks"
	if len(conds) > 0 {
		stmt += " WHERE " + strings.Join(conds, " AND ")
	}
	stmt += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		stmt += " LIMIT " + param(filter.Limit)
	}
	if filter.Offset > 0 {
		stmt += " OFFSET " + param(filter.Offset)
	}
	return stmt, args
}

// CancelTask only cancels pending tasks. A task that already started or
// finished yields ErrTaskNotPending.
func (q *Queue) CancelTask(ctx context.Context, taskID string) error {
	var prev string
	err := q.db.QueryRowContext(ctx, `
		WITH target AS (SELECT id, status FROM tasks WHERE id = $1 FOR UPDATE)
		UPDATE tasks t
		SET status = CASE WHEN target.status = 'pending' THEN 'cancelled' ELSE t.status END,
		    error = CASE WHEN target.status = 'pending' THEN 'cancelled' ELSE t.error END,
		    updated_at = CASE WHEN target.status = 'pending' THEN $2 ELSE t.updated_at END
		FROM target
		WHERE t.id = target.id
		RETURNING target.status`, taskID, time.Now()).Scan(&prev)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrNotFound
	case err != nil:
		return fmt.Errorf("cancel task %s: %w", taskID, err)
	case domain.TaskStatus(prev) != domain.TaskStatusPending:
		return fmt.Errorf("cancel task in status %s: %w", prev, domain.ErrTaskNotPending)
	}
	return nil
}

// PurgeTasks deletes finished tasks last updated more than olderThanSeconds ago.
func (q *Queue) PurgeTasks(ctx context.Context, olderThanSeconds int) (int, error) {
	cutoff := time.Now().Add(-time.Duration(olderThanSeconds) * time.Second)
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM tasks
		WHERE status IN ('completed', 'failed', 'cancelled') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge tasks: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Stats counts tasks per status and measures the oldest pending task in one scan.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	var (
		stats driven.QueueStats
		age   sql.NullInt64
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'completed'),
			COUNT(*) FILTER (WHERE status = 'failed'),
			EXTRACT(EPOCH FROM NOW() - MIN(created_at) FILTER (WHERE status = 'pending'))::bigint
		FROM tasks`).Scan(
		&stats.PendingCount,
		&stats.ProcessingCount,
		&stats.CompletedCount,
		&stats.FailedCount,
		&age,
	)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	stats.OldestPendingAge = age.Int64
	return &stats, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close does nothing; the pool belongs to the caller.
func (q *Queue) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t                  domain.Task
		payload            []byte
		started, completed sql.NullTime
	)
	if err := row.Scan(
		&t.ID, &t.Type, &t.ApplicationID, &payload, &t.Status, &t.Priority, &t.Attempts, &t.MaxAttempts,
		&t.Error, &t.CreatedAt, &t.UpdatedAt, &started, &completed, &t.ScheduledFor,
	); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &t.Payload); err != nil {
			return nil, fmt.Errorf("task %s payload: %w", t.ID, err)
		}
	}
	if started.Valid {
		t.StartedAt = &started.Time
	}
	if completed.Valid {
		t.CompletedAt = &completed.Time
	}
	return &t, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
