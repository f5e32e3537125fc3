package domain

import (
	"crypto/rand"
	"encoding/base64"
	"time"
)

// GenerateID returns 16 random bytes as unpadded base64url (22 characters).
func GenerateID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// TaskType names the work a queued task asks for.
type TaskType string

// TaskTypePollSubscription runs one reconciliation cycle.
// Payload: {"subscription_id": "<id>"}.
const TaskTypePollSubscription TaskType = "poll_subscription"

// TaskStatus is a queued task's lifecycle state.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusProcessing, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Finished reports whether s is terminal. Finished tasks are eligible for purging.
func (s TaskStatus) Finished() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

const (
	defaultTaskAttempts = 3
	maxRetryDelay       = 5 * time.Minute
)

// Task is a unit of queued work. Manual poll triggers carry a higher Priority
// than scheduler-issued ones.
type Task struct {
	ID            string            `json:"id"`
	Type          TaskType          `json:"type"`
	ApplicationID string            `json:"application_id"`
	Payload       map[string]string `json:"payload"`
	Status        TaskStatus        `json:"status"`
	Priority      int               `json:"priority"`

	// Attempts counts dequeues; the task fails for good once it reaches MaxAttempts.
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	Error       string `json:"error,omitempty"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	ScheduledFor time.Time  `json:"scheduled_for"`
}

// NewTask builds a pending task that is due immediately.
func NewTask(taskType TaskType, applicationID string, payload map[string]string) *Task {
	now := time.Now()
	return &Task{
		ID:            GenerateID(),
		Type:          taskType,
		ApplicationID: applicationID,
		Payload:       payload,
		Status:        TaskStatusPending,
		MaxAttempts:   defaultTaskAttempts,
		CreatedAt:     now,
		UpdatedAt:     now,
		ScheduledFor:  now,
	}
}

// NewPollSubscriptionTask builds the task that polls one subscription.
func NewPollSubscriptionTask(applicationID, subscriptionID string) *Task {
	return NewTask(TaskTypePollSubscription, applicationID, map[string]string{"subscription_id": subscriptionID})
}

// SubscriptionID is the polled subscription, or "" when the payload lacks one.
func (t *Task) SubscriptionID() string {
	return t.Payload["subscription_id"]
}

func (t *Task) CanRetry() bool {
	return t.Attempts < t.MaxAttempts
}

// IsReady reports whether a pending task's scheduled time has passed.
func (t *Task) IsReady() bool {
	return t.Status == TaskStatusPending && !t.ScheduledFor.After(time.Now())
}

func (t *Task) setStatus(s TaskStatus, errMsg string) time.Time {
	now := time.Now()
	t.Status = s
	t.Error = errMsg
	t.UpdatedAt = now
	return now
}

// MarkProcessing records a dequeue and counts it as an attempt.
func (t *Task) MarkProcessing() {
	now := t.setStatus(TaskStatusProcessing, t.Error)
	t.StartedAt = &now
	t.Attempts++
}

func (t *Task) MarkCompleted() {
	now := t.setStatus(TaskStatusCompleted, "")
	t.CompletedAt = &now
}

func (t *Task) MarkFailed(errMsg string) {
	t.setStatus(TaskStatusFailed, errMsg)
}

// Retry puts the task back to pending and delays it by 2^Attempts seconds,
// at most five minutes.
func (t *Task) Retry(errMsg string) {
	now := t.setStatus(TaskStatusPending, errMsg)
	t.ScheduledFor = now.Add(RetryDelay(t.Attempts))
}

// RetryDelay is the backoff applied after the given number of attempts.
func RetryDelay(attempts int) time.Duration {
	attempts = max(attempts, 0)
	if attempts >= 9 { // 2^9s already exceeds the cap
		return maxRetryDelay
	}
	return min(time.Duration(1<<attempts)*time.Second, maxRetryDelay)
}
