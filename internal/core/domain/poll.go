package domain

import "time"

// PollCycle is scoped to one detection of one entity type. PollTime is captured once
// and used both as the upper query bound and as the new watermark.
type PollCycle struct {
	SubscriptionID string
	PollTime       time.Time
}

// PollStats holds counters for a poll cycle.
type PollStats struct {
	EntitiesPolled int `json:"entities_polled"`
	EntitiesFailed int `json:"entities_failed"`
	RecordsCreated int `json:"records_created"`
	RecordsUpdated int `json:"records_updated"`
	RecordsDeleted int `json:"records_deleted"`
	RecordFailures int `json:"record_failures"`
}

// Add accumulates an entity result into the stats.
func (s *PollStats) Add(r *EntityPollResult) {
	if r.Error != "" {
		s.EntitiesFailed++
		return
	}
	s.EntitiesPolled++
	s.RecordsCreated += r.Created
	s.RecordsUpdated += r.Updated
	s.RecordsDeleted += r.Deleted
	s.RecordFailures += r.Failures
}

// EntityPollResult is the outcome of polling one entity type.
type EntityPollResult struct {
	EntityType string        `json:"entity_type"`
	Mode       DetectionMode `json:"mode,omitempty"`
	Created    int           `json:"created"`
	Updated    int           `json:"updated"`
	Deleted    int           `json:"deleted"`
	Failures   int           `json:"failures"`
	Persisted  bool          `json:"persisted"`
	Error      string        `json:"error,omitempty"`
}

// PollResult is the outcome of one reconciliation cycle for a subscription.
type PollResult struct {
	SubscriptionID string              `json:"subscription_id"`
	Authorized     bool                `json:"authorized"`
	Success        bool                `json:"success"`
	Entities       []*EntityPollResult `json:"entities,omitempty"`
	Stats          PollStats           `json:"stats"`
	Error          string              `json:"error,omitempty"`
	Duration       float64             `json:"duration_seconds"`
	NextPollAt     *time.Time          `json:"next_poll_at,omitempty"`
}

// ProcessResult counts what the delta processor did with one delta.
type ProcessResult struct {
	Created  int
	Updated  int
	Deleted  int
	Failures int
}
