package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChangeKind is the middle segment of an event name.
type ChangeKind string

const (
	ChangeKindNew      ChangeKind = "new"
	ChangeKindModified ChangeKind = "modified"
	ChangeKindDeleted  ChangeKind = "deleted"
)

// EventName builds the stable event name consumers key off:
// {connectorKey}:{new|modified|deleted}:{lowercased entity type}.
// Every emitter and replay path must go through this function.
func EventName(connectorKey string, kind ChangeKind, entityType string) string {
	return fmt.Sprintf("%s:%s:%s", connectorKey, kind, EntityKey(entityType))
}

// Event is a single change notification produced by the delta processor.
type Event struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	SubscriptionID string     `json:"subscription_id"`
	ApplicationID  string     `json:"application_id,omitempty"`
	ConnectorKey   string     `json:"connector_key"`
	Kind           ChangeKind `json:"kind"`
	EntityType     string     `json:"entity_type"`
	Payload        Record     `json:"payload"`
	EmittedAt      time.Time  `json:"emitted_at"`
}

// NewEvent builds an event for a record change on the given subscription.
func NewEvent(sub *Subscription, kind ChangeKind, entityType string, payload Record) *Event {
	return &Event{
		ID:             uuid.NewString(),
		Name:           EventName(sub.ConnectorKey, kind, entityType),
		SubscriptionID: sub.ID,
		ApplicationID:  sub.ApplicationID,
		ConnectorKey:   sub.ConnectorKey,
		Kind:           kind,
		EntityType:     EntityKey(entityType),
		Payload:        payload,
		EmittedAt:      time.Now().UTC(),
	}
}
