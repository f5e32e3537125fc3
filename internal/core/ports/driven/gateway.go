package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
)

// SourceGateway is the enumerated capability surface of a remote source.
// It exposes only the operations the poller needs; nothing else of the underlying
// client is reachable through it.
type SourceGateway interface {
	// Authorize logs in with the given credentials.
	// Subsequent calls on the gateway use the established session.
	Authorize(ctx context.Context, creds domain.Credentials) error

	// DescribeSchema lists every entity type with its capability flags.
	DescribeSchema(ctx context.Context) ([]domain.EntityDescriptor, error)

	// QueryCreatedSince returns full records whose creation time is >= since.
	QueryCreatedSince(ctx context.Context, entityType string, since time.Time) ([]domain.Record, error)

	// UpdatedSince returns ids of records modified in [from, to].
	UpdatedSince(ctx context.Context, entityType string, from, to time.Time) ([]domain.RecordID, error)

	// DeletedSince returns ids of records deleted in [from, to].
	DeletedSince(ctx context.Context, entityType string, from, to time.Time) ([]domain.RecordID, error)

	// ListAll returns every currently listable record of the entity type.
	ListAll(ctx context.Context, entityType string) ([]domain.Record, error)
}

// RecordWriter dispatches creates and updates to a source.
// Records carrying an Id are updated, records without one are created.
type RecordWriter interface {
	Upsert(ctx context.Context, entityType string, records []domain.Record) ([]UpsertResult, error)
}

// RecordQuerier runs ad hoc queries in the source's own query language and
// returns every page of the result.
type RecordQuerier interface {
	Query(ctx context.Context, query string) ([]domain.Record, error)
}

// UpsertResult is the per-record outcome of an upsert.
type UpsertResult struct {
	ID      domain.RecordID `json:"id,omitempty"`
	Created bool            `json:"created"`
	Success bool            `json:"success"`
	Errors  []string        `json:"errors,omitempty"`
}

// GatewayFactory creates gateways for subscriptions.
// A new gateway is created per poll cycle so sessions are never shared across subscriptions.
type GatewayFactory interface {
	// Create returns an unauthorized gateway for the subscription's provider.
	Create(ctx context.Context, sub *domain.Subscription) (SourceGateway, error)

	// SupportedTypes returns all registered provider types.
	SupportedTypes() []domain.ProviderType
}
