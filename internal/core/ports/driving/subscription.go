package driving

import (
	"context"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

// CredentialsRequest carries source login credentials
type CredentialsRequest struct {
	Username      string `json:"username" validate:"required"`
	Password      string `json:"password" validate:"required"`
	SecurityToken string `json:"security_token,omitempty"`
	LoginURL      string `json:"login_url,omitempty" validate:"omitempty,url"`
}

// ToDomain converts the request to domain credentials
func (r *CredentialsRequest) ToDomain() domain.Credentials {
	return domain.Credentials{
		Username:      r.Username,
		Password:      r.Password,
		SecurityToken: r.SecurityToken,
		LoginURL:      r.LoginURL,
	}
}

// CreateSubscriptionRequest represents a request to create a subscription
type CreateSubscriptionRequest struct {
	Name          string              `json:"name" validate:"required,max=200"`
	ApplicationID string              `json:"application_id" validate:"required"`
	ConnectorKey  string              `json:"connector_key" validate:"required,max=100"`
	ProviderType  domain.ProviderType `json:"provider_type" validate:"required,oneof=salesforce"`
	Credentials   CredentialsRequest  `json:"credentials" validate:"required"`
}

// UpdateSubscriptionRequest represents a request to update a subscription
type UpdateSubscriptionRequest struct {
	Name    *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Enabled *bool   `json:"enabled,omitempty"`
}

// TriggerPollRequest represents a request to poll a subscription now.
// Credentials, when set, override the stored settings for this and later polls.
type TriggerPollRequest struct {
	Credentials *CredentialsRequest `json:"credentials,omitempty"`
}

// UpsertRecordsRequest represents a batch of records to push to the source
type UpsertRecordsRequest struct {
	Records []domain.Record `json:"records" validate:"required,min=1,max=200"`
}

// SubscriptionService manages subscriptions (admin operations)
type SubscriptionService interface {
	// Create creates a new subscription
	Create(ctx context.Context, req CreateSubscriptionRequest) (*domain.Subscription, error)

	// Get retrieves a subscription by ID
	Get(ctx context.Context, id string) (*domain.Subscription, error)

	// List retrieves all subscriptions, optionally scoped to one application
	List(ctx context.Context, applicationID string) ([]*domain.Subscription, error)

	// Update updates a subscription
	Update(ctx context.Context, id string, req UpdateSubscriptionRequest) (*domain.Subscription, error)

	// Delete deletes a subscription and its watermarks
	Delete(ctx context.Context, id string) error

	// SetAuthorization stores a credential override applied on the next poll
	SetAuthorization(ctx context.Context, id string, req CredentialsRequest) error

	// ListWatermarks retrieves the per-entity watermarks of a subscription
	ListWatermarks(ctx context.Context, id string) ([]*domain.EntityWatermark, error)

	// ResetWatermarks deletes all watermarks, forcing a bootstrap poll
	ResetWatermarks(ctx context.Context, id string) error

	// TriggerPoll enqueues an immediate poll
	TriggerPoll(ctx context.Context, id string, req TriggerPollRequest) (*domain.Task, error)

	// UpsertRecords creates or updates records of an entity type at the source
	UpsertRecords(ctx context.Context, id, entityType string, req UpsertRecordsRequest) ([]driven.UpsertResult, error)

	// QueryRecords runs a query in the source's own language (SOQL for Salesforce)
	QueryRecords(ctx context.Context, id, query string) ([]domain.Record, error)
}
