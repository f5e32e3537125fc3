package domain

import "time"

// ProviderType identifies the kind of remote source a subscription polls.
type ProviderType string

const (
	ProviderTypeSalesforce ProviderType = "salesforce"
)

// Subscription is one application's registration to receive change events
// from a remote source.
type Subscription struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	ApplicationID string       `json:"application_id"`
	ConnectorKey  string       `json:"connector_key"`
	ProviderType  ProviderType `json:"provider_type"`
	Enabled       bool         `json:"enabled"`

	// Settings are the stored connector credentials.
	Settings Credentials `json:"-"`

	// Authorization carries credential overrides that take precedence over Settings
	// and are written back into Settings on the next poll.
	Authorization *Credentials `json:"-"`

	NextPollAt    *time.Time `json:"next_poll_at,omitempty"`
	LastPollAt    *time.Time `json:"last_poll_at,omitempty"`
	LastPollError string     `json:"last_poll_error,omitempty"`
	LastPollStats PollStats  `json:"last_poll_stats"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDue reports whether the subscription should be polled at now.
// A subscription that has never been scheduled is always due.
func (s *Subscription) IsDue(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	return s.NextPollAt == nil || !now.Before(*s.NextPollAt)
}

// SubscriptionSummary is the API view of a subscription.
type SubscriptionSummary struct {
	*Subscription
	Credentials CredentialSummary `json:"credentials"`
}

// ToSummary converts a Subscription to its API view.
func (s *Subscription) ToSummary() *SubscriptionSummary {
	return &SubscriptionSummary{
		Subscription: s,
		Credentials:  s.Settings.ToSummary(),
	}
}
