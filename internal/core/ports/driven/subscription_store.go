package driven

import (
	"context"
	"time"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
)

// SubscriptionStore handles subscription persistence (PostgreSQL)
type SubscriptionStore interface {
	// Get retrieves a subscription by ID, including decrypted settings.
	Get(ctx context.Context, id string) (*domain.Subscription, error)

	// List retrieves all subscriptions.
	List(ctx context.Context) ([]*domain.Subscription, error)

	// Save creates or updates a subscription.
	Save(ctx context.Context, sub *domain.Subscription) error

	// Delete removes a subscription.
	Delete(ctx context.Context, id string) error

	// UpdateSettings replaces the stored credentials and clears any pending
	// authorization override.
	UpdateSettings(ctx context.Context, id string, settings domain.Credentials) error

	// DelayTill prevents the subscription from being polled before t.
	DelayTill(ctx context.Context, id string, t time.Time) error

	// ClaimDue moves the next poll time to until, but only while the
	// subscription is still due at now. It reports whether the claim was made.
	ClaimDue(ctx context.Context, id string, now, until time.Time) (bool, error)

	// GetDue returns enabled subscriptions whose next poll time is at or before now.
	GetDue(ctx context.Context, now time.Time) ([]*domain.Subscription, error)

	// RecordPoll stores the outcome of the latest poll cycle.
	RecordPoll(ctx context.Context, id string, result *domain.PollResult) error
}
