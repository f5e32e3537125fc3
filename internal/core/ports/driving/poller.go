package driving

import (
	"context"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
)

// Poller runs reconciliation cycles
type Poller interface {
	// PollSubscription runs one cycle for a subscription. It never fails; the
	// outcome, including any error, is reported in the result.
	PollSubscription(ctx context.Context, subscriptionID string, override *domain.Credentials) *domain.PollResult
}

// Scheduler periodically enqueues polls for due subscriptions
type Scheduler interface {
	// Start begins the scheduler loop
	Start(ctx context.Context) error

	// Stop stops the scheduler loop
	Stop()
}
