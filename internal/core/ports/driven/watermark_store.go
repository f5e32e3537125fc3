package driven

import (
	"context"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
)

// WatermarkStore persists per (subscription, entity type) watermarks.
// The poller only reads and writes whole watermarks; it never deletes them.
type WatermarkStore interface {
	// Get returns the watermark for the entity type, or nil, nil if none exists yet.
	Get(ctx context.Context, subscriptionID, entityKey string) (*domain.Watermark, error)

	// Set creates or replaces the watermark.
	Set(ctx context.Context, subscriptionID, entityKey string, wm *domain.Watermark) error

	// List returns all watermarks of a subscription.
	List(ctx context.Context, subscriptionID string) ([]*domain.EntityWatermark, error)

	// DeleteAll removes every watermark of a subscription.
	// Used when the subscription itself is deleted.
	DeleteAll(ctx context.Context, subscriptionID string) error
}
