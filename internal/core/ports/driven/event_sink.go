package driven

import (
	"context"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
)

// EventSink receives change events. Emission is fire-and-forget: a nil error means the
// sink accepted the event, not that any consumer processed it.
type EventSink interface {
	Emit(ctx context.Context, event *domain.Event) error

	// Close flushes and releases resources.
	Close() error
}
