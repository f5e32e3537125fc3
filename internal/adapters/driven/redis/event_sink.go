package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.EventSink = (*StreamSink)(nil)

// DefaultStreamMaxLen caps the event stream (approximate trimming).
const DefaultStreamMaxLen = 100000

// StreamSink appends change events to a Redis stream. Consumers read it with
// their own consumer groups; the sink never waits for them.
type StreamSink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewStreamSink creates a sink writing to "<namespace>:events".
func NewStreamSink(client redis.UniversalClient, namespace string, maxLen int64) *StreamSink {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &StreamSink{client: client, stream: namespace + ":events", maxLen: maxLen}
}

// Emit appends the event. The entry carries the routing fields flat and the full
// event as JSON under "event".
func (s *StreamSink) Emit(ctx context.Context, event *domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":              event.ID,
			"name":            event.Name,
			"subscription_id": event.SubscriptionID,
			"event":           data,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("append event %s: %w", event.Name, err)
	}
	return nil
}

// Close is a no-op; the Redis client is shared.
func (s *StreamSink) Close() error {
	return nil
}
