package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.WatermarkStore = (*WatermarkStore)(nil)

// WatermarkStore keeps one hash per subscription; each field is an entity type
// and each value the JSON encoded watermark.
type WatermarkStore struct {
	client redis.UniversalClient
	prefix string
}

// storedWatermark is the value written to each hash field.
type storedWatermark struct {
	Watermark *domain.Watermark `json:"watermark"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// NewWatermarkStore creates a WatermarkStore under namespace (DefaultNamespace when empty).
func NewWatermarkStore(client redis.UniversalClient, namespace string) *WatermarkStore {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &WatermarkStore{client: client, prefix: namespace + ":watermarks:"}
}

func (s *WatermarkStore) key(subscriptionID string) string {
	return s.prefix + subscriptionID
}

// Get returns the stored watermark, or nil if the entity type has none.
func (s *WatermarkStore) Get(ctx context.Context, subscriptionID, entityKey string) (*domain.Watermark, error) {
	data, err := s.client.HGet(ctx, s.key(subscriptionID), entityKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get watermark %s/%s: %w", subscriptionID, entityKey, err)
	}

	sw, err := decode(data)
	if err != nil {
		return nil, err
	}
	return sw.Watermark, nil
}

// Set replaces the watermark for the entity type.
func (s *WatermarkStore) Set(ctx context.Context, subscriptionID, entityKey string, wm *domain.Watermark) error {
	data, err := json.Marshal(storedWatermark{Watermark: wm, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal watermark: %w", err)
	}
	if err := s.client.HSet(ctx, s.key(subscriptionID), entityKey, data).Err(); err != nil {
		return fmt.Errorf("set watermark %s/%s: %w", subscriptionID, entityKey, err)
	}
	return nil
}

// List returns all watermarks of the subscription sorted by entity type.
func (s *WatermarkStore) List(ctx context.Context, subscriptionID string) ([]*domain.EntityWatermark, error) {
	fields, err := s.client.HGetAll(ctx, s.key(subscriptionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list watermarks %s: %w", subscriptionID, err)
	}

	result := make([]*domain.EntityWatermark, 0, len(fields))
	for entity, data := range fields {
		sw, err := decode([]byte(data))
		if err != nil {
			return nil, err
		}
		result = append(result, &domain.EntityWatermark{
			SubscriptionID: subscriptionID,
			EntityType:     entity,
			Watermark:      sw.Watermark,
			UpdatedAt:      sw.UpdatedAt,
		})
	}

	sort.Slice(result, func(i, j int) bool { return result[i].EntityType < result[j].EntityType })
	return result, nil
}

// DeleteAll removes every watermark of the subscription.
func (s *WatermarkStore) DeleteAll(ctx context.Context, subscriptionID string) error {
	return s.client.Del(ctx, s.key(subscriptionID)).Err()
}

func decode(data []byte) (*storedWatermark, error) {
	sw := &storedWatermark{}
	if err := json.Unmarshal(data, sw); err != nil {
		return nil, fmt.Errorf("unmarshal watermark: %w", err)
	}
	if sw.Watermark == nil {
		sw.Watermark = domain.NewWatermark()
	}
	if sw.Watermark.IDs == nil {
		sw.Watermark.IDs = domain.NewIDSet()
	}
	return sw, nil
}
