package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.WatermarkStore = (*WatermarkStore)(nil)

// WatermarkStore implements driven.WatermarkStore using PostgreSQL.
// Each watermark is one JSONB document keyed by (subscription, entity type).
type WatermarkStore struct {
	db *DB
}

// NewWatermarkStore creates a new WatermarkStore
func NewWatermarkStore(db *DB) *WatermarkStore {
	return &WatermarkStore{db: db}
}

// Get returns the watermark, or nil if the entity type has never been polled
func (s *WatermarkStore) Get(ctx context.Context, subscriptionID, entityKey string) (*domain.Watermark, error) {
	query := `
		SELECT watermark FROM entity_watermarks
		WHERE subscription_id = $1 AND entity_type = $2
	`

	var raw []byte
	err := s.db.QueryRowContext(ctx, query, subscriptionID, entityKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return decodeWatermark(raw)
}

// Set creates or replaces the watermark
func (s *WatermarkStore) Set(ctx context.Context, subscriptionID, entityKey string, wm *domain.Watermark) error {
	raw, err := json.Marshal(wm)
	if err != nil {
		return fmt.Errorf("marshal watermark: %w", err)
	}

	query := `
		INSERT INTO entity_watermarks (subscription_id, entity_type, watermark, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subscription_id, entity_type) DO UPDATE SET
			watermark = EXCLUDED.watermark,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query, subscriptionID, entityKey, raw, time.Now())
	return err
}

// List returns every watermark of a subscription ordered by entity type
func (s *WatermarkStore) List(ctx context.Context, subscriptionID string) ([]*domain.EntityWatermark, error) {
	query := `
		SELECT entity_type, watermark, updated_at FROM entity_watermarks
		WHERE subscription_id = $1
		ORDER BY entity_type
	`

	rows, err := s.db.QueryContext(ctx, query, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.EntityWatermark
	for rows.Next() {
		ew := &domain.EntityWatermark{SubscriptionID: subscriptionID}
		var raw []byte
		if err := rows.Scan(&ew.EntityType, &raw, &ew.UpdatedAt); err != nil {
			return nil, err
		}
		if ew.Watermark, err = decodeWatermark(raw); err != nil {
			return nil, err
		}
		result = append(result, ew)
	}
	return result, rows.Err()
}

// DeleteAll removes every watermark of a subscription
func (s *WatermarkStore) DeleteAll(ctx context.Context, subscriptionID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entity_watermarks WHERE subscription_id = $1`, subscriptionID)
	return err
}

func decodeWatermark(raw []byte) (*domain.Watermark, error) {
	wm := domain.NewWatermark()
	if err := json.Unmarshal(raw, wm); err != nil {
		return nil, fmt.Errorf("unmarshal watermark: %w", err)
	}
	if wm.IDs == nil {
		wm.IDs = domain.NewIDSet()
	}
	return wm, nil
}
