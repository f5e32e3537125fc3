package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

var _ driven.WatermarkStore = (*MockWatermarkStore)(nil)

// MockWatermarkStore is an in-memory WatermarkStore for testing.
// It stores clones so tests observe exactly what was persisted.
type MockWatermarkStore struct {
	mu         sync.RWMutex
	watermarks map[string]*domain.EntityWatermark

	GetErr error
	SetErr error
	// SetErrFor fails Set for individual entity keys.
	SetErrFor map[string]error

	setCalls []string
}

// NewMockWatermarkStore creates a new MockWatermarkStore
func NewMockWatermarkStore() *MockWatermarkStore {
	return &MockWatermarkStore{
		watermarks: make(map[string]*domain.EntityWatermark),
	}
}

func watermarkKey(subscriptionID, entityKey string) string {
	return subscriptionID + "/" + entityKey
}

func (m *MockWatermarkStore) Get(ctx context.Context, subscriptionID, entityKey string) (*domain.Watermark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	ew, ok := m.watermarks[watermarkKey(subscriptionID, entityKey)]
	if !ok {
		return nil, nil
	}
	return ew.Watermark.Clone(), nil
}

func (m *MockWatermarkStore) Set(ctx context.Context, subscriptionID, entityKey string, wm *domain.Watermark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setCalls = append(m.setCalls, entityKey)
	if m.SetErr != nil {
		return m.SetErr
	}
	if err := m.SetErrFor[entityKey]; err != nil {
		return err
	}
	m.watermarks[watermarkKey(subscriptionID, entityKey)] = &domain.EntityWatermark{
		SubscriptionID: subscriptionID,
		EntityType:     entityKey,
		Watermark:      wm.Clone(),
		UpdatedAt:      time.Now(),
	}
	return nil
}

func (m *MockWatermarkStore) List(ctx context.Context, subscriptionID string) ([]*domain.EntityWatermark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.EntityWatermark
	for _, ew := range m.watermarks {
		if ew.SubscriptionID == subscriptionID {
			out = append(out, ew)
		}
	}
	return out, nil
}

func (m *MockWatermarkStore) DeleteAll(ctx context.Context, subscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, ew := range m.watermarks {
		if ew.SubscriptionID == subscriptionID {
			delete(m.watermarks, k)
		}
	}
	return nil
}

// Helper methods for testing

// Seed stores a watermark without recording a Set call.
func (m *MockWatermarkStore) Seed(subscriptionID, entityKey string, wm *domain.Watermark) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermarks[watermarkKey(subscriptionID, entityKey)] = &domain.EntityWatermark{
		SubscriptionID: subscriptionID,
		EntityType:     entityKey,
		Watermark:      wm.Clone(),
	}
}

// Peek returns the stored watermark or nil.
func (m *MockWatermarkStore) Peek(subscriptionID, entityKey string) *domain.Watermark {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ew, ok := m.watermarks[watermarkKey(subscriptionID, entityKey)]
	if !ok {
		return nil
	}
	return ew.Watermark.Clone()
}

// SetCalls returns the entity keys passed to Set, in call order.
func (m *MockWatermarkStore) SetCalls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.setCalls...)
}
