package mocks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

var _ driven.SubscriptionStore = (*MockSubscriptionStore)(nil)

// MockSubscriptionStore is an in-memory SubscriptionStore for testing
type MockSubscriptionStore struct {
	mu            sync.RWMutex
	subscriptions map[string]*domain.Subscription

	GetErr       error
	DelayTillErr error
	ClaimErr     error

	delays []time.Time
	claims []string
}

// NewMockSubscriptionStore creates a new MockSubscriptionStore
func NewMockSubscriptionStore() *MockSubscriptionStore {
	return &MockSubscriptionStore{
		subscriptions: make(map[string]*domain.Subscription),
	}
}

func (m *MockSubscriptionStore) Get(ctx context.Context, id string) (*domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	sub, ok := m.subscriptions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *sub
	return &c, nil
}

func (m *MockSubscriptionStore) List(ctx context.Context) ([]*domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		c := *sub
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockSubscriptionStore) Save(ctx context.Context, sub *domain.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *sub
	m.subscriptions[sub.ID] = &c
	return nil
}

func (m *MockSubscriptionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subscriptions[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.subscriptions, id)
	return nil
}

func (m *MockSubscriptionStore) UpdateSettings(ctx context.Context, id string, settings domain.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return domain.ErrNotFound
	}
	sub.Settings = settings
	sub.Authorization = nil
	return nil
}

func (m *MockSubscriptionStore) DelayTill(ctx context.Context, id string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delays = append(m.delays, t)
	if m.DelayTillErr != nil {
		return m.DelayTillErr
	}
	if sub, ok := m.subscriptions[id]; ok {
		sub.NextPollAt = &t
	}
	return nil
}

func (m *MockSubscriptionStore) ClaimDue(ctx context.Context, id string, now, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClaimErr != nil {
		return false, m.ClaimErr
	}
	sub, ok := m.subscriptions[id]
	if !ok || (sub.NextPollAt != nil && sub.NextPollAt.After(now)) {
		return false, nil
	}
	sub.NextPollAt = &until
	m.claims = append(m.claims, id)
	return true, nil
}

func (m *MockSubscriptionStore) GetDue(ctx context.Context, now time.Time) ([]*domain.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Subscription
	for _, sub := range m.subscriptions {
		if sub.IsDue(now) {
			c := *sub
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockSubscriptionStore) RecordPoll(ctx context.Context, id string, result *domain.PollResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subscriptions[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	sub.LastPollAt = &now
	sub.LastPollError = result.Error
	sub.LastPollStats = result.Stats
	return nil
}

// Helper methods for testing

// Claims returns the ids of subscriptions successfully claimed.
func (m *MockSubscriptionStore) Claims() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.claims...)
}

// Delays returns every time passed to DelayTill.
func (m *MockSubscriptionStore) Delays() []time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]time.Time(nil), m.delays...)
}
