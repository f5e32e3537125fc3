package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

var _ driven.EventSink = (*MockEventSink)(nil)

// MockEventSink records emitted events.
type MockEventSink struct {
	mu     sync.Mutex
	events []*domain.Event

	// EmitFn, when set, runs before the event is recorded; a non-nil error
	// rejects the event.
	EmitFn func(event *domain.Event) error
}

// NewMockEventSink creates a new MockEventSink
func NewMockEventSink() *MockEventSink {
	return &MockEventSink{}
}

func (m *MockEventSink) Emit(ctx context.Context, event *domain.Event) error {
	if m.EmitFn != nil {
		if err := m.EmitFn(event); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MockEventSink) Close() error {
	return nil
}

// Events returns all recorded events.
func (m *MockEventSink) Events() []*domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Event(nil), m.events...)
}

// Named returns the payloads of events with the given name.
func (m *MockEventSink) Named(name string) []domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Record
	for _, e := range m.events {
		if e.Name == name {
			out = append(out, e.Payload)
		}
	}
	return out
}
