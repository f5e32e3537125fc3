package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

var _ driven.Alerter = (*MockAlerter)(nil)

// Alert is one recorded alert.
type Alert struct {
	Err           error
	ApplicationID string
	Fields        map[string]any
}

// MockAlerter records alerts.
type MockAlerter struct {
	mu     sync.Mutex
	alerts []Alert
}

// NewMockAlerter creates a new MockAlerter
func NewMockAlerter() *MockAlerter {
	return &MockAlerter{}
}

func (m *MockAlerter) Alert(ctx context.Context, err error, applicationID string, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, Alert{Err: err, ApplicationID: applicationID, Fields: fields})
}

// Alerts returns the recorded alerts.
func (m *MockAlerter) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Alert(nil), m.alerts...)
}
