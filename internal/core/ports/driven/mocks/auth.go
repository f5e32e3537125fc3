package mocks

import (
	"fmt"
	"sync"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

var _ driven.AuthAdapter = (*MockAuthAdapter)(nil)

// MockAuthAdapter hands out opaque "mock-token-N" strings and remembers the
// claims behind each one. Unknown tokens fail with domain.ErrTokenInvalid.
type MockAuthAdapter struct {
	mu     sync.Mutex
	claims map[string]domain.TokenClaims

	GenerateErr error
}

func NewMockAuthAdapter() *MockAuthAdapter {
	return &MockAuthAdapter{claims: make(map[string]domain.TokenClaims)}
}

func (m *MockAuthAdapter) GenerateToken(claims *domain.TokenClaims) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GenerateErr != nil {
		return "", m.GenerateErr
	}
	token := fmt.Sprintf("mock-token-%d", len(m.claims)+1)
	m.claims[token] = *claims
	return token, nil
}

func (m *MockAuthAdapter) ParseToken(token string) (*domain.TokenClaims, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	claims, ok := m.claims[token]
	if !ok {
		return nil, domain.ErrTokenInvalid
	}
	return &claims, nil
}

// Issued returns how many tokens were generated.
func (m *MockAuthAdapter) Issued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.claims)
}
