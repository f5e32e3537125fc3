package driving

import (
	"context"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
)

// IssueTokenRequest represents a request to mint an API token
type IssueTokenRequest struct {
	Subject       string      `json:"subject" validate:"required"`
	Role          domain.Role `json:"role" validate:"required,oneof=admin operator viewer"`
	ApplicationID string      `json:"application_id,omitempty"`
	TTLHours      int         `json:"ttl_hours,omitempty" validate:"omitempty,min=1,max=8760"`
}

// TokenResponse contains a signed API token
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// AuthService issues and validates API tokens
type AuthService interface {
	// IssueToken signs a token for the given subject and role
	IssueToken(ctx context.Context, req IssueTokenRequest) (*TokenResponse, error)

	// ValidateToken validates a token and returns the auth context
	ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error)
}
