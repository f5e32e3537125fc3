package services

import (
	"context"
	"fmt"
	"time"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driving"
)

var _ driving.AuthService = (*authService)(nil)

const defaultTokenTTL = 24 * time.Hour

// AuthServiceConfig holds the signer and token lifetime for the admin API.
type AuthServiceConfig struct {
	Adapter driven.AuthAdapter

	// DefaultTTL applies when a request does not ask for a lifetime (default 24h).
	DefaultTTL time.Duration
}

// authService mints and checks the bearer tokens of the admin API. Tokens are
// stateless: there is no revocation list, only expiry.
type authService struct {
	signer     driven.AuthAdapter
	defaultTTL time.Duration
	now        func() time.Time
}

func NewAuthService(cfg AuthServiceConfig) driving.AuthService {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &authService{signer: cfg.Adapter, defaultTTL: ttl, now: time.Now}
}

func (s *authService) IssueToken(ctx context.Context, req driving.IssueTokenRequest) (*driving.TokenResponse, error) {
	if req.Subject == "" {
		return nil, fmt.Errorf("%w: subject is required", domain.ErrInvalidInput)
	}
	if !req.Role.IsValid() {
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrInvalidInput, req.Role)
	}

	lifetime := s.defaultTTL
	if req.TTLHours > 0 {
		lifetime = time.Duration(req.TTLHours) * time.Hour
	}

	issued := s.now()
	claims := &domain.TokenClaims{
		Subject:       req.Subject,
		Role:          req.Role,
		ApplicationID: req.ApplicationID,
		IssuedAt:      issued.Unix(),
		ExpiresAt:     issued.Add(lifetime).Unix(),
	}

	signed, err := s.signer.GenerateToken(claims)
	if err != nil {
		return nil, fmt.Errorf("sign token for %s: %w", req.Subject, err)
	}
	return &driving.TokenResponse{Token: signed, ExpiresAt: claims.ExpiresAt}, nil
}

// ValidateToken re-checks expiry and role even when the signer already did,
// so a signer that skips claim validation cannot widen access.
func (s *authService) ValidateToken(ctx context.Context, token string) (*domain.AuthContext, error) {
	claims, err := s.signer.ParseToken(token)
	if err != nil {
		return nil, err
	}

	switch {
	case claims.ExpiresAt < s.now().Unix():
		return nil, domain.ErrTokenExpired
	case !claims.Role.IsValid():
		return nil, fmt.Errorf("%w: unknown role %q", domain.ErrTokenInvalid, claims.Role)
	}

	return &domain.AuthContext{
		Subject:       claims.Subject,
		Role:          claims.Role,
		ApplicationID: claims.ApplicationID,
	}, nil
}
