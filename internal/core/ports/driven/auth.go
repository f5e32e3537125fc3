package driven

import "github.com/custodia-labs/sercha-poller/internal/core/domain"

// AuthAdapter signs and verifies admin API bearer tokens.
type AuthAdapter interface {
	GenerateToken(claims *domain.TokenClaims) (string, error)

	// ParseToken returns domain.ErrTokenExpired or domain.ErrTokenInvalid. The
	// auth service checks expiry and role again on the returned claims.
	ParseToken(token string) (*domain.TokenClaims, error)
}
