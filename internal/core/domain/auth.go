package domain

// Role defines what an API caller may do
type Role string

const (
	// RoleAdmin can manage subscriptions and trigger polls
	RoleAdmin Role = "admin"
	// RoleOperator can trigger polls and read state
	RoleOperator Role = "operator"
	// RoleViewer can only read state
	RoleViewer Role = "viewer"
)

// IsValid reports whether r is a known role
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return true
	}
	return false
}

// AuthContext contains the authenticated caller for request context
type AuthContext struct {
	Subject       string `json:"subject"`
	Role          Role   `json:"role"`
	ApplicationID string `json:"application_id,omitempty"`
}

// IsAdmin checks if the caller is an admin
func (a *AuthContext) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanTriggerPoll checks if the caller may enqueue polls
func (a *AuthContext) CanTriggerPoll() bool {
	return a.Role == RoleAdmin || a.Role == RoleOperator
}

// CanAccessApplication checks if the caller may see resources of an application.
// Tokens without an application scope see every application.
func (a *AuthContext) CanAccessApplication(applicationID string) bool {
	return a.ApplicationID == "" || a.ApplicationID == applicationID
}

// TokenClaims represents the JWT token payload
type TokenClaims struct {
	Subject       string `json:"sub"`
	Role          Role   `json:"role"`
	ApplicationID string `json:"application_id,omitempty"`
	IssuedAt      int64  `json:"iat"`
	ExpiresAt     int64  `json:"exp"`
}
