package domain

// Credentials holds the login settings used to authorize a gateway against a source.
// Secrets are never serialized to API responses.
type Credentials struct {
	Username      string `json:"-"`
	Password      string `json:"-"`
	SecurityToken string `json:"-"`

	// LoginURL overrides the default login endpoint (e.g. a sandbox instance)
	LoginURL string `json:"login_url,omitempty"`
}

// IsZero reports whether no credential field is set.
func (c *Credentials) IsZero() bool {
	return c == nil || (c.Username == "" && c.Password == "" && c.SecurityToken == "" && c.LoginURL == "")
}

// Merge applies non-empty fields from override on top of c and returns the result.
// The boolean reports whether anything changed.
func (c Credentials) Merge(override *Credentials) (Credentials, bool) {
	if override == nil {
		return c, false
	}
	merged := c
	if override.Username != "" {
		merged.Username = override.Username
	}
	if override.Password != "" {
		merged.Password = override.Password
	}
	if override.SecurityToken != "" {
		merged.SecurityToken = override.SecurityToken
	}
	if override.LoginURL != "" {
		merged.LoginURL = override.LoginURL
	}
	return merged, merged != c
}

// CredentialSummary provides a safe view without sensitive data
type CredentialSummary struct {
	Username    string `json:"username,omitempty"`
	HasPassword bool   `json:"has_password"`
	HasToken    bool   `json:"has_security_token"`
	LoginURL    string `json:"login_url,omitempty"`
}

// ToSummary converts Credentials to CredentialSummary
func (c Credentials) ToSummary() CredentialSummary {
	return CredentialSummary{
		Username:    c.Username,
		HasPassword: c.Password != "",
		HasToken:    c.SecurityToken != "",
		LoginURL:    c.LoginURL,
	}
}
