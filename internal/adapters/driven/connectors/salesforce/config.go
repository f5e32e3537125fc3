package salesforce

import "time"

const (
	// DefaultLoginURL is the production login endpoint.
	// Sandboxes use https://test.salesforce.com via the subscription's login URL.
	DefaultLoginURL = "https://login.salesforce.com"

	// DefaultAPIVersion is the REST API version used for every data call.
	DefaultAPIVersion = "v59.0"

	// maxBatchSize is the sObject Collections limit per request.
	maxBatchSize = 200
)

// Config contains configuration for the Salesforce gateway.
type Config struct {
	// ClientID and ClientSecret identify the connected app used for the
	// username-password OAuth flow.
	ClientID     string
	ClientSecret string

	// APIVersion is the REST API version, e.g. "v59.0".
	APIVersion string

	// MaxRetries is the maximum number of retry attempts for throttled or failed requests.
	MaxRetries int

	// RetryBackoff is the base wait between retries. Attempt n waits n*RetryBackoff.
	RetryBackoff time.Duration

	// Timeout bounds every HTTP request, including login.
	Timeout time.Duration
}

// DefaultConfig returns the default Salesforce gateway configuration.
func DefaultConfig() *Config {
	return &Config{
		APIVersion:   DefaultAPIVersion,
		MaxRetries:   3,
		RetryBackoff: time.Second,
		Timeout:      30 * time.Second,
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	d := DefaultConfig()
	if out.APIVersion == "" {
		out.APIVersion = d.APIVersion
	}
	if out.MaxRetries < 0 {
		out.MaxRetries = 0
	}
	if out.RetryBackoff <= 0 {
		out.RetryBackoff = d.RetryBackoff
	}
	if out.Timeout <= 0 {
		out.Timeout = d.Timeout
	}
	return &out
}
