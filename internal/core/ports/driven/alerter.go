package driven

import "context"

// Alerter raises operator-visible alerts for failures that were swallowed.
type Alerter interface {
	// Alert reports err for an application with optional context fields.
	Alert(ctx context.Context, err error, applicationID string, fields map[string]any)
}
