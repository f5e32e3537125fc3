// Package alert raises operator alerts for failures the poller swallows.
package alert

import (
	"context"
	"log/slog"

	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

var _ driven.Alerter = (*LogAlerter)(nil)

// LogAlerter reports alerts as error-level log records tagged alert=true, so log
// based alerting can route them.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter creates a LogAlerter. A nil logger uses slog.Default().
func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogAlerter{logger: logger}
}

func (a *LogAlerter) Alert(ctx context.Context, err error, applicationID string, fields map[string]any) {
	attrs := make([]any, 0, 6+2*len(fields))
	attrs = append(attrs, "alert", true, "application_id", applicationID, "error", err)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	a.logger.ErrorContext(ctx, "poller alert", attrs...)
}
