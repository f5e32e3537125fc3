// Package events contains event sinks that do not depend on a broker.
package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

var (
	_ driven.EventSink = (*LogSink)(nil)
	_ driven.EventSink = (*MultiSink)(nil)
)

// LogSink writes every event as a structured log line. Useful for local runs
// and as a secondary sink for auditing.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(ctx context.Context, event *domain.Event) error {
	s.logger.InfoContext(ctx, "change event",
		"event", event.Name,
		"event_id", event.ID,
		"subscription_id", event.SubscriptionID,
		"record_id", event.Payload.ID(),
	)
	return nil
}

func (s *LogSink) Close() error { return nil }

// MultiSink emits each event to every sink in order. An event counts as emitted
// only if all sinks accepted it.
type MultiSink struct {
	sinks []driven.EventSink
}

// NewMultiSink fans out to sinks. Nil entries are skipped.
func NewMultiSink(sinks ...driven.EventSink) *MultiSink {
	m := &MultiSink{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiSink) Emit(ctx context.Context, event *domain.Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink and joins their errors.
func (m *MultiSink) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
