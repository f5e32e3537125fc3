package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven/mocks"
)

func testEvent() *domain.Event {
	sub := &domain.Subscription{ID: "sub-1", ConnectorKey: "k"}
	return domain.NewEvent(sub, domain.ChangeKindNew, "Account", domain.Record{"Id": "1"})
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, sink.Emit(context.Background(), testEvent()))
	out := buf.String()
	assert.True(t, strings.Contains(out, "event=k:new:account"), out)
	assert.True(t, strings.Contains(out, "record_id=1"), out)
	assert.NoError(t, sink.Close())
}

func TestMultiSink_FansOut(t *testing.T) {
	a, b := mocks.NewMockEventSink(), mocks.NewMockEventSink()
	sink := NewMultiSink(a, nil, b)

	require.NoError(t, sink.Emit(context.Background(), testEvent()))
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
	assert.NoError(t, sink.Close())
}

func TestMultiSink_ReportsFailure(t *testing.T) {
	a, b := mocks.NewMockEventSink(), mocks.NewMockEventSink()
	a.EmitFn = func(*domain.Event) error { return errors.New("broker down") }
	sink := NewMultiSink(a, b)

	err := sink.Emit(context.Background(), testEvent())
	assert.ErrorContains(t, err, "broker down")
	assert.Len(t, b.Events(), 1, "remaining sinks still receive the event")
}
