package redis

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
)

func TestStreamSink_Emit(t *testing.T) {
	client, _ := setupTestRedis(t)
	sink := NewStreamSink(client, "", 0)
	ctx := context.Background()

	sub := &domain.Subscription{ID: "sub-1", ApplicationID: "app-1", ConnectorKey: "k"}
	event := domain.NewEvent(sub, domain.ChangeKindNew, "Account", domain.Record{"Id": "1", "Name": "Acme"})

	require.NoError(t, sink.Emit(ctx, event))

	entries, err := client.XRange(ctx, "sercha-poller:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := entries[0].Values
	assert.Equal(t, "k:new:account", values["name"])
	assert.Equal(t, "sub-1", values["subscription_id"])

	var decoded domain.Event
	require.NoError(t, json.Unmarshal([]byte(values["event"].(string)), &decoded))
	assert.Equal(t, event.ID, decoded.ID)
	assert.Equal(t, "1", string(decoded.Payload.ID()))
	assert.Equal(t, "Acme", decoded.Payload["Name"])

	assert.NoError(t, sink.Close())
}

func TestStreamSink_PreservesOrder(t *testing.T) {
	client, _ := setupTestRedis(t)
	sink := NewStreamSink(client, "ns", 10)
	ctx := context.Background()

	sub := &domain.Subscription{ID: "sub-1", ConnectorKey: "k"}
	kinds := []domain.ChangeKind{domain.ChangeKindModified, domain.ChangeKindDeleted, domain.ChangeKindNew}
	for _, kind := range kinds {
		require.NoError(t, sink.Emit(ctx, domain.NewEvent(sub, kind, "Account", domain.Record{"Id": "1"})))
	}

	entries, err := client.XRange(ctx, "ns:events", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "k:modified:account", entries[0].Values["name"])
	assert.Equal(t, "k:deleted:account", entries[1].Values["name"])
	assert.Equal(t, "k:new:account", entries[2].Values["name"])
}

func TestStreamSink_EmitFailsWhenDown(t *testing.T) {
	client := setupDownRedis(t)
	sink := NewStreamSink(client, "", 0)

	err := sink.Emit(context.Background(), domain.NewEvent(&domain.Subscription{ID: "s", ConnectorKey: "k"}, domain.ChangeKindNew, "Account", domain.Record{"Id": "1"}))
	assert.Error(t, err)
}

// setupDownRedis returns a client whose server has already gone away.
func setupDownRedis(t *testing.T) *redis.Client {
	client, mr := setupTestRedis(t)
	mr.Close()
	return client
}
