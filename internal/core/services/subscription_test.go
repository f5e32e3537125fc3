package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driving"
)

type subscriptionFixture struct {
	svc           driving.SubscriptionService
	subscriptions *mocks.MockSubscriptionStore
	watermarks    *mocks.MockWatermarkStore
	gateway       *mocks.MockGateway
	queue         *mocks.MockTaskQueue
}

func newSubscriptionFixture(t *testing.T) *subscriptionFixture {
	t.Helper()
	f := &subscriptionFixture{
		subscriptions: mocks.NewMockSubscriptionStore(),
		watermarks:    mocks.NewMockWatermarkStore(),
		gateway:       mocks.NewMockGateway(),
		queue:         mocks.NewMockTaskQueue(),
	}
	f.svc = NewSubscriptionService(f.subscriptions, f.watermarks, mocks.NewMockGatewayFactory(f.gateway), f.queue)
	require.NoError(t, f.subscriptions.Save(context.Background(), testSubscription()))
	return f
}

func validCreateRequest() driving.CreateSubscriptionRequest {
	return driving.CreateSubscriptionRequest{
		Name:          "  Globex CRM ",
		ApplicationID: "app-2",
		ConnectorKey:  "globex",
		ProviderType:  domain.ProviderTypeSalesforce,
		Credentials: driving.CredentialsRequest{
			Username: "api@globex.test",
			Password: "pw",
		},
	}
}

func TestSubscriptionService_Create(t *testing.T) {
	f := newSubscriptionFixture(t)

	sub, err := f.svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, "Globex CRM", sub.Name)
	assert.True(t, sub.Enabled)
	assert.Nil(t, sub.NextPollAt)
	assert.Equal(t, "api@globex.test", sub.Settings.Username)

	stored, err := f.subscriptions.Get(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.ConnectorKey, stored.ConnectorKey)
}

func TestSubscriptionService_CreateValidation(t *testing.T) {
	f := newSubscriptionFixture(t)

	req := validCreateRequest()
	req.Name = "   "
	_, err := f.svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	req = validCreateRequest()
	req.ProviderType = "hubspot"
	_, err = f.svc.Create(context.Background(), req)
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)
}

func TestSubscriptionService_ListByApplication(t *testing.T) {
	f := newSubscriptionFixture(t)
	_, err := f.svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	all, err := f.svc.List(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	scoped, err := f.svc.List(context.Background(), "app-1")
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "sub-1", scoped[0].ID)
}

func TestSubscriptionService_Update(t *testing.T) {
	f := newSubscriptionFixture(t)
	disabled := false
	name := "Renamed"

	sub, err := f.svc.Update(context.Background(), "sub-1", driving.UpdateSubscriptionRequest{Name: &name, Enabled: &disabled})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", sub.Name)
	assert.False(t, sub.Enabled)

	_, err = f.svc.Update(context.Background(), "missing", driving.UpdateSubscriptionRequest{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubscriptionService_DeleteRemovesWatermarks(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.watermarks.Seed("sub-1", "account", watermarkAt(testT0, "1"))

	require.NoError(t, f.svc.Delete(context.Background(), "sub-1"))

	assert.Nil(t, f.watermarks.Peek("sub-1", "account"))
	_, err := f.subscriptions.Get(context.Background(), "sub-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSubscriptionService_ListWatermarks(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.watermarks.Seed("sub-1", "account", watermarkAt(testT0, "1"))
	f.watermarks.Seed("sub-1", "contact", watermarkAt(testT0))

	wms, err := f.svc.ListWatermarks(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Len(t, wms, 2)

	require.NoError(t, f.svc.ResetWatermarks(context.Background(), "sub-1"))
	wms, err = f.svc.ListWatermarks(context.Background(), "sub-1")
	require.NoError(t, err)
	assert.Empty(t, wms)
}

func TestSubscriptionService_TriggerPoll(t *testing.T) {
	f := newSubscriptionFixture(t)

	task, err := f.svc.TriggerPoll(context.Background(), "sub-1", driving.TriggerPollRequest{
		Credentials: &driving.CredentialsRequest{Username: "new@acme.test", Password: "new"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.TaskTypePollSubscription, task.Type)
	assert.Equal(t, "sub-1", task.SubscriptionID())
	assert.Len(t, f.queue.Pending(), 1)

	stored, err := f.subscriptions.Get(context.Background(), "sub-1")
	require.NoError(t, err)
	require.NotNil(t, stored.Authorization)
	assert.Equal(t, "new@acme.test", stored.Authorization.Username)
}

func TestSubscriptionService_TriggerPollDisabled(t *testing.T) {
	f := newSubscriptionFixture(t)
	sub := testSubscription()
	sub.Enabled = false
	require.NoError(t, f.subscriptions.Save(context.Background(), sub))

	_, err := f.svc.TriggerPoll(context.Background(), "sub-1", driving.TriggerPollRequest{})
	assert.ErrorIs(t, err, domain.ErrSubscriptionDisabled)
	assert.Empty(t, f.queue.Pending())
}

func TestSubscriptionService_SetAuthorization(t *testing.T) {
	f := newSubscriptionFixture(t)

	err := f.svc.SetAuthorization(context.Background(), "sub-1", driving.CredentialsRequest{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	err = f.svc.SetAuthorization(context.Background(), "sub-1", driving.CredentialsRequest{Password: "rotated"})
	require.NoError(t, err)

	stored, _ := f.subscriptions.Get(context.Background(), "sub-1")
	require.NotNil(t, stored.Authorization)
	assert.Equal(t, "rotated", stored.Authorization.Password)
}

func TestSubscriptionService_UpsertRecords(t *testing.T) {
	f := newSubscriptionFixture(t)

	results, err := f.svc.UpsertRecords(context.Background(), "sub-1", "Account", driving.UpsertRecordsRequest{
		Records: []domain.Record{{"Name": "New Co"}, {"Id": "001", "Name": "Existing"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].Created)
	assert.False(t, results[1].Created)
	assert.Equal(t, domain.RecordID("001"), results[1].ID)

	assert.Len(t, f.gateway.Upserted("Account"), 2)
	require.Len(t, f.gateway.AuthorizedWith(), 1)
	assert.Equal(t, "user@acme.test", f.gateway.AuthorizedWith()[0].Username)
}

func TestSubscriptionService_UpsertRecordsLoginFails(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.gateway.AuthorizeErr = errors.New("INVALID_LOGIN")

	_, err := f.svc.UpsertRecords(context.Background(), "sub-1", "Account", driving.UpsertRecordsRequest{
		Records: []domain.Record{{"Name": "New Co"}},
	})
	assert.ErrorIs(t, err, domain.ErrAuthorization)
	assert.Empty(t, f.gateway.Upserted("Account"))
}

func TestSubscriptionService_QueryRecords(t *testing.T) {
	f := newSubscriptionFixture(t)
	f.gateway.QueryResult = []domain.Record{{"Id": "003A", "LastName": "Lovelace"}}

	records, err := f.svc.QueryRecords(context.Background(), "sub-1", "SELECT Id, LastName FROM Contact")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.RecordID("003A"), records[0].ID())
	assert.Equal(t, []string{"SELECT Id, LastName FROM Contact"}, f.gateway.Queries())
	assert.Len(t, f.gateway.AuthorizedWith(), 1)
}

func TestSubscriptionService_QueryRecordsErrors(t *testing.T) {
	f := newSubscriptionFixture(t)

	_, err := f.svc.QueryRecords(context.Background(), "sub-1", "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = f.svc.QueryRecords(context.Background(), "missing", "SELECT Id FROM Account")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.gateway.AuthorizeErr = errors.New("INVALID_LOGIN")
	_, err = f.svc.QueryRecords(context.Background(), "sub-1", "SELECT Id FROM Account")
	assert.ErrorIs(t, err, domain.ErrAuthorization)
	assert.Empty(t, f.gateway.Queries())
}
