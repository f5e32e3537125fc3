package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/cucumber/godog"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven/mocks"
)

type reconciliationFeature struct {
	subscriptions *mocks.MockSubscriptionStore
	watermarks    *mocks.MockWatermarkStore
	gateway       *mocks.MockGateway
	sink          *mocks.MockEventSink
	result        *domain.PollResult
}

func (f *reconciliationFeature) reset(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
	f.subscriptions = mocks.NewMockSubscriptionStore()
	f.watermarks = mocks.NewMockWatermarkStore()
	f.gateway = mocks.NewMockGateway()
	f.sink = mocks.NewMockEventSink()
	f.result = nil
	return ctx, nil
}

func (f *reconciliationFeature) fixture(entity string) *mocks.EntityFixture {
	if fx, ok := f.gateway.Entities[entity]; ok {
		return fx
	}
	fx := &mocks.EntityFixture{}
	f.gateway.AddEntity(entity, fx)
	return fx
}

func parseIDs(list string) []domain.RecordID {
	var ids []domain.RecordID
	for _, id := range strings.Split(list, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, domain.RecordID(id))
		}
	}
	return ids
}

func (f *reconciliationFeature) aSubscriptionWithConnectorKey(key string) error {
	sub := testSubscription()
	sub.ConnectorKey = key
	return f.subscriptions.Save(context.Background(), sub)
}

func (f *reconciliationFeature) entityLastPolledWithIDs(entity, at, ids string) error {
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return err
	}
	f.fixture(entity)
	f.watermarks.Seed("sub-1", domain.EntityKey(entity), watermarkAt(t, parseIDs(ids)...))
	return nil
}

func (f *reconciliationFeature) sourceReportsUpdated(ids, entity string) error {
	f.fixture(entity).Updated = parseIDs(ids)
	return nil
}

func (f *reconciliationFeature) sourceReportsDeleted(ids, entity string) error {
	f.fixture(entity).Deleted = parseIDs(ids)
	return nil
}

func (f *reconciliationFeature) sourceReportsCreated(ids, entity string) error {
	fx := f.fixture(entity)
	fx.Created = domain.RefsToRecords(parseIDs(ids))
	return nil
}

func (f *reconciliationFeature) sourceLists(ids, entity string) error {
	f.fixture(entity).All = domain.RefsToRecords(parseIDs(ids))
	return nil
}

func (f *reconciliationFeature) updatedQueryFails(entity string) error {
	f.fixture(entity).UpdatedErr = errors.New("query timeout")
	return nil
}

func (f *reconciliationFeature) sourceRejectsLogin() error {
	f.gateway.AuthorizeErr = errors.New("INVALID_LOGIN")
	return nil
}

func (f *reconciliationFeature) subscriptionPolledAt(at string) error {
	now, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return err
	}
	p := NewSubscriptionPoller(SubscriptionPollerConfig{
		Subscriptions: f.subscriptions,
		Watermarks:    f.watermarks,
		Gateways:      mocks.NewMockGatewayFactory(f.gateway),
		Sink:          f.sink,
		Now:           func() time.Time { return now },
	})
	f.result = p.PollSubscription(context.Background(), "sub-1", nil)
	return nil
}

func (f *reconciliationFeature) eventsEmittedForIDs(name, ids string) error {
	var got []string
	for _, payload := range f.sink.Named(name) {
		got = append(got, string(payload.ID()))
	}
	sort.Strings(got)

	var want []string
	for _, id := range parseIDs(ids) {
		want = append(want, string(id))
	}
	sort.Strings(want)

	if strings.Join(got, ",") != strings.Join(want, ",") {
		return fmt.Errorf("expected %s for %v, got %v", name, want, got)
	}
	return nil
}

func (f *reconciliationFeature) noNamedEvents(name string) error {
	if got := f.sink.Named(name); len(got) != 0 {
		return fmt.Errorf("expected no %s events, got %v", name, got)
	}
	return nil
}

func (f *reconciliationFeature) noEvents() error {
	if got := f.sink.Events(); len(got) != 0 {
		return fmt.Errorf("expected no events, got %d", len(got))
	}
	return nil
}

func (f *reconciliationFeature) watermarkHas(entity, ids, at string) error {
	want, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return err
	}
	wm := f.watermarks.Peek("sub-1", domain.EntityKey(entity))
	if wm == nil {
		return fmt.Errorf("no watermark stored for %s", entity)
	}
	if wm.LastPolled == nil || !wm.LastPolled.Equal(want) {
		return fmt.Errorf("expected %s last polled at %v, got %v", entity, want, wm.LastPolled)
	}
	if got, exp := fmt.Sprint(wm.IDs.Slice()), fmt.Sprint(domain.NewIDSet(parseIDs(ids)...).Slice()); got != exp {
		return fmt.Errorf("expected %s ids %s, got %s", entity, exp, got)
	}
	return nil
}

func (f *reconciliationFeature) nextPollAt(at string) error {
	want, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return err
	}
	if f.result == nil || f.result.NextPollAt == nil || !f.result.NextPollAt.Equal(want) {
		return fmt.Errorf("expected next poll at %v, got %+v", want, f.result)
	}
	return nil
}

func initializeReconciliationScenario(sc *godog.ScenarioContext) {
	f := &reconciliationFeature{}
	sc.Before(f.reset)

	sc.Step(`^a subscription with connector key "([^"]*)"$`, f.aSubscriptionWithConnectorKey)
	sc.Step(`^entity type "([^"]*)" was last polled at "([^"]*)" with ids "([^"]*)"$`, f.entityLastPolledWithIDs)
	sc.Step(`^the source reports updated ids "([^"]*)" for "([^"]*)"$`, f.sourceReportsUpdated)
	sc.Step(`^the source reports deleted ids "([^"]*)" for "([^"]*)"$`, f.sourceReportsDeleted)
	sc.Step(`^the source reports created ids "([^"]*)" for "([^"]*)"$`, f.sourceReportsCreated)
	sc.Step(`^the source lists ids "([^"]*)" for "([^"]*)"$`, f.sourceLists)
	sc.Step(`^the updated query for "([^"]*)" fails$`, f.updatedQueryFails)
	sc.Step(`^the source rejects the login$`, f.sourceRejectsLogin)
	sc.Step(`^the subscription is polled at "([^"]*)"$`, f.subscriptionPolledAt)
	sc.Step(`^events "([^"]*)" are emitted for ids "([^"]*)"$`, f.eventsEmittedForIDs)
	sc.Step(`^no "([^"]*)" events are emitted$`, f.noNamedEvents)
	sc.Step(`^no events are emitted$`, f.noEvents)
	sc.Step(`^the watermark of "([^"]*)" has ids "([^"]*)" and was last polled at "([^"]*)"$`, f.watermarkHas)
	sc.Step(`^the next poll is scheduled at "([^"]*)"$`, f.nextPollAt)
}

func TestReconciliationFeatures(t *testing.T) {
	suite := godog.TestSuite{
		Name:                "reconciliation",
		ScenarioInitializer: initializeReconciliationScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
