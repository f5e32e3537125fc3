package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven/mocks"
)

type pollerFixture struct {
	poller        *SubscriptionPoller
	subscriptions *mocks.MockSubscriptionStore
	watermarks    *mocks.MockWatermarkStore
	gateway       *mocks.MockGateway
	factory       *mocks.MockGatewayFactory
	sink          *mocks.MockEventSink
	alerter       *mocks.MockAlerter
	clock         *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newPollerFixture(t *testing.T) *pollerFixture {
	t.Helper()

	f := &pollerFixture{
		subscriptions: mocks.NewMockSubscriptionStore(),
		watermarks:    mocks.NewMockWatermarkStore(),
		gateway:       mocks.NewMockGateway(),
		sink:          mocks.NewMockEventSink(),
		alerter:       mocks.NewMockAlerter(),
		clock:         &testClock{now: testT1},
	}
	f.factory = mocks.NewMockGatewayFactory(f.gateway)

	if err := f.subscriptions.Save(context.Background(), testSubscription()); err != nil {
		t.Fatalf("failed to seed subscription: %v", err)
	}

	f.poller = NewSubscriptionPoller(SubscriptionPollerConfig{
		Subscriptions: f.subscriptions,
		Watermarks:    f.watermarks,
		Gateways:      f.factory,
		Sink:          f.sink,
		Alerter:       f.alerter,
		Now:           f.clock.Now,
	})
	return f
}

func (f *pollerFixture) poll() *domain.PollResult {
	return f.poller.PollSubscription(context.Background(), "sub-1", nil)
}

func TestNewSubscriptionPoller_Defaults(t *testing.T) {
	p := NewSubscriptionPoller(SubscriptionPollerConfig{})

	if p.pollInterval != DefaultPollInterval {
		t.Errorf("expected default poll interval %v, got %v", DefaultPollInterval, p.pollInterval)
	}
	if p.maxConcurrentEntities != DefaultMaxConcurrentEntities {
		t.Errorf("expected default entity concurrency %d, got %d", DefaultMaxConcurrentEntities, p.maxConcurrentEntities)
	}
	if p.logger == nil || p.detector == nil || p.processor == nil || p.now == nil {
		t.Error("expected defaults for logger, detector, processor and clock")
	}
}

func TestSubscriptionPoller_BootstrapIdempotence(t *testing.T) {
	f := newPollerFixture(t)
	f.gateway.AddEntity("Account", &mocks.EntityFixture{
		All: []domain.Record{{"Id": "1"}, {"Id": "2"}, {"Id": "3"}},
	})

	result := f.poll()

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if got := len(f.sink.Named("k:modified:account")); got != 3 {
		t.Errorf("expected 3 modified events, got %d", got)
	}
	if got := len(f.sink.Named("k:new:account")) + len(f.sink.Named("k:deleted:account")); got != 0 {
		t.Errorf("expected no new or deleted events, got %d", got)
	}

	wm := f.watermarks.Peek("sub-1", "account")
	if wm == nil {
		t.Fatal("expected watermark to be persisted")
	}
	if got := wm.IDs.Slice(); len(got) != 3 || got[0] != "1" || got[1] != "2" || got[2] != "3" {
		t.Errorf("expected ids [1 2 3], got %v", got)
	}
	if wm.LastPolled == nil || !wm.LastPolled.Equal(testT1) {
		t.Errorf("expected last polled %v, got %v", testT1, wm.LastPolled)
	}
	if result.Entities[0].Mode != domain.DetectionModeBootstrap {
		t.Errorf("expected bootstrap mode, got %s", result.Entities[0].Mode)
	}
}

func TestSubscriptionPoller_Scenario(t *testing.T) {
	f := newPollerFixture(t)
	f.gateway.AddEntity("Account", &mocks.EntityFixture{
		Updated: []domain.RecordID{"1", "2"},
		Deleted: []domain.RecordID{"4"},
		Created: []domain.Record{{"Id": "3"}},
	})
	f.watermarks.Seed("sub-1", "account", watermarkAt(testT0, "1", "2", "4"))

	result := f.poll()
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}

	if got := f.sink.Named("k:modified:account"); len(got) != 2 {
		t.Errorf("expected 2 modified events, got %v", got)
	}
	if got := f.sink.Named("k:new:account"); len(got) != 1 || got[0].ID() != "3" {
		t.Errorf("expected new event for 3, got %v", got)
	}
	if got := f.sink.Named("k:deleted:account"); len(got) != 1 || got[0].ID() != "4" {
		t.Errorf("expected deleted event for 4, got %v", got)
	}

	wm := f.watermarks.Peek("sub-1", "account")
	if got := wm.IDs.Slice(); len(got) != 3 || got[0] != "1" || got[1] != "2" || got[2] != "3" {
		t.Errorf("expected ids [1 2 3], got %v", got)
	}
	if !wm.LastPolled.Equal(testT1) {
		t.Errorf("expected last polled %v, got %v", testT1, wm.LastPolled)
	}
	if result.Stats.RecordsCreated != 1 || result.Stats.RecordsUpdated != 2 || result.Stats.RecordsDeleted != 1 {
		t.Errorf("unexpected stats %+v", result.Stats)
	}
}

func TestSubscriptionPoller_Isolation(t *testing.T) {
	f := newPollerFixture(t)
	f.gateway.AddEntity("Account", &mocks.EntityFixture{UpdatedErr: errors.New("query timeout")})
	f.gateway.AddEntity("Contact", &mocks.EntityFixture{Created: []domain.Record{{"Id": "c1"}}})

	prior := watermarkAt(testT0, "a1")
	f.watermarks.Seed("sub-1", "account", prior)
	f.watermarks.Seed("sub-1", "contact", watermarkAt(testT0))

	result := f.poll()

	if result.Success {
		t.Error("expected partial failure")
	}
	if result.Stats.EntitiesFailed != 1 || result.Stats.EntitiesPolled != 1 {
		t.Errorf("unexpected stats %+v", result.Stats)
	}

	account := f.watermarks.Peek("sub-1", "account")
	if !account.LastPolled.Equal(testT0) || !account.IDs.Contains("a1") || len(account.IDs) != 1 {
		t.Errorf("failed entity watermark must be unchanged, got %+v", account)
	}
	for _, key := range f.watermarks.SetCalls() {
		if key == "account" {
			t.Error("failed entity watermark must not be persisted")
		}
	}

	contact := f.watermarks.Peek("sub-1", "contact")
	if !contact.LastPolled.Equal(testT1) || !contact.IDs.Contains("c1") {
		t.Errorf("healthy entity watermark not advanced, got %+v", contact)
	}
	if got := f.sink.Named("k:new:contact"); len(got) != 1 {
		t.Errorf("expected contact event, got %v", got)
	}

	alerts := f.alerter.Alerts()
	if len(alerts) != 1 || !errors.Is(alerts[0].Err, domain.ErrDetection) {
		t.Errorf("expected one detection alert, got %+v", alerts)
	}
	if alerts[0].ApplicationID != "app-1" || alerts[0].Fields["entity_type"] != "account" {
		t.Errorf("unexpected alert context %+v", alerts[0])
	}
}

func TestSubscriptionPoller_AuthorizationFailure(t *testing.T) {
	f := newPollerFixture(t)
	f.gateway.AuthorizeErr = errors.New("INVALID_LOGIN")
	f.gateway.AddEntity("Account", nil)

	result := f.poll()

	if result.Authorized || result.Success {
		t.Errorf("expected unauthorized failure, got %+v", result)
	}
	if calls := f.gateway.Calls(""); len(calls) != 0 {
		t.Errorf("expected no queries after failed login, got %+v", calls)
	}

	delays := f.subscriptions.Delays()
	if len(delays) != 1 || !delays[0].Equal(testT1.Add(DefaultPollInterval)) {
		t.Errorf("expected next poll at %v, got %v", testT1.Add(DefaultPollInterval), delays)
	}
	if result.NextPollAt == nil {
		t.Error("expected next poll time in result")
	}

	alerts := f.alerter.Alerts()
	if len(alerts) != 1 || !errors.Is(alerts[0].Err, domain.ErrAuthorization) {
		t.Errorf("expected authorization alert, got %+v", alerts)
	}

	sub, _ := f.subscriptions.Get(context.Background(), "sub-1")
	if sub.LastPollError == "" {
		t.Error("expected poll error to be recorded")
	}
}

func TestSubscriptionPoller_DiscoveryFailure(t *testing.T) {
	f := newPollerFixture(t)
	f.gateway.DescribeErr = errors.New("describe failed")

	result := f.poll()

	if !result.Authorized || result.Success {
		t.Errorf("expected authorized failure, got %+v", result)
	}
	if len(f.subscriptions.Delays()) != 1 {
		t.Error("expected next poll to be scheduled")
	}
	alerts := f.alerter.Alerts()
	if len(alerts) != 1 || !errors.Is(alerts[0].Err, domain.ErrDiscovery) {
		t.Errorf("expected discovery alert, got %+v", alerts)
	}
}

func TestSubscriptionPoller_SubscriptionMissingStillSchedules(t *testing.T) {
	f := newPollerFixture(t)

	result := f.poller.PollSubscription(context.Background(), "missing", nil)

	if result.Success || !strings.Contains(result.Error, domain.ErrNotFound.Error()) {
		t.Errorf("expected not found failure, got %+v", result)
	}
	if len(f.subscriptions.Delays()) != 1 {
		t.Error("expected DelayTill to run")
	}
}

func TestSubscriptionPoller_DisabledSubscription(t *testing.T) {
	f := newPollerFixture(t)
	sub := testSubscription()
	sub.Enabled = false
	_ = f.subscriptions.Save(context.Background(), sub)

	result := f.poll()

	if result.Error != domain.ErrSubscriptionDisabled.Error() {
		t.Errorf("expected disabled error, got %q", result.Error)
	}
	if len(f.gateway.AuthorizedWith()) != 0 {
		t.Error("disabled subscription must not log in")
	}
}

func TestSubscriptionPoller_CredentialOverride(t *testing.T) {
	f := newPollerFixture(t)
	sub := testSubscription()
	sub.Authorization = &domain.Credentials{Password: "rotated"}
	_ = f.subscriptions.Save(context.Background(), sub)

	f.poller.PollSubscription(context.Background(), "sub-1", &domain.Credentials{Username: "ops@acme.test"})

	logins := f.gateway.AuthorizedWith()
	if len(logins) != 1 {
		t.Fatalf("expected one login, got %d", len(logins))
	}
	if logins[0].Username != "ops@acme.test" || logins[0].Password != "rotated" {
		t.Errorf("overrides not applied, got %+v", logins[0])
	}

	stored, _ := f.subscriptions.Get(context.Background(), "sub-1")
	if stored.Settings.Username != "ops@acme.test" || stored.Settings.Password != "rotated" {
		t.Errorf("overrides not persisted, got %+v", stored.Settings)
	}
	if stored.Authorization != nil {
		t.Error("expected pending authorization to be cleared")
	}
}

func TestSubscriptionPoller_FiltersNonPollable(t *testing.T) {
	f := newPollerFixture(t)
	f.gateway.AddEntity("Account", nil)
	f.gateway.Schema = append(f.gateway.Schema,
		domain.EntityDescriptor{Name: "AccountHistory", Queryable: true, Replicable: true},
		domain.EntityDescriptor{Name: "Vote", Queryable: false, Replicable: true, Updatable: true},
	)

	result := f.poll()

	if len(result.Entities) != 1 || result.Entities[0].EntityType != "account" {
		t.Errorf("expected only account to be polled, got %+v", result.Entities)
	}
	if len(f.gateway.Calls("AccountHistory")) != 0 || len(f.gateway.Calls("Vote")) != 0 {
		t.Error("non-pollable entity types must not be queried")
	}
}

func TestSubscriptionPoller_WatermarkMonotonic(t *testing.T) {
	f := newPollerFixture(t)
	f.gateway.AddEntity("Account", &mocks.EntityFixture{All: []domain.Record{{"Id": "1"}}})

	var last time.Time
	for i, now := range []time.Time{testT0, testT1, testT1.Add(time.Hour)} {
		f.clock.Set(now)
		f.poll()

		wm := f.watermarks.Peek("sub-1", "account")
		if wm.LastPolled.Before(last) {
			t.Errorf("cycle %d: last polled moved backwards from %v to %v", i, last, *wm.LastPolled)
		}
		last = *wm.LastPolled
	}

	if !last.Equal(testT1.Add(time.Hour)) {
		t.Errorf("expected final watermark %v, got %v", testT1.Add(time.Hour), last)
	}
}

func TestSubscriptionPoller_WatermarkLoadFailureSkipsEntity(t *testing.T) {
	f := newPollerFixture(t)
	f.gateway.AddEntity("Account", &mocks.EntityFixture{All: []domain.Record{{"Id": "1"}}})
	f.watermarks.GetErr = errors.New("redis down")

	result := f.poll()

	if result.Stats.EntitiesFailed != 1 {
		t.Errorf("expected the entity to fail, got %+v", result.Stats)
	}
	if len(f.sink.Events()) != 0 {
		t.Error("must not bootstrap when the watermark could not be read")
	}
}

func TestSubscriptionPoller_BoundedFanOut(t *testing.T) {
	f := newPollerFixture(t)

	var (
		mu       sync.Mutex
		inFlight int
		peak     int
	)
	f.sink.EmitFn = func(event *domain.Event) error {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(5 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	for _, name := range []string{"A", "B", "C", "D", "E", "F"} {
		f.gateway.AddEntity(name, &mocks.EntityFixture{All: []domain.Record{{"Id": name}}})
	}

	f.poller = NewSubscriptionPoller(SubscriptionPollerConfig{
		Subscriptions:         f.subscriptions,
		Watermarks:            f.watermarks,
		Gateways:              f.factory,
		Sink:                  f.sink,
		MaxConcurrentEntities: 2,
		Now:                   f.clock.Now,
	})

	result := f.poll()

	if result.Stats.EntitiesPolled != 6 {
		t.Errorf("expected 6 entity types polled, got %d", result.Stats.EntitiesPolled)
	}
	if peak > 2 {
		t.Errorf("expected at most 2 entity types in flight, got %d", peak)
	}
}

type staticGatewayFactory struct {
	gw driven.SourceGateway
}

func (f *staticGatewayFactory) Create(ctx context.Context, sub *domain.Subscription) (driven.SourceGateway, error) {
	return f.gw, nil
}

func (f *staticGatewayFactory) SupportedTypes() []domain.ProviderType {
	return []domain.ProviderType{domain.ProviderTypeSalesforce}
}

type panickingGateway struct {
	*mocks.MockGateway
}

func (g *panickingGateway) DescribeSchema(ctx context.Context) ([]domain.EntityDescriptor, error) {
	panic("describe exploded")
}

func TestSubscriptionPoller_RecoversPanics(t *testing.T) {
	f := newPollerFixture(t)
	gw := &panickingGateway{MockGateway: f.gateway}

	p := NewSubscriptionPoller(SubscriptionPollerConfig{
		Subscriptions: f.subscriptions,
		Watermarks:    f.watermarks,
		Gateways:      &staticGatewayFactory{gw: gw},
		Sink:          f.sink,
		Alerter:       f.alerter,
		Now:           f.clock.Now,
	})

	var result *domain.PollResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("panic escaped the poller: %v", r)
			}
		}()
		result = p.PollSubscription(context.Background(), "sub-1", nil)
	}()

	if result.Success || result.Error == "" {
		t.Errorf("expected failure, got %+v", result)
	}
	if len(f.subscriptions.Delays()) != 1 {
		t.Error("expected next poll to be scheduled after a panic")
	}
}

func TestSubscriptionPoller_CancelledContextStillSchedules(t *testing.T) {
	f := newPollerFixture(t)
	f.gateway.AddEntity("Account", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.poller.PollSubscription(ctx, "sub-1", nil)

	if len(f.subscriptions.Delays()) != 1 {
		t.Error("expected next poll to be scheduled")
	}
}

func TestSubscriptionPoller_WatermarkPersistFailure(t *testing.T) {
	f := newPollerFixture(t)
	f.gateway.AddEntity("Account", &mocks.EntityFixture{All: []domain.Record{{"Id": "a1"}, {"Id": "a2"}}})
	f.gateway.AddEntity("Contact", &mocks.EntityFixture{All: []domain.Record{{"Id": "c1"}}})
	f.watermarks.SetErrFor = map[string]error{"account": errors.New("write conflict")}

	result := f.poll()

	if result.Success {
		t.Error("expected partial failure")
	}
	if result.Stats.EntitiesFailed != 1 || result.Stats.EntitiesPolled != 1 {
		t.Errorf("unexpected stats %+v", result.Stats)
	}

	outcomes := map[string]*domain.EntityPollResult{}
	for _, e := range result.Entities {
		outcomes[e.EntityType] = e
	}
	account, contact := outcomes["account"], outcomes["contact"]
	if account == nil || contact == nil {
		t.Fatalf("expected outcomes for both entity types, got %+v", result.Entities)
	}
	if account.Persisted || !strings.Contains(account.Error, "persist watermark") {
		t.Errorf("expected account to fail persisting, got %+v", account)
	}
	if !contact.Persisted || contact.Error != "" {
		t.Errorf("expected contact to persist, got %+v", contact)
	}

	if f.watermarks.Peek("sub-1", "account") != nil {
		t.Error("account watermark must not exist after a failed Set")
	}
	if wm := f.watermarks.Peek("sub-1", "contact"); wm == nil || !wm.IDs.Contains("c1") {
		t.Errorf("contact watermark not persisted, got %+v", wm)
	}

	// Events went out before the failed write.
	if got := len(f.sink.Named("k:modified:account")); got != 2 {
		t.Errorf("expected 2 account events, got %d", got)
	}
	if alerts := f.alerter.Alerts(); len(alerts) != 1 || alerts[0].Fields["entity_type"] != "account" {
		t.Errorf("expected one account alert, got %+v", alerts)
	}

	// The next cycle starts from the same place and delivers the records again.
	f.watermarks.SetErrFor = nil
	f.clock.Set(testT1.Add(time.Hour))
	if result := f.poll(); !result.Success {
		t.Fatalf("expected recovery, got error %q", result.Error)
	}
	if got := len(f.sink.Named("k:modified:account")); got != 4 {
		t.Errorf("expected account records re-emitted, got %d events", got)
	}
	if f.watermarks.Peek("sub-1", "account") == nil {
		t.Error("account watermark not persisted after recovery")
	}
}

func TestSubscriptionPoller_WatermarkStoreDown(t *testing.T) {
	f := newPollerFixture(t)
	f.gateway.AddEntity("Account", &mocks.EntityFixture{All: []domain.Record{{"Id": "a1"}}})
	f.watermarks.SetErr = errors.New("connection refused")

	result := f.poll()

	if result.Success || result.Stats.EntitiesFailed != 1 {
		t.Errorf("expected the entity to fail, got %+v", result.Stats)
	}
	if len(f.subscriptions.Delays()) != 1 {
		t.Error("expected the next cycle to be scheduled")
	}
}
