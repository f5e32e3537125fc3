package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

var (
	_ driven.SourceGateway = (*MockGateway)(nil)
	_ driven.RecordWriter  = (*MockGateway)(nil)
	_ driven.RecordQuerier = (*MockGateway)(nil)
)

// EntityFixture configures the responses of MockGateway for one entity type.
type EntityFixture struct {
	All     []domain.Record
	Created []domain.Record
	Updated []domain.RecordID
	Deleted []domain.RecordID

	ListErr    error
	CreatedErr error
	UpdatedErr error
	DeletedErr error
}

// GatewayCall records one query made against MockGateway.
type GatewayCall struct {
	Method     string
	EntityType string
	From       time.Time
	To         time.Time
}

// MockGateway is an in-memory SourceGateway for testing
type MockGateway struct {
	mu sync.Mutex

	Schema       []domain.EntityDescriptor
	Entities     map[string]*EntityFixture
	AuthorizeErr error
	DescribeErr  error
	QueryResult  []domain.Record
	QueryErr     error

	authorizedWith []domain.Credentials
	calls          []GatewayCall
	upserted       map[string][]domain.Record
	queries        []string
}

// NewMockGateway creates a new MockGateway
func NewMockGateway() *MockGateway {
	return &MockGateway{
		Entities: make(map[string]*EntityFixture),
	}
}

// AddEntity registers a pollable entity type with its fixture.
func (m *MockGateway) AddEntity(name string, fixture *EntityFixture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Schema = append(m.Schema, domain.EntityDescriptor{Name: name, Queryable: true, Replicable: true, Updatable: true})
	if fixture == nil {
		fixture = &EntityFixture{}
	}
	m.Entities[name] = fixture
}

func (m *MockGateway) Authorize(ctx context.Context, creds domain.Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authorizedWith = append(m.authorizedWith, creds)
	return m.AuthorizeErr
}

func (m *MockGateway) DescribeSchema(ctx context.Context) ([]domain.EntityDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, GatewayCall{Method: "DescribeSchema"})
	if m.DescribeErr != nil {
		return nil, m.DescribeErr
	}
	return append([]domain.EntityDescriptor(nil), m.Schema...), nil
}

func (m *MockGateway) QueryCreatedSince(ctx context.Context, entityType string, since time.Time) ([]domain.Record, error) {
	f := m.record("QueryCreatedSince", entityType, since, time.Time{})
	if f.CreatedErr != nil {
		return nil, f.CreatedErr
	}
	return f.Created, nil
}

func (m *MockGateway) UpdatedSince(ctx context.Context, entityType string, from, to time.Time) ([]domain.RecordID, error) {
	f := m.record("UpdatedSince", entityType, from, to)
	if f.UpdatedErr != nil {
		return nil, f.UpdatedErr
	}
	return f.Updated, nil
}

func (m *MockGateway) DeletedSince(ctx context.Context, entityType string, from, to time.Time) ([]domain.RecordID, error) {
	f := m.record("DeletedSince", entityType, from, to)
	if f.DeletedErr != nil {
		return nil, f.DeletedErr
	}
	return f.Deleted, nil
}

func (m *MockGateway) ListAll(ctx context.Context, entityType string) ([]domain.Record, error) {
	f := m.record("ListAll", entityType, time.Time{}, time.Time{})
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	return f.All, nil
}

// Upsert records the batch; records without an Id get a generated one.
func (m *MockGateway) Upsert(ctx context.Context, entityType string, records []domain.Record) ([]driven.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upserted == nil {
		m.upserted = make(map[string][]domain.Record)
	}
	results := make([]driven.UpsertResult, 0, len(records))
	for i, rec := range records {
		m.upserted[entityType] = append(m.upserted[entityType], rec)
		id := rec.ID()
		created := id == ""
		if created {
			id = domain.RecordID(fmt.Sprintf("new-%d", i))
		}
		results = append(results, driven.UpsertResult{ID: id, Created: created, Success: true})
	}
	return results, nil
}

// Query records the statement and returns QueryResult.
func (m *MockGateway) Query(ctx context.Context, query string) ([]domain.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, query)
	if m.QueryErr != nil {
		return nil, m.QueryErr
	}
	return m.QueryResult, nil
}

func (m *MockGateway) record(method, entityType string, from, to time.Time) *EntityFixture {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, GatewayCall{Method: method, EntityType: entityType, From: from, To: to})
	f, ok := m.Entities[entityType]
	if !ok {
		return &EntityFixture{}
	}
	return f
}

// Helper methods for testing

// AuthorizedWith returns the credentials passed to every Authorize call.
func (m *MockGateway) AuthorizedWith() []domain.Credentials {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Credentials(nil), m.authorizedWith...)
}

// Upserted returns the records pushed for an entity type.
func (m *MockGateway) Upserted(entityType string) []domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Record(nil), m.upserted[entityType]...)
}

// Queries returns the statements passed to Query.
func (m *MockGateway) Queries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.queries...)
}

// Calls returns the recorded calls, optionally filtered by entity type.
func (m *MockGateway) Calls(entityType string) []GatewayCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []GatewayCall
	for _, c := range m.calls {
		if entityType == "" || c.EntityType == entityType {
			out = append(out, c)
		}
	}
	return out
}

// MockGatewayFactory always returns the same gateway.
type MockGatewayFactory struct {
	Gateway   *MockGateway
	CreateErr error
}

var _ driven.GatewayFactory = (*MockGatewayFactory)(nil)

// NewMockGatewayFactory creates a factory around gw.
func NewMockGatewayFactory(gw *MockGateway) *MockGatewayFactory {
	return &MockGatewayFactory{Gateway: gw}
}

func (f *MockGatewayFactory) Create(ctx context.Context, sub *domain.Subscription) (driven.SourceGateway, error) {
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	return f.Gateway, nil
}

func (f *MockGatewayFactory) SupportedTypes() []domain.ProviderType {
	return []domain.ProviderType{domain.ProviderTypeSalesforce}
}
