package salesforce

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

// Ensure Gateway implements the interfaces.
var (
	_ driven.SourceGateway = (*Gateway)(nil)
	_ driven.RecordWriter  = (*Gateway)(nil)
	_ driven.RecordQuerier = (*Gateway)(nil)
)

// soqlTime is the datetime literal format accepted by SOQL and the replication endpoints.
const soqlTime = "2006-01-02T15:04:05Z"

var entityNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Gateway is a SourceGateway backed by the Salesforce REST API.
// A gateway holds one login session and is not shared across subscriptions.
type Gateway struct {
	config     *Config
	httpClient *http.Client

	mu      sync.RWMutex
	session *session
	fields  map[string][]string
}

// NewGateway creates an unauthorized gateway.
func NewGateway(config *Config, httpClient *http.Client) *Gateway {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.withDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &Gateway{
		config:     config,
		httpClient: httpClient,
		fields:     make(map[string][]string),
	}
}

// Authorize logs in and replaces any previous session.
func (g *Gateway) Authorize(ctx context.Context, creds domain.Credentials) error {
	sess, err := g.login(ctx, creds)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.session = sess
	g.fields = make(map[string][]string)
	g.mu.Unlock()
	return nil
}

func (g *Gateway) current() *session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.session
}

type describeGlobalResponse struct {
	SObjects []struct {
		Name          string `json:"name"`
		Queryable     bool   `json:"queryable"`
		Replicateable bool   `json:"replicateable"`
		Updateable    bool   `json:"updateable"`
	} `json:"sobjects"`
}

// DescribeSchema lists every sObject with its capability flags.
func (g *Gateway) DescribeSchema(ctx context.Context) ([]domain.EntityDescriptor, error) {
	var resp describeGlobalResponse
	if err := g.getJSON(ctx, g.dataPath("/sobjects"), &resp); err != nil {
		return nil, fmt.Errorf("describe global: %w", err)
	}

	entities := make([]domain.EntityDescriptor, 0, len(resp.SObjects))
	for _, o := range resp.SObjects {
		entities = append(entities, domain.EntityDescriptor{
			Name:       o.Name,
			Queryable:  o.Queryable,
			Replicable: o.Replicateable,
			Updatable:  o.Updateable,
		})
	}
	return entities, nil
}

// UpdatedSince returns ids of records modified in [from, to].
func (g *Gateway) UpdatedSince(ctx context.Context, entityType string, from, to time.Time) ([]domain.RecordID, error) {
	if err := validateEntityName(entityType); err != nil {
		return nil, err
	}

	var resp struct {
		IDs []string `json:"ids"`
	}
	path := g.dataPath("/sobjects/%s/updated/?%s", entityType, windowQuery(from, to))
	if err := g.getJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("updated %s: %w", entityType, err)
	}

	ids := make([]domain.RecordID, 0, len(resp.IDs))
	for _, id := range resp.IDs {
		ids = append(ids, domain.RecordID(id))
	}
	return ids, nil
}

// DeletedSince returns ids of records deleted in [from, to].
func (g *Gateway) DeletedSince(ctx context.Context, entityType string, from, to time.Time) ([]domain.RecordID, error) {
	if err := validateEntityName(entityType); err != nil {
		return nil, err
	}

	var resp struct {
		DeletedRecords []struct {
			ID string `json:"id"`
		} `json:"deletedRecords"`
	}
	path := g.dataPath("/sobjects/%s/deleted/?%s", entityType, windowQuery(from, to))
	if err := g.getJSON(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("deleted %s: %w", entityType, err)
	}

	ids := make([]domain.RecordID, 0, len(resp.DeletedRecords))
	for _, r := range resp.DeletedRecords {
		ids = append(ids, domain.RecordID(r.ID))
	}
	return ids, nil
}

// QueryCreatedSince returns full records whose CreatedDate is >= since.
func (g *Gateway) QueryCreatedSince(ctx context.Context, entityType string, since time.Time) ([]domain.Record, error) {
	fields, err := g.fieldsOf(ctx, entityType)
	if err != nil {
		return nil, err
	}
	soql := fmt.Sprintf("SELECT %s FROM %s WHERE CreatedDate >= %s",
		strings.Join(fields, ", "), entityType, since.UTC().Format(soqlTime))
	return g.query(ctx, soql)
}

// ListAll returns every record of the entity type.
func (g *Gateway) ListAll(ctx context.Context, entityType string) ([]domain.Record, error) {
	fields, err := g.fieldsOf(ctx, entityType)
	if err != nil {
		return nil, err
	}
	return g.query(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(fields, ", "), entityType))
}

type queryResponse struct {
	Done           bool            `json:"done"`
	NextRecordsURL string          `json:"nextRecordsUrl"`
	Records        []domain.Record `json:"records"`
}

// Query runs a caller-supplied SOQL statement.
func (g *Gateway) Query(ctx context.Context, soql string) ([]domain.Record, error) {
	soql = strings.TrimSpace(soql)
	if soql == "" {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}
	return g.query(ctx, soql)
}

// query runs a SOQL query and follows nextRecordsUrl until the result set is exhausted.
func (g *Gateway) query(ctx context.Context, soql string) ([]domain.Record, error) {
	path := g.dataPath("/query?q=%s", url.QueryEscape(soql))

	var records []domain.Record
	for {
		var page queryResponse
		if err := g.getJSON(ctx, path, &page); err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		records = append(records, page.Records...)

		if page.Done || page.NextRecordsURL == "" {
			return records, nil
		}
		path = page.NextRecordsURL
	}
}

// fieldsOf returns the field names of an entity type, cached per session.
func (g *Gateway) fieldsOf(ctx context.Context, entityType string) ([]string, error) {
	if err := validateEntityName(entityType); err != nil {
		return nil, err
	}

	g.mu.RLock()
	fields, ok := g.fields[entityType]
	g.mu.RUnlock()
	if ok {
		return fields, nil
	}

	var resp struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}
	if err := g.getJSON(ctx, g.dataPath("/sobjects/%s/describe", entityType), &resp); err != nil {
		return nil, fmt.Errorf("describe %s: %w", entityType, err)
	}
	if len(resp.Fields) == 0 {
		return nil, fmt.Errorf("describe %s: no fields", entityType)
	}

	fields = make([]string, 0, len(resp.Fields))
	for _, f := range resp.Fields {
		fields = append(fields, f.Name)
	}

	g.mu.Lock()
	g.fields[entityType] = fields
	g.mu.Unlock()
	return fields, nil
}

func windowQuery(from, to time.Time) string {
	v := url.Values{}
	v.Set("start", from.UTC().Format(soqlTime))
	v.Set("end", to.UTC().Format(soqlTime))
	return v.Encode()
}

func validateEntityName(name string) error {
	if !entityNamePattern.MatchString(name) {
		return fmt.Errorf("%w: entity type %q", domain.ErrInvalidInput, name)
	}
	return nil
}
