package salesforce

import (
	"context"
	"net/http"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

// Builder creates Salesforce gateways.
type Builder struct {
	config     *Config
	httpClient *http.Client
}

// NewBuilder creates a new Salesforce gateway builder.
func NewBuilder() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// NewBuilderWithConfig creates a builder with custom configuration.
// httpClient may be nil.
func NewBuilderWithConfig(config *Config, httpClient *http.Client) *Builder {
	return &Builder{
		config:     config,
		httpClient: httpClient,
	}
}

// Type returns the provider type.
func (b *Builder) Type() domain.ProviderType {
	return domain.ProviderTypeSalesforce
}

// Build creates an unauthorized gateway. Every call returns a fresh session holder.
func (b *Builder) Build(_ context.Context, _ *domain.Subscription) (driven.SourceGateway, error) {
	return NewGateway(b.config, b.httpClient), nil
}
