package connectors

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

// Ensure Factory implements the interface.
var _ driven.GatewayFactory = (*Factory)(nil)

// Builder creates gateways for one provider type.
type Builder interface {
	// Type returns the provider type this builder serves.
	Type() domain.ProviderType

	// Build returns a new, unauthorized gateway for the subscription.
	Build(ctx context.Context, sub *domain.Subscription) (driven.SourceGateway, error)
}

// Factory creates gateways from a registry of Builders keyed by provider type.
type Factory struct {
	mu       sync.RWMutex
	builders map[domain.ProviderType]Builder
}

// NewFactory creates a gateway factory with the given builders registered.
func NewFactory(builders ...Builder) *Factory {
	f := &Factory{
		builders: make(map[domain.ProviderType]Builder),
	}
	for _, b := range builders {
		f.Register(b)
	}
	return f
}

// Register registers a builder, replacing any previous one for the same provider type.
func (f *Factory) Register(builder Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[builder.Type()] = builder
}

// Create creates a gateway for the subscription's provider.
func (f *Factory) Create(ctx context.Context, sub *domain.Subscription) (driven.SourceGateway, error) {
	f.mu.RLock()
	builder, ok := f.builders[sub.ProviderType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, sub.ProviderType)
	}

	gw, err := builder.Build(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("build gateway: %w", err)
	}
	return gw, nil
}

// SupportedTypes returns all registered provider types in sorted order.
func (f *Factory) SupportedTypes() []domain.ProviderType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]domain.ProviderType, 0, len(f.builders))
	for t := range f.builders {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
