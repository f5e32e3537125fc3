package connectors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/sercha-poller/internal/adapters/driven/connectors/salesforce"
	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

type failingBuilder struct{}

func (failingBuilder) Type() domain.ProviderType { return "broken" }

func (failingBuilder) Build(context.Context, *domain.Subscription) (driven.SourceGateway, error) {
	return nil, errors.New("boom")
}

func TestFactory_Create(t *testing.T) {
	f := NewFactory(salesforce.NewBuilder())

	gw, err := f.Create(context.Background(), &domain.Subscription{ProviderType: domain.ProviderTypeSalesforce})
	require.NoError(t, err)
	assert.IsType(t, &salesforce.Gateway{}, gw)

	// Each call yields an independent gateway.
	gw2, err := f.Create(context.Background(), &domain.Subscription{ProviderType: domain.ProviderTypeSalesforce})
	require.NoError(t, err)
	assert.NotSame(t, gw, gw2)
}

func TestFactory_CreateUnsupported(t *testing.T) {
	f := NewFactory()

	_, err := f.Create(context.Background(), &domain.Subscription{ProviderType: "netsuite"})
	assert.ErrorIs(t, err, domain.ErrUnsupportedProvider)
}

func TestFactory_CreateBuildError(t *testing.T) {
	f := NewFactory(failingBuilder{})

	_, err := f.Create(context.Background(), &domain.Subscription{ProviderType: "broken"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build gateway")
}

func TestFactory_SupportedTypes(t *testing.T) {
	f := NewFactory(salesforce.NewBuilder(), failingBuilder{})

	assert.Equal(t, []domain.ProviderType{"broken", domain.ProviderTypeSalesforce}, f.SupportedTypes())
}
