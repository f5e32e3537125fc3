package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driving"
)

// Ensure subscriptionService implements SubscriptionService
var _ driving.SubscriptionService = (*subscriptionService)(nil)

// subscriptionService implements the SubscriptionService interface
type subscriptionService struct {
	subscriptions driven.SubscriptionStore
	watermarks    driven.WatermarkStore
	gateways      driven.GatewayFactory
	queue         driven.TaskQueue
}

// NewSubscriptionService creates a new SubscriptionService
func NewSubscriptionService(
	subscriptions driven.SubscriptionStore,
	watermarks driven.WatermarkStore,
	gateways driven.GatewayFactory,
	queue driven.TaskQueue,
) driving.SubscriptionService {
	return &subscriptionService{
		subscriptions: subscriptions,
		watermarks:    watermarks,
		gateways:      gateways,
		queue:         queue,
	}
}

// Create creates a new subscription. It is polled as soon as the scheduler sees it.
func (s *subscriptionService) Create(ctx context.Context, req driving.CreateSubscriptionRequest) (*domain.Subscription, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" || req.ApplicationID == "" || req.ConnectorKey == "" {
		return nil, domain.ErrInvalidInput
	}
	if !s.supports(req.ProviderType) {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedProvider, req.ProviderType)
	}

	now := time.Now().UTC()
	sub := &domain.Subscription{
		ID:            domain.GenerateID(),
		Name:          name,
		ApplicationID: req.ApplicationID,
		ConnectorKey:  strings.TrimSpace(req.ConnectorKey),
		ProviderType:  req.ProviderType,
		Enabled:       true,
		Settings:      req.Credentials.ToDomain(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.subscriptions.Save(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Get retrieves a subscription by ID
func (s *subscriptionService) Get(ctx context.Context, id string) (*domain.Subscription, error) {
	return s.subscriptions.Get(ctx, id)
}

// List retrieves all subscriptions, optionally scoped to one application
func (s *subscriptionService) List(ctx context.Context, applicationID string) ([]*domain.Subscription, error) {
	subs, err := s.subscriptions.List(ctx)
	if err != nil {
		return nil, err
	}
	if applicationID == "" {
		return subs, nil
	}

	filtered := make([]*domain.Subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.ApplicationID == applicationID {
			filtered = append(filtered, sub)
		}
	}
	return filtered, nil
}

// Update updates a subscription
func (s *subscriptionService) Update(ctx context.Context, id string, req driving.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	sub, err := s.subscriptions.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, domain.ErrInvalidInput
		}
		sub.Name = name
	}
	if req.Enabled != nil {
		sub.Enabled = *req.Enabled
	}
	sub.UpdatedAt = time.Now().UTC()

	if err := s.subscriptions.Save(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Delete deletes a subscription and its watermarks
func (s *subscriptionService) Delete(ctx context.Context, id string) error {
	if _, err := s.subscriptions.Get(ctx, id); err != nil {
		return err
	}
	if err := s.watermarks.DeleteAll(ctx, id); err != nil {
		return fmt.Errorf("failed to delete watermarks: %w", err)
	}
	return s.subscriptions.Delete(ctx, id)
}

// SetAuthorization stores a credential override applied on the next poll
func (s *subscriptionService) SetAuthorization(ctx context.Context, id string, req driving.CredentialsRequest) error {
	sub, err := s.subscriptions.Get(ctx, id)
	if err != nil {
		return err
	}

	creds := req.ToDomain()
	if creds.IsZero() {
		return domain.ErrInvalidInput
	}
	sub.Authorization = &creds
	sub.UpdatedAt = time.Now().UTC()
	return s.subscriptions.Save(ctx, sub)
}

// ListWatermarks retrieves the per-entity watermarks of a subscription
func (s *subscriptionService) ListWatermarks(ctx context.Context, id string) ([]*domain.EntityWatermark, error) {
	if _, err := s.subscriptions.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.watermarks.List(ctx, id)
}

// ResetWatermarks deletes all watermarks, forcing a bootstrap poll
func (s *subscriptionService) ResetWatermarks(ctx context.Context, id string) error {
	if _, err := s.subscriptions.Get(ctx, id); err != nil {
		return err
	}
	return s.watermarks.DeleteAll(ctx, id)
}

// TriggerPoll enqueues an immediate poll
func (s *subscriptionService) TriggerPoll(ctx context.Context, id string, req driving.TriggerPollRequest) (*domain.Task, error) {
	sub, err := s.subscriptions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sub.Enabled {
		return nil, domain.ErrSubscriptionDisabled
	}

	if req.Credentials != nil {
		creds := req.Credentials.ToDomain()
		sub.Authorization = &creds
		sub.UpdatedAt = time.Now().UTC()
		if err := s.subscriptions.Save(ctx, sub); err != nil {
			return nil, fmt.Errorf("failed to store credential override: %w", err)
		}
	}

	task := domain.NewPollSubscriptionTask(sub.ApplicationID, sub.ID)
	task.Priority = 10
	if err := s.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to enqueue poll: %w", err)
	}
	return task, nil
}

// UpsertRecords creates or updates records of an entity type at the source.
// Records carrying an Id are updated, the rest are created.
func (s *subscriptionService) UpsertRecords(
	ctx context.Context,
	id, entityType string,
	req driving.UpsertRecordsRequest,
) ([]driven.UpsertResult, error) {
	if entityType == "" || len(req.Records) == 0 {
		return nil, domain.ErrInvalidInput
	}

	gw, err := s.openGateway(ctx, id)
	if err != nil {
		return nil, err
	}
	writer, ok := gw.(driven.RecordWriter)
	if !ok {
		return nil, fmt.Errorf("%w: gateway does not accept writes", domain.ErrUnsupportedProvider)
	}
	return writer.Upsert(ctx, entityType, req.Records)
}

// QueryRecords passes a query through to the source and returns all result pages.
func (s *subscriptionService) QueryRecords(ctx context.Context, id, query string) ([]domain.Record, error) {
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrInvalidInput
	}

	gw, err := s.openGateway(ctx, id)
	if err != nil {
		return nil, err
	}
	querier, ok := gw.(driven.RecordQuerier)
	if !ok {
		return nil, fmt.Errorf("%w: gateway does not accept queries", domain.ErrUnsupportedProvider)
	}
	return querier.Query(ctx, query)
}

// openGateway returns a gateway logged in with the subscription's settings
// and any stored override.
func (s *subscriptionService) openGateway(ctx context.Context, id string) (driven.SourceGateway, error) {
	sub, err := s.subscriptions.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	gw, err := s.gateways.Create(ctx, sub)
	if err != nil {
		return nil, err
	}
	settings, _ := sub.Settings.Merge(sub.Authorization)
	if err := gw.Authorize(ctx, settings); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthorization, err)
	}
	return gw, nil
}

func (s *subscriptionService) supports(t domain.ProviderType) bool {
	for _, supported := range s.gateways.SupportedTypes() {
		if supported == t {
			return true
		}
	}
	return false
}
