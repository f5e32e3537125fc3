package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

const (
	// DefaultPollInterval is the fixed delay before a subscription is polled again.
	DefaultPollInterval = 5 * time.Minute

	// DefaultMaxConcurrentEntities bounds how many entity types are polled at once.
	DefaultMaxConcurrentEntities = 8
)

// SubscriptionPoller runs reconciliation cycles for subscriptions.
// A cycle is:
//  1. Load the subscription
//  2. Authorize the gateway (credential overrides are persisted first)
//  3. Discover pollable entity types
//  4. Poll every entity type through a bounded pool (load watermark → detect → apply → persist)
//  5. Schedule the next cycle at now + PollInterval, whatever happened before
type SubscriptionPoller struct {
	subscriptions driven.SubscriptionStore
	watermarks    driven.WatermarkStore
	gateways      driven.GatewayFactory
	alerter       driven.Alerter
	detector      *ChangeDetector
	processor     *DeltaProcessor
	logger        *slog.Logger

	pollInterval          time.Duration
	maxConcurrentEntities int
	now                   func() time.Time
}

// SubscriptionPollerConfig holds dependencies for SubscriptionPoller.
type SubscriptionPollerConfig struct {
	Subscriptions driven.SubscriptionStore
	Watermarks    driven.WatermarkStore
	Gateways      driven.GatewayFactory
	Sink          driven.EventSink
	Alerter       driven.Alerter
	Logger        *slog.Logger

	// Detector and Processor default to instances built from Sink and Logger.
	Detector  *ChangeDetector
	Processor *DeltaProcessor

	PollInterval          time.Duration
	MaxConcurrentEntities int
	EmitConcurrency       int

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewSubscriptionPoller creates a new subscription poller.
func NewSubscriptionPoller(cfg SubscriptionPollerConfig) *SubscriptionPoller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	detector := cfg.Detector
	if detector == nil {
		detector = NewChangeDetector(logger)
	}

	processor := cfg.Processor
	if processor == nil {
		processor = NewDeltaProcessor(cfg.Sink, logger, cfg.EmitConcurrency)
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	maxConcurrent := cfg.MaxConcurrentEntities
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentEntities
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &SubscriptionPoller{
		subscriptions:         cfg.Subscriptions,
		watermarks:            cfg.Watermarks,
		gateways:              cfg.Gateways,
		alerter:               cfg.Alerter,
		detector:              detector,
		processor:             processor,
		logger:                logger,
		pollInterval:          pollInterval,
		maxConcurrentEntities: maxConcurrent,
		now:                   now,
	}
}

// PollSubscription runs one reconciliation cycle for a subscription.
// It never fails: errors are logged, alerted and reported in the result, and the next
// cycle is always scheduled. override, when set, takes precedence over the stored
// credentials and is persisted into the subscription settings before login.
func (p *SubscriptionPoller) PollSubscription(
	ctx context.Context,
	subscriptionID string,
	override *domain.Credentials,
) (result *domain.PollResult) {
	startTime := p.now()
	result = &domain.PollResult{SubscriptionID: subscriptionID}

	var (
		sub   *domain.Subscription
		cause error
	)

	defer func() {
		if r := recover(); r != nil {
			cause = p.fail(ctx, sub, result, fmt.Errorf("unexpected panic: %v", r))
		}
		p.finish(ctx, sub, result, cause, startTime)
	}()

	p.logger.Info("starting poll", "subscription_id", subscriptionID)

	// Step 1: Load subscription
	sub, err := p.subscriptions.Get(ctx, subscriptionID)
	if err != nil {
		cause = p.fail(ctx, nil, result, fmt.Errorf("failed to get subscription: %w", err))
		return result
	}

	if !sub.Enabled {
		cause = p.fail(ctx, sub, result, domain.ErrSubscriptionDisabled)
		return result
	}

	// Step 2: Authorize
	gw, err := p.authorize(ctx, sub, override)
	if err != nil {
		cause = p.fail(ctx, sub, result, err)
		return result
	}
	result.Authorized = true

	// Step 3: Discover entity types
	schema, err := gw.DescribeSchema(ctx)
	if err != nil {
		cause = p.fail(ctx, sub, result, fmt.Errorf("%w: %v", domain.ErrDiscovery, err))
		return result
	}
	entities := domain.FilterPollable(schema)

	p.logger.Info("discovered entity types",
		"subscription_id", sub.ID,
		"total", len(schema),
		"pollable", len(entities),
	)

	// Step 4: Poll entity types
	result.Entities = p.pollEntities(ctx, sub, gw, entities)
	for _, er := range result.Entities {
		result.Stats.Add(er)
	}
	result.Success = result.Stats.EntitiesFailed == 0

	return result
}

// authorize merges credential overrides into the stored settings, persists them when
// they changed, and logs the gateway in.
func (p *SubscriptionPoller) authorize(
	ctx context.Context,
	sub *domain.Subscription,
	override *domain.Credentials,
) (driven.SourceGateway, error) {
	settings, fromStored := sub.Settings.Merge(sub.Authorization)
	settings, fromRequest := settings.Merge(override)

	if fromStored || fromRequest || sub.Authorization != nil {
		if err := p.subscriptions.UpdateSettings(ctx, sub.ID, settings); err != nil {
			p.logger.Warn("failed to persist credential override",
				"subscription_id", sub.ID,
				"error", err,
			)
		}
		sub.Authorization = nil
	}
	sub.Settings = settings

	gw, err := p.gateways.Create(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create gateway: %v", domain.ErrAuthorization, err)
	}

	if err := gw.Authorize(ctx, settings); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAuthorization, err)
	}
	return gw, nil
}

// pollEntities polls every entity type with at most maxConcurrentEntities in flight.
// The per-entity function swallows its own failures, so Wait never short-circuits.
func (p *SubscriptionPoller) pollEntities(
	ctx context.Context,
	sub *domain.Subscription,
	gw driven.SourceGateway,
	entities []domain.EntityDescriptor,
) []*domain.EntityPollResult {
	results := make([]*domain.EntityPollResult, len(entities))

	g := new(errgroup.Group)
	g.SetLimit(p.maxConcurrentEntities)

	for i, entity := range entities {
		g.Go(func() error {
			results[i] = p.pollEntity(ctx, sub, gw, entity)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// pollEntity loads the watermark of one entity type, detects and applies its delta, and
// persists the new watermark. A failed load or detection leaves the stored watermark
// untouched so the same window is queried again next cycle.
func (p *SubscriptionPoller) pollEntity(
	ctx context.Context,
	sub *domain.Subscription,
	gw driven.SourceGateway,
	entity domain.EntityDescriptor,
) (result *domain.EntityPollResult) {
	key := entity.Key()
	result = &domain.EntityPollResult{EntityType: key}
	logger := p.logger.With("subscription_id", sub.ID, "entity_type", key)
	startTime := p.now()

	defer func() {
		if r := recover(); r != nil {
			p.entityFailed(ctx, sub, result, logger, fmt.Errorf("unexpected panic: %v", r))
		}
		outcome := "success"
		if result.Error != "" {
			outcome = "failure"
		}
		mode := string(result.Mode)
		if mode == "" {
			mode = "unknown"
		}
		metrics.entityPollsTotal.WithLabelValues(mode, outcome).Inc()
		metrics.entityPollDuration.Observe(p.now().Sub(startTime).Seconds())
	}()

	wm, err := p.watermarks.Get(ctx, sub.ID, key)
	if err != nil {
		p.entityFailed(ctx, sub, result, logger, fmt.Errorf("failed to load watermark: %w", err))
		return result
	}

	pollTime := p.now().UTC()

	delta, err := p.detector.Detect(ctx, gw, entity.Name, wm, pollTime)
	if err != nil {
		p.entityFailed(ctx, sub, result, logger, err)
		return result
	}
	result.Mode = delta.Mode

	wm, processed := p.processor.Apply(ctx, sub, entity.Name, delta, wm, pollTime)
	result.Created = processed.Created
	result.Updated = processed.Updated
	result.Deleted = processed.Deleted
	result.Failures = processed.Failures

	if err := p.watermarks.Set(ctx, sub.ID, key, wm); err != nil {
		p.entityFailed(ctx, sub, result, logger, fmt.Errorf("failed to persist watermark: %w", err))
		return result
	}
	result.Persisted = true

	logger.Info("entity type polled",
		"mode", delta.Mode,
		"created", result.Created,
		"updated", result.Updated,
		"deleted", result.Deleted,
		"failures", result.Failures,
		"ids", len(wm.IDs),
	)
	return result
}

func (p *SubscriptionPoller) entityFailed(
	ctx context.Context,
	sub *domain.Subscription,
	result *domain.EntityPollResult,
	logger *slog.Logger,
	err error,
) {
	result.Error = err.Error()
	logger.Error("entity type poll failed", "error", err)
	p.alert(ctx, sub, err, map[string]any{"entity_type": result.EntityType})
}

// fail records a cycle-fatal error and returns it.
func (p *SubscriptionPoller) fail(ctx context.Context, sub *domain.Subscription, result *domain.PollResult, err error) error {
	result.Success = false
	result.Error = err.Error()
	p.logger.Error("poll failed", "subscription_id", result.SubscriptionID, "error", err)
	p.alert(ctx, sub, err, nil)
	return err
}

// finish schedules the next cycle and records the outcome. It runs on a context that
// outlives cancellation of ctx so a cancelled cycle is still rescheduled.
func (p *SubscriptionPoller) finish(
	ctx context.Context,
	sub *domain.Subscription,
	result *domain.PollResult,
	cause error,
	startTime time.Time,
) {
	ctx = context.WithoutCancel(ctx)

	next := p.now().Add(p.pollInterval).UTC()
	if err := p.subscriptions.DelayTill(ctx, result.SubscriptionID, next); err != nil {
		p.logger.Error("failed to schedule next poll",
			"subscription_id", result.SubscriptionID,
			"error", err,
		)
	} else {
		result.NextPollAt = &next
	}

	result.Duration = p.now().Sub(startTime).Seconds()

	if sub != nil {
		if err := p.subscriptions.RecordPoll(ctx, sub.ID, result); err != nil {
			p.logger.Warn("failed to record poll result",
				"subscription_id", sub.ID,
				"error", err,
			)
		}
	}

	metrics.cyclesTotal.WithLabelValues(outcome(result, cause)).Inc()
	metrics.cycleDuration.Observe(result.Duration)

	p.logger.Info("poll finished",
		"subscription_id", result.SubscriptionID,
		"success", result.Success,
		"entities_polled", result.Stats.EntitiesPolled,
		"entities_failed", result.Stats.EntitiesFailed,
		"record_failures", result.Stats.RecordFailures,
		"duration", result.Duration,
	)
}

func (p *SubscriptionPoller) alert(ctx context.Context, sub *domain.Subscription, err error, fields map[string]any) {
	if p.alerter == nil {
		return
	}
	appID := ""
	if sub != nil {
		appID = sub.ApplicationID
	}
	p.alerter.Alert(ctx, err, appID, fields)
}

func outcome(result *domain.PollResult, cause error) string {
	switch {
	case cause == nil && result.Success:
		return "success"
	case errors.Is(cause, domain.ErrAuthorization):
		return "authorization_failed"
	case errors.Is(cause, domain.ErrDiscovery):
		return "discovery_failed"
	case cause != nil:
		return "error"
	default:
		return "partial"
	}
}
