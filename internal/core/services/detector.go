package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

// ChangeDetector computes the created/updated/deleted delta of one entity type
// since its last watermark.
type ChangeDetector struct {
	logger *slog.Logger
}

// NewChangeDetector creates a change detector.
func NewChangeDetector(logger *slog.Logger) *ChangeDetector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeDetector{logger: logger}
}

// Detect returns the delta for entityType.
//
// Without a prior watermark every listable record is returned as updated (bootstrap),
// seeding the id set without firing create events for pre-existing data. Otherwise the
// updated, deleted and created queries run concurrently over [prior.LastPolled, pollTime];
// if any of them fails the whole detection fails.
func (d *ChangeDetector) Detect(
	ctx context.Context,
	gw driven.SourceGateway,
	entityType string,
	prior *domain.Watermark,
	pollTime time.Time,
) (*domain.Delta, error) {
	if !prior.Bootstrapped() {
		return d.bootstrap(ctx, gw, entityType)
	}
	return d.incremental(ctx, gw, entityType, *prior.LastPolled, pollTime)
}

func (d *ChangeDetector) bootstrap(ctx context.Context, gw driven.SourceGateway, entityType string) (*domain.Delta, error) {
	d.logger.Debug("no watermark, taking full snapshot", "entity_type", entityType)

	records, err := gw.ListAll(ctx, entityType)
	if err != nil {
		return nil, fmt.Errorf("%w: list all %s: %v", domain.ErrDetection, entityType, err)
	}

	return &domain.Delta{
		Mode:    domain.DetectionModeBootstrap,
		Created: []domain.Record{},
		Updated: records,
		Deleted: []domain.Record{},
	}, nil
}

func (d *ChangeDetector) incremental(
	ctx context.Context,
	gw driven.SourceGateway,
	entityType string,
	from, to time.Time,
) (*domain.Delta, error) {
	d.logger.Debug("polled before, querying changes",
		"entity_type", entityType,
		"from", from,
		"to", to,
	)

	delta := &domain.Delta{Mode: domain.DetectionModeIncremental}

	// Each goroutine writes a distinct field; Wait provides the happens-before edge.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(recovered(func() error {
		ids, err := gw.UpdatedSince(gctx, entityType, from, to)
		if err != nil {
			return fmt.Errorf("updated since: %w", err)
		}
		delta.Updated = domain.RefsToRecords(ids)
		return nil
	}))
	g.Go(recovered(func() error {
		ids, err := gw.DeletedSince(gctx, entityType, from, to)
		if err != nil {
			return fmt.Errorf("deleted since: %w", err)
		}
		delta.Deleted = domain.RefsToRecords(ids)
		return nil
	}))
	g.Go(recovered(func() error {
		records, err := gw.QueryCreatedSince(gctx, entityType, from)
		if err != nil {
			return fmt.Errorf("created since: %w", err)
		}
		delta.Created = records
		return nil
	}))

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrDetection, entityType, err)
	}

	if delta.Created == nil {
		delta.Created = []domain.Record{}
	}
	return delta, nil
}

// recovered converts a panic in fn into an error so it fails the detection
// instead of the process.
func recovered(fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn()
	}
}
