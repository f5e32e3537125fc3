package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

// DeltaProcessor turns a delta into change events and folds it into the watermark.
type DeltaProcessor struct {
	sink        driven.EventSink
	logger      *slog.Logger
	concurrency int
}

// NewDeltaProcessor creates a delta processor. concurrency bounds how many records of
// one bucket are emitted at once; values below 1 mean sequential emission.
func NewDeltaProcessor(sink driven.EventSink, logger *slog.Logger, concurrency int) *DeltaProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &DeltaProcessor{
		sink:        sink,
		logger:      logger,
		concurrency: concurrency,
	}
}

type bucket struct {
	kind    domain.ChangeKind
	records []domain.Record
	count   *int
}

// Apply emits one event per record of the delta and returns the updated watermark.
//
// Created records emit "new" and join the id set, updated records emit "modified" and
// join the id set, deleted records emit "deleted" and leave it. A record whose emission
// fails or panics is logged and counted; it never aborts the remaining records. The
// watermark's LastPolled advances to pollTime regardless of per-record failures.
func (p *DeltaProcessor) Apply(
	ctx context.Context,
	sub *domain.Subscription,
	entityType string,
	delta *domain.Delta,
	wm *domain.Watermark,
	pollTime time.Time,
) (*domain.Watermark, domain.ProcessResult) {
	var result domain.ProcessResult

	if wm == nil {
		wm = domain.NewWatermark()
	}
	if wm.IDs == nil {
		wm.IDs = domain.NewIDSet()
	}

	if delta != nil {
		// mu guards the id set and the counters.
		var mu sync.Mutex

		buckets := []bucket{
			{kind: domain.ChangeKindNew, records: delta.Created, count: &result.Created},
			{kind: domain.ChangeKindModified, records: delta.Updated, count: &result.Updated},
			{kind: domain.ChangeKindDeleted, records: delta.Deleted, count: &result.Deleted},
		}

		for _, b := range buckets {
			g := new(errgroup.Group)
			g.SetLimit(p.concurrency)

			for _, record := range b.records {
				g.Go(func() error {
					err := p.processRecord(ctx, sub, b.kind, entityType, record, wm, &mu)

					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						result.Failures++
						metrics.recordFailuresTotal.WithLabelValues(string(b.kind)).Inc()
						p.logger.Error("failed to process record",
							"subscription_id", sub.ID,
							"entity_type", entityType,
							"kind", b.kind,
							"record_id", record.ID(),
							"error", err,
						)
						return nil
					}
					*b.count++
					metrics.eventsEmittedTotal.WithLabelValues(string(b.kind)).Inc()
					return nil
				})
			}
			_ = g.Wait()
		}
	}

	wm.Advance(pollTime)
	return wm, result
}

// processRecord emits the event for one record and, once the sink accepted it,
// updates the id set. Panics are converted to errors.
func (p *DeltaProcessor) processRecord(
	ctx context.Context,
	sub *domain.Subscription,
	kind domain.ChangeKind,
	entityType string,
	record domain.Record,
	wm *domain.Watermark,
	mu *sync.Mutex,
) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	event := domain.NewEvent(sub, kind, entityType, record)
	if err := p.sink.Emit(ctx, event); err != nil {
		return fmt.Errorf("emit %s: %w", event.Name, err)
	}

	id := record.ID()
	if id == "" {
		return nil
	}

	mu.Lock()
	defer mu.Unlock()
	if kind == domain.ChangeKindDeleted {
		wm.IDs.Remove(id)
	} else {
		wm.IDs.Add(id)
	}
	return nil
}
