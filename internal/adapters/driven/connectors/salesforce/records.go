package salesforce

import (
	"context"
	"fmt"
	"net/http"

	"github.com/custodia-labs/sercha-poller/internal/core/domain"
	"github.com/custodia-labs/sercha-poller/internal/core/ports/driven"
)

type collectionRequest struct {
	AllOrNone bool             `json:"allOrNone"`
	Records   []map[string]any `json:"records"`
}

type collectionResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Errors  []struct {
		StatusCode string `json:"statusCode"`
		Message    string `json:"message"`
	} `json:"errors"`
}

// Upsert creates records without an Id and updates records carrying one.
// Results are returned in input order. Each record succeeds or fails on its own.
func (g *Gateway) Upsert(ctx context.Context, entityType string, records []domain.Record) ([]driven.UpsertResult, error) {
	if err := validateEntityName(entityType); err != nil {
		return nil, err
	}

	var creates, updates []int
	for i, r := range records {
		if r.ID() == "" {
			creates = append(creates, i)
		} else {
			updates = append(updates, i)
		}
	}

	results := make([]driven.UpsertResult, len(records))
	if err := g.writeCollection(ctx, http.MethodPost, entityType, records, creates, results); err != nil {
		return nil, fmt.Errorf("create %s: %w", entityType, err)
	}
	if err := g.writeCollection(ctx, http.MethodPatch, entityType, records, updates, results); err != nil {
		return nil, fmt.Errorf("update %s: %w", entityType, err)
	}
	return results, nil
}

// writeCollection sends the records at the given indexes through the sObject Collections
// endpoint in batches and stores each outcome at its original index.
func (g *Gateway) writeCollection(
	ctx context.Context,
	method, entityType string,
	records []domain.Record,
	indexes []int,
	results []driven.UpsertResult,
) error {
	created := method == http.MethodPost

	for start := 0; start < len(indexes); start += maxBatchSize {
		end := min(start+maxBatchSize, len(indexes))
		batch := indexes[start:end]

		req := collectionRequest{Records: make([]map[string]any, 0, len(batch))}
		for _, i := range batch {
			req.Records = append(req.Records, withType(records[i], entityType))
		}

		var resp []collectionResult
		if err := g.sendJSON(ctx, method, g.dataPath("/composite/sobjects"), req, &resp); err != nil {
			return err
		}
		if len(resp) != len(batch) {
			return fmt.Errorf("expected %d results, got %d", len(batch), len(resp))
		}

		for j, i := range batch {
			res := driven.UpsertResult{
				ID:      domain.RecordID(resp[j].ID),
				Created: created,
				Success: resp[j].Success,
			}
			if res.ID == "" {
				res.ID = records[i].ID()
			}
			for _, e := range resp[j].Errors {
				res.Errors = append(res.Errors, e.StatusCode+": "+e.Message)
			}
			results[i] = res
		}
	}
	return nil
}

// withType copies the record and sets the attributes.type the collections API requires.
func withType(r domain.Record, entityType string) map[string]any {
	out := make(map[string]any, len(r)+1)
	for k, v := range r {
		out[k] = v
	}
	out["attributes"] = map[string]string{"type": entityType}
	return out
}
