// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("aleutian.retrieval")

// Config holds Client defaults.
type Config struct {
	// DefaultTopK applies when a search passes topK <= 0. Default: 5.
	DefaultTopK int
	// HybridAlpha weights vector against lexical ranking. Default: 0.5.
	HybridAlpha float32
}

// HybridQuery is the input to HybridSearch.
type HybridQuery struct {
	Text    string
	Vector  []float32
	TopK    int
	Filter  Filter
	OrderBy *OrderBy
}

// Client searches and maintains the chunk index.
type Client struct {
	index Index
	cfg   Config

	mu  sync.Mutex
	dim int
}

// NewClient wraps index with the given defaults.
func NewClient(index Index, cfg Config) *Client {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = DefaultTopK
	}
	if cfg.HybridAlpha <= 0 || cfg.HybridAlpha > 1 {
		cfg.HybridAlpha = DefaultHybridAlpha
	}
	return &Client{index: index, cfg: cfg}
}

// =============================================================================
// Search
// =============================================================================

// VectorSearch returns the topK chunks nearest to vector.
//
// # Outputs
//
//   - []datatypes.RetrievedResult: Best first, optional fields defaulted.
//   - error: *faults.InvalidArgumentError for an empty vector,
//     *faults.RetrievalBackendError for index failures.
func (c *Client) VectorSearch(ctx context.Context, vector []float32, topK int) ([]datatypes.RetrievedResult, error) {
	ctx, span := tracer.Start(ctx, "RetrievalClient.VectorSearch")
	defer span.End()

	if len(vector) == 0 {
		return nil, &faults.InvalidArgumentError{Field: "vector", Reason: "must not be empty"}
	}
	topK = c.topK(topK)
	span.SetAttributes(attribute.Int("retrieval.top_k", topK))

	results, err := c.index.Query(ctx, IndexQuery{Kind: QueryVector, Vector: vector, Limit: topK})
	if err != nil {
		return nil, c.fail(span, "vector_search", err)
	}
	span.SetAttributes(attribute.Int("retrieval.results", len(results)))
	return normalize(results), nil
}

// HybridSearch fuses lexical matching on q.Text with vector similarity on
// q.Vector. The fused ranking is the index's; the client normalizes records
// and attaches the raw score and captions. When q.OrderBy is set, the topK
// page chosen by relevance is re-sorted by that field.
func (c *Client) HybridSearch(ctx context.Context, q HybridQuery) ([]datatypes.RetrievedResult, error) {
	ctx, span := tracer.Start(ctx, "RetrievalClient.HybridSearch")
	defer span.End()

	if err := q.Filter.Validate(); err != nil {
		return nil, err
	}
	if q.OrderBy != nil {
		if err := q.OrderBy.validateRanked(); err != nil {
			return nil, err
		}
		span.SetAttributes(attribute.String("retrieval.order_by", q.OrderBy.String()))
	}
	topK := c.topK(q.TopK)
	span.SetAttributes(
		attribute.Int("retrieval.top_k", topK),
		attribute.Float64("retrieval.alpha", float64(c.cfg.HybridAlpha)),
	)

	results, err := c.index.Query(ctx, IndexQuery{
		Kind:   QueryHybrid,
		Text:   q.Text,
		Vector: q.Vector,
		Alpha:  c.cfg.HybridAlpha,
		Filter: q.Filter,
		Limit:  topK,
	})
	if err != nil {
		return nil, c.fail(span, "hybrid_search", err)
	}
	span.SetAttributes(attribute.Int("retrieval.results", len(results)))
	results = normalize(results)
	if q.OrderBy != nil {
		sortResults(results, *q.OrderBy)
	}
	return results, nil
}

// Search dispatches on mode. Unknown modes fail with
// *faults.InvalidArgumentError before the index is touched.
func (c *Client) Search(ctx context.Context, mode Mode, text string, vector []float32, topK int) ([]datatypes.RetrievedResult, error) {
	switch mode {
	case ModeVector:
		return c.VectorSearch(ctx, vector, topK)
	case ModeHybrid:
		return c.HybridSearch(ctx, HybridQuery{Text: text, Vector: vector, TopK: topK})
	}
	_, err := ParseMode(string(mode))
	return nil, err
}

// Query runs a plain filtered read, for paging through stored chunks.
func (c *Client) Query(ctx context.Context, q IndexQuery) ([]datatypes.RetrievedResult, error) {
	ctx, span := tracer.Start(ctx, "RetrievalClient.Query")
	defer span.End()

	if err := q.Filter.Validate(); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = c.cfg.DefaultTopK
	}
	if q.Offset < 0 {
		return nil, &faults.InvalidArgumentError{Field: "offset", Reason: "must not be negative"}
	}
	if q.Kind == QueryHybrid && q.Alpha == 0 {
		q.Alpha = c.cfg.HybridAlpha
	}
	results, err := c.index.Query(ctx, q)
	if err != nil {
		return nil, c.fail(span, "query", err)
	}
	return normalize(results), nil
}

// =============================================================================
// Mutation
// =============================================================================

// Upsert writes chunks, replacing any with the same id.
//
// # Description
//
// Every chunk must carry a vector whose length matches the first vector
// this client has seen. The check runs before the index is called.
func (c *Client) Upsert(ctx context.Context, chunks []datatypes.Chunk) error {
	ctx, span := tracer.Start(ctx, "RetrievalClient.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.chunks", len(chunks)))

	if len(chunks) == 0 {
		return nil
	}
	if err := c.checkDimensions(chunks); err != nil {
		return err
	}
	if err := c.index.Upsert(ctx, chunks); err != nil {
		return c.fail(span, "upsert", err)
	}
	return nil
}

func (c *Client) checkDimensions(chunks []datatypes.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dim := c.dim
	for _, ch := range chunks {
		if ch.ID == "" {
			return &faults.InvalidArgumentError{Field: "id", Reason: "chunk id must not be empty"}
		}
		if len(ch.ContentVector) == 0 {
			return &faults.InvalidArgumentError{Field: "content_vector", Reason: "chunk " + ch.ID + " has no vector"}
		}
		if dim == 0 {
			dim = len(ch.ContentVector)
		}
		if len(ch.ContentVector) != dim {
			return &faults.InvalidArgumentError{
				Field:  "content_vector",
				Reason: fmt.Sprintf("chunk %s has dimension %d, index uses %d", ch.ID, len(ch.ContentVector), dim),
			}
		}
	}
	c.dim = dim
	return nil
}

// DeleteByIDs removes chunks by id.
//
// # Description
//
// Idempotent: ids that do not exist count as neither matched nor failed.
// When some ids fail, the result lists them and the error is a
// *faults.PartialFailure carrying the same failures.
func (c *Client) DeleteByIDs(ctx context.Context, ids []string) (DeleteResult, error) {
	ctx, span := tracer.Start(ctx, "RetrievalClient.DeleteByIDs")
	defer span.End()
	span.SetAttributes(attribute.Int("retrieval.ids", len(ids)))

	if len(ids) == 0 {
		return DeleteResult{}, nil
	}
	res, err := c.index.Delete(ctx, ids)
	if err != nil {
		return res, c.fail(span, "delete_by_ids", err)
	}
	return res, partial("delete_by_ids", res)
}

// DeleteByFilter removes every chunk matching filter. A zero filter is
// rejected; use DeleteAll to empty the index deliberately.
func (c *Client) DeleteByFilter(ctx context.Context, filter Filter) (DeleteResult, error) {
	ctx, span := tracer.Start(ctx, "RetrievalClient.DeleteByFilter")
	defer span.End()

	if filter.IsZero() {
		return DeleteResult{}, &faults.InvalidArgumentError{Field: "filter", Reason: "refusing to delete with an empty filter"}
	}
	if err := filter.Validate(); err != nil {
		return DeleteResult{}, err
	}
	span.SetAttributes(attribute.String("retrieval.filter", filter.String()))

	res, err := c.index.DeleteWhere(ctx, filter)
	if err != nil {
		return res, c.fail(span, "delete_by_filter", err)
	}
	return res, partial("delete_by_filter", res)
}

// DeleteDocument removes a parent document and all of its chunks.
func (c *Client) DeleteDocument(ctx context.Context, parentID string) (DeleteResult, error) {
	if parentID == "" {
		return DeleteResult{}, &faults.InvalidArgumentError{Field: "parent_id", Reason: "must not be empty"}
	}
	return c.DeleteByFilter(ctx, Or(Eq("id", parentID), Eq("parent_id", parentID)))
}

// DeleteAll empties the index.
func (c *Client) DeleteAll(ctx context.Context) (DeleteResult, error) {
	ctx, span := tracer.Start(ctx, "RetrievalClient.DeleteAll")
	defer span.End()

	res, err := c.index.DeleteWhere(ctx, Ne("parent_id", ""))
	if err != nil {
		return res, c.fail(span, "delete_all", err)
	}
	c.mu.Lock()
	c.dim = 0
	c.mu.Unlock()
	return res, partial("delete_all", res)
}

// =============================================================================
// Administration
// =============================================================================

// Count returns the number of stored chunks.
func (c *Client) Count(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "RetrievalClient.Count")
	defer span.End()

	n, err := c.index.Count(ctx)
	if err != nil {
		return 0, c.fail(span, "count", err)
	}
	return n, nil
}

// ListDocuments returns one summary per parent document.
func (c *Client) ListDocuments(ctx context.Context) ([]datatypes.DocumentSummary, error) {
	ctx, span := tracer.Start(ctx, "RetrievalClient.ListDocuments")
	defer span.End()

	docs, err := c.index.Documents(ctx)
	if err != nil {
		return nil, c.fail(span, "list_documents", err)
	}
	if docs == nil {
		docs = []datatypes.DocumentSummary{}
	}
	return docs, nil
}

// Close releases the index.
func (c *Client) Close() error {
	return c.index.Close()
}

// =============================================================================
// Helpers
// =============================================================================

func (c *Client) topK(k int) int {
	if k <= 0 {
		return c.cfg.DefaultTopK
	}
	return k
}

// fail classifies an index error. Caller-side and partial errors pass
// through; everything else becomes a RetrievalBackendError.
func (c *Client) fail(span trace.Span, op string, err error) error {
	var argErr *faults.InvalidArgumentError
	var partialErr *faults.PartialFailure
	var backendErr *faults.RetrievalBackendError
	if !errors.As(err, &argErr) && !errors.As(err, &partialErr) && !errors.As(err, &backendErr) {
		err = &faults.RetrievalBackendError{Op: op, Err: err}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	slog.Error("Retrieval operation failed", "op", op, "error", err)
	return err
}

func partial(op string, res DeleteResult) error {
	if res.AllSucceeded() {
		return nil
	}
	slog.Warn("Bulk delete partially failed", "op", op, "deleted", res.Deleted, "failed", len(res.Failures))
	return &faults.PartialFailure{Op: op, Succeeded: res.Deleted, Failures: res.Failures}
}

// normalize guarantees the defaulted shape of every result regardless of
// which index produced it.
func normalize(results []datatypes.RetrievedResult) []datatypes.RetrievedResult {
	if results == nil {
		return []datatypes.RetrievedResult{}
	}
	for i := range results {
		if results[i].KeyPhrases == nil {
			results[i].KeyPhrases = []string{}
		}
		if results[i].Captions == nil {
			results[i].Captions = []datatypes.Caption{}
		}
	}
	return results
}
