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
	"fmt"
	"log/slog"
	"strconv"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// maxDeleteRounds bounds the repeat loop in DeleteWhere. Weaviate caps the
// objects one batch delete may touch, so large deletes take several rounds.
const maxDeleteRounds = 100

// WeaviateIndex stores chunks in a Weaviate class with externally supplied
// vectors.
type WeaviateIndex struct {
	client *weaviate.Client
	class  string
}

// NewWeaviateIndex ensures the Chunk class exists and returns an index
// backed by it.
func NewWeaviateIndex(ctx context.Context, client *weaviate.Client) (*WeaviateIndex, error) {
	if client == nil {
		return nil, fmt.Errorf("weaviate client is nil")
	}
	if err := datatypes.EnsureWeaviateSchema(ctx, client); err != nil {
		return nil, fmt.Errorf("ensure weaviate schema: %w", err)
	}
	return &WeaviateIndex{client: client, class: datatypes.ChunkClass}, nil
}

// Upsert writes chunks with ObjectsBatcher. Objects with the same id are
// replaced. Per-object failures are returned as *faults.PartialFailure.
func (w *WeaviateIndex) Upsert(ctx context.Context, chunks []datatypes.Chunk) error {
	objects := make([]*models.Object, len(chunks))
	for i := range chunks {
		objects[i] = &models.Object{
			Class:      w.class,
			ID:         strfmt.UUID(chunks[i].ID),
			Vector:     chunks[i].ContentVector,
			Properties: chunks[i].Properties(),
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to save objects to Weaviate: %w", err)
	}

	written := 0
	var failures []faults.ItemFailure
	for _, item := range resp {
		if item.Result != nil && item.Result.Status != nil && *item.Result.Status == "SUCCESS" {
			written++
			continue
		}
		reason := "unknown"
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			reason = item.Result.Errors.Error[0].Message
		} else if item.Result != nil && item.Result.Status != nil {
			reason = *item.Result.Status
		}
		slog.Warn("Error in Weaviate batch item", "id", item.ID, "error", reason)
		failures = append(failures, faults.ItemFailure{ID: string(item.ID), Reason: reason})
	}
	if len(failures) > 0 {
		return &faults.PartialFailure{Op: "upsert", Succeeded: written, Failures: failures}
	}
	return nil
}

// Delete removes objects by id. Strings that are not UUIDs cannot name an
// object and are skipped.
func (w *WeaviateIndex) Delete(ctx context.Context, ids []string) (DeleteResult, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return DeleteResult{}, nil
	}
	where := filters.Where().
		WithPath([]string{"id"}).
		WithOperator(filters.ContainsAny).
		WithValueText(valid...)
	return w.batchDelete(ctx, where, 1)
}

// DeleteWhere removes every object matching filter, repeating until a round
// matches nothing new.
func (w *WeaviateIndex) DeleteWhere(ctx context.Context, filter Filter) (DeleteResult, error) {
	return w.batchDelete(ctx, toWhere(filter), maxDeleteRounds)
}

func (w *WeaviateIndex) batchDelete(ctx context.Context, where *filters.WhereBuilder, rounds int) (DeleteResult, error) {
	var total DeleteResult
	for round := 0; round < rounds; round++ {
		resp, err := w.client.Batch().ObjectsBatchDeleter().
			WithClassName(w.class).
			WithWhere(where).
			WithOutput("verbose").
			Do(ctx)
		if err != nil {
			return total, fmt.Errorf("batch delete failed for %s: %w", w.class, err)
		}
		if resp == nil || resp.Results == nil {
			return total, nil
		}

		total.Matched += int(resp.Results.Matches)
		total.Deleted += int(resp.Results.Successful)
		for _, obj := range resp.Results.Objects {
			if obj == nil || obj.Status == nil || *obj.Status == "SUCCESS" || *obj.Status == "DRYRUN" {
				continue
			}
			reason := *obj.Status
			if obj.Errors != nil && len(obj.Errors.Error) > 0 {
				reason = obj.Errors.Error[0].Message
			}
			total.Failures = append(total.Failures, faults.ItemFailure{ID: string(obj.ID), Reason: reason})
		}

		// Another round only helps when this one hit the server cap and
		// made progress.
		if resp.Results.Limit == 0 || resp.Results.Matches < resp.Results.Limit || resp.Results.Successful == 0 {
			break
		}
	}
	return total, nil
}

// Query runs a Get against the Chunk class.
func (w *WeaviateIndex) Query(ctx context.Context, q IndexQuery) ([]datatypes.RetrievedResult, error) {
	get := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(chunkFields(q.Kind)...).
		WithLimit(q.Limit)

	switch q.Kind {
	case QueryVector:
		get = get.WithNearVector(w.client.GraphQL().NearVectorArgBuilder().WithVector(q.Vector))
	case QueryHybrid:
		hybrid := w.client.GraphQL().HybridArgumentBuilder().
			WithQuery(q.Text).
			WithAlpha(q.Alpha)
		if len(q.Vector) > 0 {
			hybrid = hybrid.WithVector(q.Vector)
		}
		get = get.WithHybrid(hybrid)
	}
	if !q.Filter.IsZero() {
		get = get.WithWhere(toWhere(q.Filter))
	}
	if q.Offset > 0 {
		get = get.WithOffset(q.Offset)
	}
	if q.OrderBy != nil && q.Kind == QueryPlain {
		order := graphql.Asc
		if q.OrderBy.Desc {
			order = graphql.Desc
		}
		get = get.WithSort(graphql.Sort{Path: []string{propertyPath(q.OrderBy.Field)}, Order: order})
	}

	resp, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query failed: %w", err)
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChunkQueryResponse](resp)
	if err != nil {
		return nil, err
	}

	results := make([]datatypes.RetrievedResult, 0, len(parsed.Get.Chunk))
	for i := range parsed.Get.Chunk {
		r := parsed.Get.Chunk[i].ToRetrievedResult()
		if q.Kind == QueryHybrid {
			r.Captions = buildCaptions(r.Content, q.Text)
		}
		results = append(results, r)
	}
	return results, nil
}

// Count aggregates meta { count } over the class.
func (w *WeaviateIndex) Count(ctx context.Context) (int, error) {
	resp, err := w.client.GraphQL().Aggregate().
		WithClassName(w.class).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("weaviate aggregate failed: %w", err)
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChunkCountResponse](resp)
	if err != nil {
		return 0, err
	}
	if len(parsed.Aggregate.Chunk) == 0 {
		return 0, nil
	}
	return parsed.Aggregate.Chunk[0].Meta.Count, nil
}

// Documents groups chunks by filename.
func (w *WeaviateIndex) Documents(ctx context.Context) ([]datatypes.DocumentSummary, error) {
	resp, err := w.client.GraphQL().Aggregate().
		WithClassName(w.class).
		WithGroupBy("filename").
		WithFields(
			graphql.Field{Name: "groupedBy", Fields: []graphql.Field{{Name: "value"}}},
			graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}},
		).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate group-by failed: %w", err)
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChunkGroupResponse](resp)
	if err != nil {
		return nil, err
	}
	docs := make([]datatypes.DocumentSummary, 0, len(parsed.Aggregate.Chunk))
	for _, g := range parsed.Aggregate.Chunk {
		docs = append(docs, datatypes.DocumentSummary{
			ID:       datatypes.DocumentID(g.GroupedBy.Value),
			Filename: g.GroupedBy.Value,
			Chunks:   g.Meta.Count,
		})
	}
	return docs, nil
}

// Close is a no-op; the Weaviate client holds no resources needing release.
func (w *WeaviateIndex) Close() error { return nil }

var _ Index = (*WeaviateIndex)(nil)

// =============================================================================
// GraphQL Builders
// =============================================================================

// chunkFields selects every chunk property plus the _additional values
// meaningful for the query kind.
func chunkFields(kind QueryKind) []graphql.Field {
	fields := make([]graphql.Field, 0, len(datatypes.ChunkSelectFields)+1)
	for _, name := range datatypes.ChunkSelectFields {
		fields = append(fields, graphql.Field{Name: name})
	}
	additional := []graphql.Field{{Name: "id"}}
	switch kind {
	case QueryVector:
		additional = append(additional, graphql.Field{Name: "distance"})
	case QueryHybrid:
		additional = append(additional, graphql.Field{Name: "score"})
	}
	return append(fields, graphql.Field{Name: "_additional", Fields: additional})
}

// propertyPath maps filter field names to stored property names. The
// object UUID is mirrored in chunk_id so "id" filters never hit UUID
// parsing on non-UUID values.
func propertyPath(field string) string {
	if field == "id" {
		return "chunk_id"
	}
	return field
}

// toWhere converts a Filter into a Weaviate where clause.
func toWhere(f Filter) *filters.WhereBuilder {
	switch f.Op {
	case OpAnd, OpOr:
		operator := filters.And
		if f.Op == OpOr {
			operator = filters.Or
		}
		operands := make([]*filters.WhereBuilder, 0, len(f.Operands))
		for _, o := range f.Operands {
			operands = append(operands, toWhere(o))
		}
		return filters.Where().WithOperator(operator).WithOperands(operands)
	default:
		operator := filters.Equal
		if f.Op == OpNe {
			operator = filters.NotEqual
		}
		where := filters.Where().
			WithPath([]string{propertyPath(f.Field)}).
			WithOperator(operator)
		if f.Field == "chunk_number" {
			n, _ := strconv.Atoi(f.Value)
			return where.WithValueInt(int64(n))
		}
		return where.WithValueText(f.Value)
	}
}
