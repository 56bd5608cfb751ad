// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval searches and maintains the chunk index.
//
// # Description
//
// Client is the entry point used by the answer pipeline, ingestion, and
// document administration. It validates arguments, applies defaults, and
// maps backend failures into the faults taxonomy. The storage itself sits
// behind the Index interface, implemented by WeaviateIndex for production
// and MemoryIndex for lightweight mode and tests.
//
// # Thread Safety
//
// Client, WeaviateIndex, and MemoryIndex are safe for concurrent use.
package retrieval

import (
	"context"
	"fmt"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
)

// DefaultTopK is used when a search asks for topK <= 0.
const DefaultTopK = 5

// DefaultHybridAlpha weights vector against lexical ranking in hybrid search.
// 0 is pure lexical, 1 is pure vector.
const DefaultHybridAlpha float32 = 0.5

// =============================================================================
// Search Modes
// =============================================================================

// Mode selects the retrieval strategy for a query.
type Mode string

const (
	ModeVector Mode = "Vector"
	ModeHybrid Mode = "Hybrid"
)

// ParseMode accepts exactly "Vector" or "Hybrid".
//
// # Outputs
//
//   - Mode: The parsed mode.
//   - error: *faults.InvalidArgumentError for anything else.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeVector, ModeHybrid:
		return Mode(s), nil
	}
	return "", &faults.InvalidArgumentError{Field: "search_type", Reason: fmt.Sprintf("must be Vector or Hybrid, got %q", s)}
}

// =============================================================================
// Index Contract
// =============================================================================

// QueryKind selects how an IndexQuery ranks results.
type QueryKind int

const (
	// QueryPlain applies Filter and OrderBy with no ranking.
	QueryPlain QueryKind = iota
	// QueryVector ranks by vector similarity to Vector.
	QueryVector
	// QueryHybrid fuses lexical ranking on Text with vector ranking on Vector.
	QueryHybrid
)

// IndexQuery is one read against an Index.
type IndexQuery struct {
	Kind    QueryKind
	Text    string
	Vector  []float32
	Alpha   float32
	Filter  Filter
	OrderBy *OrderBy
	Limit   int
	Offset  int
}

// DeleteResult reports the outcome of a bulk delete.
//
// # Description
//
// Matched counts objects the delete selected; Deleted those actually
// removed. Missing ids are not failures: deleting something that does not
// exist yields Matched 0, Deleted 0 and no failures.
type DeleteResult struct {
	Matched  int                  `json:"matched"`
	Deleted  int                  `json:"deleted"`
	Failures []faults.ItemFailure `json:"failures"`
}

// AllSucceeded reports whether no item failed.
func (r DeleteResult) AllSucceeded() bool {
	return len(r.Failures) == 0
}

// Index is the storage behind the Client.
//
// Implementations return raw errors for backend failures; the Client
// classifies them. Upsert may return *faults.PartialFailure when only some
// objects were written.
type Index interface {
	Upsert(ctx context.Context, chunks []datatypes.Chunk) error
	Delete(ctx context.Context, ids []string) (DeleteResult, error)
	DeleteWhere(ctx context.Context, filter Filter) (DeleteResult, error)
	Query(ctx context.Context, q IndexQuery) ([]datatypes.RetrievedResult, error)
	Count(ctx context.Context) (int, error)
	Documents(ctx context.Context) ([]datatypes.DocumentSummary, error)
	Close() error
}
