// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/blobstore"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/retrieval"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DocumentService counts, lists, and deletes ingested documents.
type DocumentService struct {
	blobs blobstore.Store
	index DocumentIndex
}

// NewDocumentService creates a DocumentService.
func NewDocumentService(blobs blobstore.Store, index DocumentIndex) *DocumentService {
	return &DocumentService{blobs: blobs, index: index}
}

// Count returns the number of indexed chunks.
func (s *DocumentService) Count(ctx context.Context) (int, error) {
	return s.index.Count(ctx)
}

// List returns one summary per ingested document.
func (s *DocumentService) List(ctx context.Context) ([]datatypes.DocumentSummary, error) {
	return s.index.ListDocuments(ctx)
}

// DefaultIndexedChunksLimit caps Chunks when the request sets no limit.
const DefaultIndexedChunksLimit = 1000

// Chunks pages through stored chunks.
//
// # Description
//
// The request's filter and order_by strings are parsed with the
// retrieval package's syntax; a parse failure is an
// *faults.InvalidArgumentError and the index is not queried.
func (s *DocumentService) Chunks(ctx context.Context, req datatypes.IndexedChunksRequest) ([]datatypes.IndexedChunk, error) {
	ctx, span := ingestTracer.Start(ctx, "DocumentService.Chunks")
	defer span.End()

	filter, err := retrieval.ParseFilter(req.Filter)
	if err != nil {
		return nil, err
	}
	orderBy, err := retrieval.ParseOrderBy(req.OrderBy)
	if err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultIndexedChunksLimit
	}
	span.SetAttributes(
		attribute.String("filter", filter.String()),
		attribute.Int("limit", limit),
		attribute.Int("offset", req.Offset),
	)

	results, err := s.index.Query(ctx, retrieval.IndexQuery{
		Kind:    retrieval.QueryPlain,
		Filter:  filter,
		OrderBy: orderBy,
		Limit:   limit,
		Offset:  req.Offset,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	chunks := make([]datatypes.IndexedChunk, len(results))
	for i, r := range results {
		chunks[i] = datatypes.IndexedChunk{
			ID:          r.ID,
			ParentID:    r.ParentID,
			Filename:    r.Filename,
			Title:       r.Title,
			ChunkNumber: r.ChunkNumber,
		}
	}
	return chunks, nil
}

// Delete removes the named documents with their chunks and blobs.
//
// # Description
//
// Each document's chunks are removed by parent id and its blob by
// filename. Every failure is collected; one failing document never stops
// the others. An empty list deletes nothing; emptying the whole index is
// DeleteAll's job.
//
// # Outputs
//
//   - *datatypes.DeleteDocumentsResponse: Always non-nil. Lists the
//     documents fully deleted and every failure.
//   - error: nil when nothing failed, otherwise errors.Join of every
//     failure.
func (s *DocumentService) Delete(ctx context.Context, filenames []string) (*datatypes.DeleteDocumentsResponse, error) {
	ctx, span := ingestTracer.Start(ctx, "DocumentService.Delete")
	defer span.End()

	d := newDeletion()
	for _, filename := range filenames {
		res, err := s.index.DeleteDocument(ctx, datatypes.DocumentID(filename))
		d.resp.Chunks += res.Deleted
		if err != nil {
			d.fail(filename, err)
			continue
		}
		if err := s.blobs.Delete(ctx, filename); err != nil {
			d.fail(filename, err)
			continue
		}
		d.resp.Deleted = append(d.resp.Deleted, filename)
	}
	return d.finish(span)
}

// DeleteAll removes every document, its chunks, and its blob.
//
// # Description
//
// The document list is read first so blobs can be deleted by filename
// once the index is empty. A failure to list or empty the index is
// reported under the id "*"; blob failures under their filename.
func (s *DocumentService) DeleteAll(ctx context.Context) (*datatypes.DeleteDocumentsResponse, error) {
	ctx, span := ingestTracer.Start(ctx, "DocumentService.DeleteAll")
	defer span.End()

	d := newDeletion()
	docs, err := s.index.ListDocuments(ctx)
	if err != nil {
		d.fail("*", err)
	}
	res, err := s.index.DeleteAll(ctx)
	d.resp.Chunks += res.Deleted
	if err != nil {
		d.fail("*", err)
	}
	for _, doc := range docs {
		if err := s.blobs.Delete(ctx, doc.Filename); err != nil {
			d.fail(doc.Filename, err)
			continue
		}
		d.resp.Deleted = append(d.resp.Deleted, doc.Filename)
	}
	return d.finish(span)
}

// deletion accumulates the outcome of one delete request.
type deletion struct {
	resp *datatypes.DeleteDocumentsResponse
	errs []error
}

func newDeletion() *deletion {
	return &deletion{resp: &datatypes.DeleteDocumentsResponse{
		Deleted:  []string{},
		Failures: []faults.ItemFailure{},
	}}
}

func (d *deletion) fail(id string, err error) {
	d.resp.Failures = append(d.resp.Failures, faults.ItemFailure{ID: id, Reason: err.Error()})
	d.errs = append(d.errs, fmt.Errorf("%s: %w", id, err))
}

// finish records the outcome on span and returns the response with the
// joined failures.
func (d *deletion) finish(span trace.Span) (*datatypes.DeleteDocumentsResponse, error) {
	span.SetAttributes(
		attribute.Int("documents.deleted", len(d.resp.Deleted)),
		attribute.Int("documents.failed", len(d.resp.Failures)),
	)
	if len(d.errs) > 0 {
		err := errors.Join(d.errs...)
		span.RecordError(err)
		span.SetStatus(codes.Error, "document deletion incomplete")
		slog.Warn("Document deletion incomplete",
			"deleted", len(d.resp.Deleted),
			"failures", len(d.resp.Failures))
		return d.resp, err
	}
	slog.Info("Deleted documents", "deleted", len(d.resp.Deleted), "chunks", d.resp.Chunks)
	return d.resp, nil
}
