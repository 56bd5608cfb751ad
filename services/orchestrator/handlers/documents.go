// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultMaxUploadBytes caps uploaded files at 10 MiB.
const DefaultMaxUploadBytes int64 = 10 << 20

// HandleUpload serves POST /upload with a multipart "file" field.
func HandleUpload(ingester Ingester, maxBytes int64, metrics *observability.RAGMetrics) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleUpload")
		defer span.End()

		data, filename, err := readUpload(c, maxBytes)
		if err != nil {
			metrics.RecordRequest("upload", false)
			respondError(c, span, err, "failed to upload document")
			return
		}
		span.SetAttributes(attribute.String("filename", filename))
		slog.Info("Received upload", "filename", filename, "bytes", len(data))

		result, err := ingester.Ingest(ctx, filename, data)
		metrics.RecordRequest("upload", err == nil)
		if err != nil {
			respondError(c, span, err, "failed to upload document")
			return
		}
		c.JSON(http.StatusOK, datatypes.UploadResponse{
			Message:    "File uploaded and indexed successfully",
			DocumentID: result.DocumentID,
			Chunks:     result.Chunks,
		})
	}
}

// readUpload extracts the "file" form field. Caller mistakes are returned
// as InvalidArgumentError.
func readUpload(c *gin.Context, maxBytes int64) ([]byte, string, error) {
	header, err := c.FormFile("file")
	if err != nil {
		return nil, "", &faults.InvalidArgumentError{Field: "file", Reason: "multipart field is required"}
	}
	if header.Size > maxBytes {
		return nil, "", &faults.InvalidArgumentError{
			Field:  "file",
			Reason: fmt.Sprintf("exceeds maximum size of %d bytes", maxBytes),
		}
	}
	f, err := header.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, "", &faults.InvalidArgumentError{
			Field:  "file",
			Reason: fmt.Sprintf("exceeds maximum size of %d bytes", maxBytes),
		}
	}
	return data, filepath.Base(header.Filename), nil
}

// HandleDocumentCount serves GET /document_count.
func HandleDocumentCount(docs DocumentAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleDocumentCount")
		defer span.End()

		count, err := docs.Count(ctx)
		if err != nil {
			respondError(c, span, err, "failed to count documents")
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

// HandleListDocuments serves GET /list_documents.
func HandleListDocuments(docs DocumentAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleListDocuments")
		defer span.End()

		list, err := docs.List(ctx)
		if err != nil {
			respondError(c, span, err, "failed to list documents")
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": list})
	}
}

// HandleListIndexedDocuments serves GET /list_indexed_documents.
//
// # Description
//
// Lists stored chunks, optionally narrowed by ?filter= and sorted by
// ?order_by=, paged with ?limit= and ?offset=. A malformed filter or
// order_by is a 400.
func HandleListIndexedDocuments(docs DocumentAdmin) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleListIndexedDocuments")
		defer span.End()

		var req datatypes.IndexedChunksRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			span.RecordError(err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
			return
		}
		if err := req.Validate(); err != nil {
			respondError(c, span, err, "failed to list indexed documents")
			return
		}

		chunks, err := docs.Chunks(ctx, req)
		if err != nil {
			respondError(c, span, err, "failed to list indexed documents")
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": chunks})
	}
}

// HandleDeleteDocuments serves POST /delete_documents.
//
// # Description
//
// The body names the documents to delete, or sets "delete_all": true to
// remove every document. A body with neither is rejected with 400. When
// any document fails the response is 500 and still carries the full
// result: what was deleted and every failure.
func HandleDeleteDocuments(docs DocumentAdmin, metrics *observability.RAGMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleDeleteDocuments")
		defer span.End()

		var req datatypes.DeleteDocumentsRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			metrics.RecordRequest("delete_documents", false)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			metrics.RecordRequest("delete_documents", false)
			respondError(c, span, err, "failed to delete documents")
			return
		}
		span.SetAttributes(
			attribute.Int("filenames", len(req.Filenames)),
			attribute.Bool("delete_all", req.DeleteAll),
		)

		var resp *datatypes.DeleteDocumentsResponse
		var err error
		if req.DeleteAll {
			slog.Warn("Deleting every document")
			resp, err = docs.DeleteAll(ctx)
		} else {
			resp, err = docs.Delete(ctx, req.Filenames)
		}
		metrics.RecordRequest("delete_documents", err == nil)
		if err != nil && resp == nil {
			respondError(c, span, err, "failed to delete documents")
			return
		}
		if err != nil {
			span.RecordError(err)
			slog.Error("Document deletion incomplete", "failures", len(resp.Failures), "error", err)
			c.JSON(http.StatusInternalServerError, resp)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}
