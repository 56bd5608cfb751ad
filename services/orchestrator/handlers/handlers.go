// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the gin handlers of the document QA API.
//
// Handlers are constructors returning gin.HandlerFunc closures over their
// dependencies. Core errors never reach clients verbatim: an
// InvalidArgumentError becomes 400 with its message, everything else 500
// with a fixed message per endpoint.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var handlerTracer = otel.Tracer("aleutian.orchestrator.handlers")

// =============================================================================
// Dependencies
// =============================================================================

// Answerer answers one query. Satisfied by *services.AnswerService.
type Answerer interface {
	Answer(ctx context.Context, memory *conversation.Memory, query, mode string) (*services.AnswerResult, error)
}

// Ingester ingests one uploaded file. Satisfied by *services.IngestService.
type Ingester interface {
	Ingest(ctx context.Context, filename string, data []byte) (*services.IngestResult, error)
}

// DocumentAdmin administers ingested documents. Satisfied by
// *services.DocumentService.
type DocumentAdmin interface {
	Count(ctx context.Context) (int, error)
	List(ctx context.Context) ([]datatypes.DocumentSummary, error)
	Delete(ctx context.Context, filenames []string) (*datatypes.DeleteDocumentsResponse, error)
	DeleteAll(ctx context.Context) (*datatypes.DeleteDocumentsResponse, error)
	Chunks(ctx context.Context, req datatypes.IndexedChunksRequest) ([]datatypes.IndexedChunk, error)
}

// =============================================================================
// Error Mapping
// =============================================================================

// statusFor maps a core error to an HTTP status.
func statusFor(err error) int {
	if faults.IsInvalidArgument(err) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondError writes err to the client. Invalid arguments are echoed;
// anything else is replaced by message so backend payloads stay private.
func respondError(c *gin.Context, span trace.Span, err error, message string) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	status := statusFor(err)
	if status == http.StatusBadRequest {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	slog.Error(message, "path", c.FullPath(), "error_kind", faults.Kind(err), "error", err)
	c.JSON(status, gin.H{"error": message})
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
