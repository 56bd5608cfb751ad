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
	"log/slog"
	"net/http"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

const queryFailedMessage = "failed to process query"

// HandleQuery serves POST /query.
//
// # Description
//
// Validates the body, resolves the session (creating one when session_id
// is empty), and runs the answer pipeline while holding the session's
// exchange lock so concurrent queries on one session are serialized.
//
// # Responses
//
//   - 200: datatypes.QueryResponse.
//   - 400: Malformed body, failed validation, or unsupported search_type.
//   - 500: {"error": "failed to process query"} for any backend failure.
func HandleQuery(answerer Answerer, sessions *conversation.Registry, metrics *observability.RAGMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := handlerTracer.Start(c.Request.Context(), "HandleQuery")
		defer span.End()

		var req datatypes.QueryRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			slog.Warn("Failed to bind query request JSON", "error", err)
			metrics.RecordRequest("query", false)
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			metrics.RecordRequest("query", false)
			respondError(c, span, err, queryFailedMessage)
			return
		}

		session, created := sessions.GetOrCreate(req.SessionID)
		if created {
			metrics.SetActiveSessions(sessions.Len())
		}
		span.SetAttributes(
			attribute.String("session_id", session.ID),
			attribute.String("search_type", req.SearchType),
		)
		slog.Info("Received query", "session_id", session.ID, "search_type", req.SearchType)

		session.Lock()
		result, err := answerer.Answer(ctx, session.Memory, req.Query, req.SearchType)
		session.Unlock()

		metrics.RecordRequest("query", err == nil)
		if err != nil {
			respondError(c, span, err, queryFailedMessage)
			return
		}
		c.JSON(http.StatusOK, datatypes.QueryResponse{
			SearchResults: result.Results,
			LLMResponse:   result.Answer,
			SessionID:     session.ID,
		})
	}
}
