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
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
)

// HandleDeleteSession serves DELETE /sessions/:id. The session's memory is
// cleared and the session forgotten.
func HandleDeleteSession(sessions *conversation.Registry, metrics *observability.RAGMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		slog.Info("Received a request to delete a session", "session_id", id)

		if !sessions.Delete(id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		metrics.SetActiveSessions(sessions.Len())
		c.JSON(http.StatusOK, gin.H{"status": "success", "deleted_session_id": id})
	}
}
