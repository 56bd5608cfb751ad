// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"net/http"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Dependencies carries everything the handlers close over.
type Dependencies struct {
	Answerer       handlers.Answerer
	Ingester       handlers.Ingester
	Documents      handlers.DocumentAdmin
	Sessions       *conversation.Registry
	Metrics        *observability.RAGMetrics
	StatusChecks   []handlers.StatusCheck
	MaxUploadBytes int64

	// MetricsHandler serves /metrics. Nil uses promhttp.Handler().
	MetricsHandler http.Handler
}

// SetupRoutes registers the document QA API on router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/status", handlers.HandleStatus(deps.StatusChecks))
	router.GET("/metrics", gin.WrapH(metricsHandler))

	router.POST("/query", handlers.HandleQuery(deps.Answerer, deps.Sessions, deps.Metrics))
	router.GET("/query/ws", handlers.HandleQueryWebSocket(deps.Answerer, deps.Sessions, deps.Metrics))
	router.DELETE("/sessions/:id", handlers.HandleDeleteSession(deps.Sessions, deps.Metrics))

	// Document administration
	router.POST("/upload", handlers.HandleUpload(deps.Ingester, deps.MaxUploadBytes, deps.Metrics))
	router.GET("/document_count", handlers.HandleDocumentCount(deps.Documents))
	router.GET("/list_documents", handlers.HandleListDocuments(deps.Documents))
	router.GET("/list_indexed_documents", handlers.HandleListIndexedDocuments(deps.Documents))
	router.POST("/delete_documents", handlers.HandleDeleteDocuments(deps.Documents, deps.Metrics))
}
