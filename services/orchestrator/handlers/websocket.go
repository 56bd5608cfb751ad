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

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// WSQueryRequest is one query sent over /query/ws.
type WSQueryRequest struct {
	Query      string `json:"query"`
	SearchType string `json:"search_type"`
}

// WSQueryResponse answers one WSQueryRequest. Error is set instead of the
// answer fields when the query failed.
type WSQueryResponse struct {
	SearchResults []datatypes.RetrievedResult `json:"search_results,omitempty"`
	LLMResponse   string                      `json:"llm_response,omitempty"`
	SessionID     string                      `json:"session_id"`
	Error         string                      `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

func sendJSON(ws *websocket.Conn, v interface{}) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleQueryWebSocket serves GET /query/ws.
//
// # Description
//
// Each connection owns one session, announced with
// {"action": "session_created", "session_id": ...} right after the
// upgrade. Queries on the connection are read and answered one at a time,
// so the session's memory sees them in order. Every query refreshes the
// session's idle timer. The session is deleted when the client disconnects.
func HandleQueryWebSocket(answerer Answerer, sessions *conversation.Registry, metrics *observability.RAGMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		metrics.WebSocketOpened()
		defer metrics.WebSocketClosed()

		session, _ := sessions.GetOrCreate("")
		metrics.SetActiveSessions(sessions.Len())
		defer func() {
			sessions.Delete(session.ID)
			metrics.SetActiveSessions(sessions.Len())
		}()
		slog.Info("Websocket client connected", "session_id", session.ID)

		if err := sendJSON(ws, gin.H{
			"action":     "session_created",
			"session_id": session.ID,
		}); err != nil {
			return
		}

		for {
			var msg WSQueryRequest
			if err := ws.ReadJSON(&msg); err != nil {
				slog.Info("Websocket client disconnected", "session_id", session.ID, "error", err.Error())
				return
			}

			resp := WSQueryResponse{SessionID: session.ID}
			req := datatypes.QueryRequest{Query: msg.Query, SearchType: msg.SearchType}
			if err := req.Validate(); err != nil {
				metrics.RecordRequest("query_ws", false)
				resp.Error = err.Error()
				if sendJSON(ws, resp) != nil {
					return
				}
				continue
			}

			// Re-register if the session expired while the connection sat
			// idle, so later turns land in a session the registry tracks.
			if current, created := sessions.GetOrCreate(session.ID); created {
				slog.Info("Websocket session expired, starting a new history", "session_id", session.ID)
				session = current
				metrics.SetActiveSessions(sessions.Len())
			}
			session.Lock()
			result, err := answerer.Answer(c.Request.Context(), session.Memory, msg.Query, msg.SearchType)
			session.Unlock()
			metrics.RecordRequest("query_ws", err == nil)

			switch {
			case err == nil:
				resp.SearchResults = result.Results
				resp.LLMResponse = result.Answer
			case faults.IsInvalidArgument(err):
				resp.Error = err.Error()
			default:
				slog.Error("WebSocket query failed", "session_id", session.ID, "error", err)
				resp.Error = queryFailedMessage
			}
			if sendJSON(ws, resp) != nil {
				return
			}
		}
	}
}
