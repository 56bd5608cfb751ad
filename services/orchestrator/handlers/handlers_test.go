// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

// createTestRouter creates a Gin router with the specified handler for testing.
func createTestRouter(method, path string, handler gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	router.Handle(method, path, handler)
	return router
}

// performRequest executes an HTTP request against the test router.
func performRequest(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reqBody *bytes.Buffer
	switch b := body.(type) {
	case nil:
		reqBody = bytes.NewBuffer(nil)
	case string:
		reqBody = bytes.NewBufferString(b)
	default:
		jsonBytes, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(jsonBytes)
	}

	req, _ := http.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// MockAnswerer records calls and writes turns to the memory it is given.
type MockAnswerer struct {
	mu        sync.Mutex
	Reply     string
	Err       error
	Calls     int
	LastQuery string
	LastMode  string
}

func (m *MockAnswerer) Answer(_ context.Context, memory *conversation.Memory, query, mode string) (*services.AnswerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	m.LastQuery = query
	m.LastMode = mode
	if m.Err != nil {
		return nil, m.Err
	}
	memory.AppendUser(query)
	memory.AppendAssistant(m.Reply)
	return &services.AnswerResult{
		Results: []datatypes.RetrievedResult{{ID: "c1", Filename: "france.md", Content: "Paris is the capital of France.", KeyPhrases: []string{}, Captions: []datatypes.Caption{}}},
		Answer:  m.Reply,
	}, nil
}

// =============================================================================
// HandleQuery Tests
// =============================================================================

func TestHandleQuery_CreatesSession(t *testing.T) {
	answerer := &MockAnswerer{Reply: "Paris"}
	registry := conversation.NewRegistry(0)
	router := createTestRouter("POST", "/query", HandleQuery(answerer, registry, nil))

	w := performRequest(router, "POST", "/query", map[string]string{
		"query":       "What is the capital of France?",
		"search_type": "Vector",
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.QueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Paris", resp.LLMResponse)
	assert.NotEmpty(t, resp.SessionID)
	require.Len(t, resp.SearchResults, 1)
	assert.Equal(t, "france.md", resp.SearchResults[0].Filename)
	assert.Equal(t, 1, registry.Len())
}

func TestHandleQuery_ReusesSession(t *testing.T) {
	answerer := &MockAnswerer{Reply: "Paris"}
	registry := conversation.NewRegistry(0)
	router := createTestRouter("POST", "/query", HandleQuery(answerer, registry, nil))

	first := performRequest(router, "POST", "/query", map[string]string{
		"query": "q1", "search_type": "Hybrid",
	})
	var resp datatypes.QueryResponse
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &resp))

	second := performRequest(router, "POST", "/query", map[string]string{
		"query": "q2", "search_type": "Hybrid", "session_id": resp.SessionID,
	})
	require.Equal(t, http.StatusOK, second.Code)

	session, ok := registry.Get(resp.SessionID)
	require.True(t, ok)
	assert.Equal(t, 4, session.Memory.Len())
	assert.Equal(t, 1, registry.Len())
}

func TestHandleQuery_InvalidBody(t *testing.T) {
	answerer := &MockAnswerer{}
	router := createTestRouter("POST", "/query", HandleQuery(answerer, conversation.NewRegistry(0), nil))

	w := performRequest(router, "POST", "/query", "{not json")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, answerer.Calls)
}

func TestHandleQuery_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body map[string]string
	}{
		{"unknown search type", map[string]string{"query": "q", "search_type": "Fuzzy"}},
		{"empty query", map[string]string{"query": "", "search_type": "Vector"}},
		{"overlong query", map[string]string{"query": strings.Repeat("a", 1001), "search_type": "Vector"}},
		{"bad session id", map[string]string{"query": "q", "search_type": "Vector", "session_id": "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answerer := &MockAnswerer{}
			router := createTestRouter("POST", "/query", HandleQuery(answerer, conversation.NewRegistry(0), nil))

			w := performRequest(router, "POST", "/query", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, 0, answerer.Calls)
		})
	}
}

func TestHandleQuery_BackendErrorIsGeneric(t *testing.T) {
	answerer := &MockAnswerer{Err: &faults.LLMBackendError{Status: 503, Body: "secret upstream payload"}}
	router := createTestRouter("POST", "/query", HandleQuery(answerer, conversation.NewRegistry(0), nil))

	w := performRequest(router, "POST", "/query", map[string]string{"query": "q", "search_type": "Vector"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error": "failed to process query"}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestHandleQuery_InvalidArgumentFromCore(t *testing.T) {
	answerer := &MockAnswerer{Err: &faults.InvalidArgumentError{Field: "search_type", Reason: "bad"}}
	router := createTestRouter("POST", "/query", HandleQuery(answerer, conversation.NewRegistry(0), nil))

	w := performRequest(router, "POST", "/query", map[string]string{"query": "q", "search_type": "Vector"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Upload Tests
// =============================================================================

type mockIngester struct {
	err      error
	filename string
	data     []byte
}

func (m *mockIngester) Ingest(_ context.Context, filename string, data []byte) (*services.IngestResult, error) {
	m.filename = filename
	m.data = data
	if m.err != nil {
		return nil, m.err
	}
	return &services.IngestResult{DocumentID: datatypes.DocumentID(filename), Filename: filename, Chunks: 3}, nil
}

func uploadRequest(t *testing.T, field, filename string, content []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest("POST", "/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleUpload_Success(t *testing.T) {
	ingester := &mockIngester{}
	router := createTestRouter("POST", "/upload", HandleUpload(ingester, 0, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "file", "notes.md", []byte("# Notes")))

	require.Equal(t, http.StatusOK, w.Code)
	var resp datatypes.UploadResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "notes_md", resp.DocumentID)
	assert.Equal(t, 3, resp.Chunks)
	assert.Equal(t, "notes.md", ingester.filename)
	assert.Equal(t, "# Notes", string(ingester.data))
}

func TestHandleUpload_MissingFile(t *testing.T) {
	router := createTestRouter("POST", "/upload", HandleUpload(&mockIngester{}, 0, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "other", "notes.md", []byte("x")))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleUpload_TooLarge(t *testing.T) {
	ingester := &mockIngester{}
	router := createTestRouter("POST", "/upload", HandleUpload(ingester, 4, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "file", "notes.md", []byte("too large")))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, ingester.data)
}

func TestHandleUpload_IngestFailure(t *testing.T) {
	ingester := &mockIngester{err: &faults.EmbeddingBackendError{Op: "embed_batch", Err: errors.New("down")}}
	router := createTestRouter("POST", "/upload", HandleUpload(ingester, 0, nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "file", "notes.md", []byte("x")))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error": "failed to upload document"}`, w.Body.String())
}

// =============================================================================
// Document Administration Tests
// =============================================================================

type mockDocs struct {
	count     int
	docs      []datatypes.DocumentSummary
	deleteErr error
	deleted   []string
	calledAll bool
	chunksReq datatypes.IndexedChunksRequest
}

func (m *mockDocs) Count(context.Context) (int, error) { return m.count, nil }
func (m *mockDocs) List(context.Context) ([]datatypes.DocumentSummary, error) {
	return m.docs, nil
}
func (m *mockDocs) Chunks(_ context.Context, req datatypes.IndexedChunksRequest) ([]datatypes.IndexedChunk, error) {
	m.chunksReq = req
	if req.Filter == "bad" {
		return nil, &faults.InvalidArgumentError{Field: "filter", Reason: "unexpected end of expression"}
	}
	return []datatypes.IndexedChunk{{ID: "c1", ParentID: "a_md", Filename: "a.md", Title: "A"}}, nil
}
func (m *mockDocs) DeleteAll(context.Context) (*datatypes.DeleteDocumentsResponse, error) {
	m.calledAll = true
	return &datatypes.DeleteDocumentsResponse{Deleted: []string{"a.md"}, Failures: []faults.ItemFailure{}}, nil
}
func (m *mockDocs) Delete(_ context.Context, filenames []string) (*datatypes.DeleteDocumentsResponse, error) {
	m.deleted = filenames
	resp := &datatypes.DeleteDocumentsResponse{Deleted: filenames, Failures: []faults.ItemFailure{}}
	if m.deleteErr != nil {
		resp.Failures = append(resp.Failures, faults.ItemFailure{ID: "b.md", Reason: m.deleteErr.Error()})
	}
	return resp, m.deleteErr
}

func TestHandleDocumentCount(t *testing.T) {
	router := createTestRouter("GET", "/document_count", HandleDocumentCount(&mockDocs{count: 42}))

	w := performRequest(router, "GET", "/document_count", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"count": 42}`, w.Body.String())
}

func TestHandleListDocuments(t *testing.T) {
	docs := &mockDocs{docs: []datatypes.DocumentSummary{{ID: "a_md", Filename: "a.md", Chunks: 2}}}
	router := createTestRouter("GET", "/list_documents", HandleListDocuments(docs))

	w := performRequest(router, "GET", "/list_documents", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"documents": [{"id": "a_md", "filename": "a.md", "chunks": 2}]}`, w.Body.String())
}

func TestHandleListIndexedDocuments(t *testing.T) {
	docs := &mockDocs{}
	router := createTestRouter("GET", "/list_indexed_documents", HandleListIndexedDocuments(docs))

	w := performRequest(router, "GET", "/list_indexed_documents?filter=parent_id+eq+%27a_md%27&order_by=chunk_number+desc&limit=10&offset=5", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, datatypes.IndexedChunksRequest{
		Filter:  "parent_id eq 'a_md'",
		OrderBy: "chunk_number desc",
		Limit:   10,
		Offset:  5,
	}, docs.chunksReq)
	assert.JSONEq(t, `{"documents": [{"id": "c1", "parent_id": "a_md", "filename": "a.md", "title": "A", "chunk_number": 0}]}`, w.Body.String())
}

func TestHandleListIndexedDocuments_BadInput(t *testing.T) {
	router := createTestRouter("GET", "/list_indexed_documents", HandleListIndexedDocuments(&mockDocs{}))

	for _, path := range []string{
		"/list_indexed_documents?filter=bad",
		"/list_indexed_documents?limit=5000",
		"/list_indexed_documents?offset=-1",
		"/list_indexed_documents?limit=ten",
	} {
		w := performRequest(router, "GET", path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestHandleDeleteDocuments_RequiresExplicitSelection(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
	}{
		{"no body", nil},
		{"empty object", "{}"},
		{"empty list", `{"filenames": []}`},
		{"delete_all false", `{"delete_all": false}`},
		{"names with delete_all", `{"filenames": ["a.md"], "delete_all": true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := &mockDocs{}
			router := createTestRouter("POST", "/delete_documents", HandleDeleteDocuments(docs, nil))

			w := performRequest(router, "POST", "/delete_documents", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.False(t, docs.calledAll)
			assert.Nil(t, docs.deleted)
		})
	}
}

func TestHandleDeleteDocuments_DeleteAll(t *testing.T) {
	docs := &mockDocs{}
	router := createTestRouter("POST", "/delete_documents", HandleDeleteDocuments(docs, nil))

	w := performRequest(router, "POST", "/delete_documents", `{"delete_all": true}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, docs.calledAll)
	assert.Nil(t, docs.deleted)
}

func TestHandleDeleteDocuments_Selected(t *testing.T) {
	docs := &mockDocs{}
	router := createTestRouter("POST", "/delete_documents", HandleDeleteDocuments(docs, nil))

	w := performRequest(router, "POST", "/delete_documents", map[string][]string{"filenames": {"a.md"}})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a.md"}, docs.deleted)
}

func TestHandleDeleteDocuments_PartialFailure(t *testing.T) {
	docs := &mockDocs{deleteErr: errors.New("blob locked")}
	router := createTestRouter("POST", "/delete_documents", HandleDeleteDocuments(docs, nil))

	w := performRequest(router, "POST", "/delete_documents", map[string][]string{"filenames": {"a.md", "b.md"}})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var resp datatypes.DeleteDocumentsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "b.md", resp.Failures[0].ID)
}

// =============================================================================
// Session, Health, and Status Tests
// =============================================================================

func TestHandleDeleteSession(t *testing.T) {
	registry := conversation.NewRegistry(0)
	session, _ := registry.GetOrCreate("")
	session.Memory.AppendUser("hi")
	router := createTestRouter("DELETE", "/sessions/:id", HandleDeleteSession(registry, nil))

	w := performRequest(router, "DELETE", "/sessions/"+session.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, session.Memory.Len())
	assert.Equal(t, 0, registry.Len())

	w = performRequest(router, "DELETE", "/sessions/"+session.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthCheck(t *testing.T) {
	router := createTestRouter("GET", "/health", HealthCheck)

	w := performRequest(router, "GET", "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status": "ok"}`, w.Body.String())
}

func TestHandleStatus(t *testing.T) {
	ok := StatusCheck{Name: "index", Check: func(context.Context) error { return nil }}
	down := StatusCheck{Name: "blobs", Check: func(context.Context) error { return errors.New("refused") }}

	router := createTestRouter("GET", "/status", HandleStatus([]StatusCheck{ok}))
	w := performRequest(router, "GET", "/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok", "components": {"index": "ok"}}`, w.Body.String())

	router = createTestRouter("GET", "/status", HandleStatus([]StatusCheck{ok, down}))
	w = performRequest(router, "GET", "/status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status": "degraded", "components": {"index": "ok", "blobs": "unavailable"}}`, w.Body.String())
	assert.NotContains(t, w.Body.String(), "refused")
}

// =============================================================================
// WebSocket Tests
// =============================================================================

func TestHandleQueryWebSocket(t *testing.T) {
	answerer := &MockAnswerer{Reply: "Paris"}
	registry := conversation.NewRegistry(0)
	router := createTestRouter("GET", "/query/ws", HandleQueryWebSocket(answerer, registry, nil))
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/query/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	var hello map[string]string
	require.NoError(t, ws.ReadJSON(&hello))
	assert.Equal(t, "session_created", hello["action"])
	sessionID := hello["session_id"]
	require.NotEmpty(t, sessionID)

	require.NoError(t, ws.WriteJSON(WSQueryRequest{Query: "What is the capital of France?", SearchType: "Vector"}))
	var resp WSQueryResponse
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, "Paris", resp.LLMResponse)
	assert.Equal(t, sessionID, resp.SessionID)
	assert.Empty(t, resp.Error)

	require.NoError(t, ws.WriteJSON(WSQueryRequest{Query: "q", SearchType: "Fuzzy"}))
	resp = WSQueryResponse{}
	require.NoError(t, ws.ReadJSON(&resp))
	assert.NotEmpty(t, resp.Error)
	assert.Equal(t, 1, answerer.Calls)

	require.NoError(t, ws.Close())
	assert.Eventually(t, func() bool { return registry.Len() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHandleQueryWebSocket_QueriesKeepSessionAlive(t *testing.T) {
	answerer := &MockAnswerer{Reply: "Paris"}
	registry := conversation.NewRegistry(0)
	router := createTestRouter("GET", "/query/ws", HandleQueryWebSocket(answerer, registry, nil))
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/query/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	var hello map[string]string
	require.NoError(t, ws.ReadJSON(&hello))
	sessionID := hello["session_id"]
	connected := time.Now()

	for i := 0; i < 3; i++ {
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, ws.WriteJSON(WSQueryRequest{Query: "What is the capital of France?", SearchType: "Vector"}))
		var resp WSQueryResponse
		require.NoError(t, ws.ReadJSON(&resp))
		require.Empty(t, resp.Error)
	}

	// Anything idle since the connection opened would go; this session was
	// used since then.
	assert.Empty(t, registry.EvictIdle(connected.Add(10*time.Millisecond)))
	session, ok := registry.Get(sessionID)
	require.True(t, ok)
	assert.Equal(t, 6, session.Memory.Len())
}

func TestHandleQueryWebSocket_ReregistersExpiredSession(t *testing.T) {
	answerer := &MockAnswerer{Reply: "Paris"}
	registry := conversation.NewRegistry(0)
	router := createTestRouter("GET", "/query/ws", HandleQueryWebSocket(answerer, registry, nil))
	server := httptest.NewServer(router)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/query/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	var hello map[string]string
	require.NoError(t, ws.ReadJSON(&hello))
	sessionID := hello["session_id"]

	require.Equal(t, []string{sessionID}, registry.EvictIdle(time.Now().Add(time.Minute)))

	require.NoError(t, ws.WriteJSON(WSQueryRequest{Query: "What is the capital of France?", SearchType: "Vector"}))
	var resp WSQueryResponse
	require.NoError(t, ws.ReadJSON(&resp))
	assert.Equal(t, sessionID, resp.SessionID)

	session, ok := registry.Get(sessionID)
	require.True(t, ok)
	assert.Equal(t, 2, session.Memory.Len())
}
