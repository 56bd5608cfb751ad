// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianDocQA/services/llm"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/blobstore"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/embeddings"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/prompt"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/retrieval"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/services"
	"github.com/gin-gonic/gin"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// keywordBackend embeds by topic so the in-memory index ranks predictably.
type keywordBackend struct{}

func (keywordBackend) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		switch {
		case strings.Contains(lower, "france") || strings.Contains(lower, "paris"):
			out[i] = []float32{1, 0, 0}
		case strings.Contains(lower, "germany") || strings.Contains(lower, "berlin"):
			out[i] = []float32{0, 1, 0}
		default:
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

func (keywordBackend) Model() string { return "keyword-test" }

// contextEchoLLM answers with the capital found in the prompt's context.
type contextEchoLLM struct{}

func (contextEchoLLM) Generate(_ context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	if strings.Contains(prompt, "Paris is the capital") {
		return "Paris<|eot_id|>", nil
	}
	return "I don't know.<|eot_id|>", nil
}

// newTestDependencies wires the real services over in-memory backends.
func newTestDependencies() Dependencies {
	index := retrieval.NewClient(retrieval.NewMemoryIndex(), retrieval.Config{})
	embedder := embeddings.NewClient(keywordBackend{}, embeddings.NewLRUCache(16, 0), embeddings.Config{})
	blobs := blobstore.NewMemoryStore()
	completer := llm.NewClient(contextEchoLLM{}, llm.ClientConfig{})

	return Dependencies{
		Answerer: services.NewAnswerService(embedder, index, completer,
			prompt.MustNewAssembler(""), nil, services.AnswerConfig{}),
		Ingester:  services.NewIngestService(blobs, embedder, index, nil, nil, services.IngestConfig{}),
		Documents: services.NewDocumentService(blobs, index),
		Sessions:  conversation.NewRegistry(20),
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain; version=0.0.4")
			_, _ = w.Write([]byte("# metrics\n"))
		}),
	}
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersAPI(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newTestDependencies())

	expectedRoutes := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/status"},
		{"GET", "/metrics"},
		{"POST", "/query"},
		{"GET", "/query/ws"},
		{"DELETE", "/sessions/:id"},
		{"POST", "/upload"},
		{"GET", "/document_count"},
		{"GET", "/list_documents"},
		{"POST", "/delete_documents"},
		{"GET", "/list_indexed_documents"},
	}

	routes := router.Routes()
	for _, expected := range expectedRoutes {
		found := false
		for _, r := range routes {
			if r.Method == expected.method && r.Path == expected.path {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected route %s %s not found", expected.method, expected.path)
		}
	}
}

func TestSetupRoutes_HealthEndpoint(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newTestDependencies())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Health endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newTestDependencies())

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Metrics endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get("Content-Type") == "" {
		t.Error("Metrics endpoint should return Content-Type header")
	}
}

func TestSetupRoutes_DefaultMetricsHandler(t *testing.T) {
	deps := newTestDependencies()
	deps.MetricsHandler = nil
	router := gin.New()
	SetupRoutes(router, deps)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Metrics endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
}

// ============================================================================
// End-to-End Tests
// ============================================================================

func TestSetupRoutes_UploadThenQuery(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, newTestDependencies())

	upload := func(filename, content string) int {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		part, _ := mw.CreateFormFile("file", filename)
		_, _ = part.Write([]byte(content))
		_ = mw.Close()
		req, _ := http.NewRequest("POST", "/upload", &buf)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}
	if code := upload("france.md", "Paris is the capital of France."); code != http.StatusOK {
		t.Fatalf("upload france.md returned %d", code)
	}
	if code := upload("germany.md", "Berlin is the capital of Germany."); code != http.StatusOK {
		t.Fatalf("upload germany.md returned %d", code)
	}

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/document_count", nil)
	router.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), `"count":2`) {
		t.Errorf("document_count body = %s, want count 2", w.Body.String())
	}

	body, _ := json.Marshal(map[string]string{
		"query":       "What is the capital of France?",
		"search_type": "Vector",
	})
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/query", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("query returned %d: %s", w.Code, w.Body.String())
	}
	var resp datatypes.QueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode query response: %v", err)
	}
	if resp.LLMResponse != "Paris" {
		t.Errorf("llm_response = %q, want %q", resp.LLMResponse, "Paris")
	}
	if len(resp.SearchResults) == 0 || resp.SearchResults[0].Filename != "france.md" {
		t.Errorf("top result = %+v, want france.md first", resp.SearchResults)
	}
	if resp.SessionID == "" {
		t.Error("expected a session id")
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("DELETE", "/sessions/"+resp.SessionID, nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("delete session returned %d, want %d", w.Code, http.StatusOK)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/list_indexed_documents?filter="+url.QueryEscape("parent_id eq 'germany_md'"), nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("list_indexed_documents returned %d: %s", w.Code, w.Body.String())
	}
	var listed struct {
		Documents []datatypes.IndexedChunk `json:"documents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list_indexed_documents: %v", err)
	}
	if len(listed.Documents) != 1 || listed.Documents[0].Filename != "germany.md" {
		t.Errorf("filtered chunks = %+v, want only germany.md", listed.Documents)
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("POST", "/delete_documents", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("delete_documents with no selection returned %d, want %d", w.Code, http.StatusBadRequest)
	}
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/document_count", nil)
	router.ServeHTTP(w, req)
	if !strings.Contains(w.Body.String(), `"count":2`) {
		t.Errorf("document_count after rejected delete = %s, want count 2", w.Body.String())
	}
}
