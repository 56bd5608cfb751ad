// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type batchEmbeddingRequest struct {
	Texts []string `json:"texts"`
}

type batchEmbeddingResponse struct {
	Vectors [][]float32 `json:"vectors"`
	Model   string      `json:"model,omitempty"`
}

// HTTPBackend calls a self-hosted embedding server exposing
// POST {base}/batch_embed.
type HTTPBackend struct {
	httpClient *http.Client
	url        string
	model      string
}

// NewHTTPBackend creates an HTTPBackend. A trailing "/embed" or "/" on
// baseURL is ignored.
func NewHTTPBackend(baseURL, model string) (*HTTPBackend, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("embedding service URL not set")
	}
	base := strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/embed")
	if model == "" {
		model = "default"
	}
	return &HTTPBackend{
		// Batch calls during ingestion can be slow.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		url:        base + "/batch_embed",
		model:      model,
	}, nil
}

// Model implements Backend.
func (h *HTTPBackend) Model() string { return h.model }

// Embed implements Backend.
func (h *HTTPBackend) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	jsonData, err := json.Marshal(batchEmbeddingRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create batch embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call /batch_embed endpoint: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read /batch_embed response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("/batch_embed returned status %d: %s", resp.StatusCode, string(body))
	}

	var batchResp batchEmbeddingResponse
	if err := json.Unmarshal(body, &batchResp); err != nil {
		return nil, fmt.Errorf("failed to decode batch embed response: %w", err)
	}
	return batchResp.Vectors, nil
}

var _ Backend = (*HTTPBackend)(nil)
