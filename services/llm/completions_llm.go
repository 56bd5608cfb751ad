// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/awnumar/memguard"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CompletionsClient talks to an OpenAI-compatible text completions endpoint
// such as a hosted Llama 3 deployment or vLLM.
//
// The API key is sealed in a memguard Enclave and only opened into locked
// memory while a request header is built.
type CompletionsClient struct {
	httpClient *http.Client
	url        string
	apiKey     *memguard.Enclave
	model      string
}

type completionsRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type completionsResponse struct {
	Choices []struct {
		Text         string `json:"text"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// NewCompletionsClient creates a CompletionsClient. endpoint may be the full
// completions URL or a base URL; "/v1/completions" is appended to the latter.
func NewCompletionsClient(endpoint, apiKey, model string) (*CompletionsClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("completions endpoint not set")
	}
	endpoint = strings.TrimSuffix(endpoint, "/")
	if !strings.HasSuffix(endpoint, "/completions") {
		endpoint += "/v1/completions"
	}
	slog.Info("Initializing completions client", "url", endpoint, "model", model, "api_key_set", apiKey != "")
	c := &CompletionsClient{
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		url:        endpoint,
		model:      model,
	}
	if apiKey != "" {
		c.apiKey = memguard.NewEnclave([]byte(apiKey))
	}
	return c, nil
}

// authHeaders returns the Authorization header, or none without a key.
func (c *CompletionsClient) authHeaders() (map[string]string, error) {
	headers := map[string]string{}
	if c.apiKey == nil {
		return headers, nil
	}
	key, err := c.apiKey.Open()
	if err != nil {
		return nil, fmt.Errorf("open API key enclave: %w", err)
	}
	defer key.Destroy()
	headers["Authorization"] = "Bearer " + key.String()
	return headers, nil
}

// Generate implements the LLMClient interface
func (c *CompletionsClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	ctx, span := tracer.Start(ctx, "CompletionsClient.Generate")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model))

	payload := completionsRequest{
		Model:       c.model,
		Prompt:      prompt,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		MaxTokens:   params.MaxTokens,
		Stop:        params.Stop,
	}
	headers, err := c.authHeaders()
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	body, err := postJSON(ctx, c.httpClient, c.url, headers, payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var resp completionsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to parse completions response: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completions endpoint returned no choices")
	}
	return resp.Choices[0].Text, nil
}

var _ LLMClient = (*CompletionsClient)(nil)
