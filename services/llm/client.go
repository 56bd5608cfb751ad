// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides language model clients.
//
// # Description
//
// LLMClient is the raw backend contract (prompt in, text out). Client wraps
// any LLMClient with the behavior the answer pipeline relies on: default
// generation parameters, stop-token stripping, chat flattening and typed
// errors. Backends: an OpenAI-compatible completions endpoint, llama.cpp,
// Ollama and the OpenAI chat API.
package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.llm")

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// LLMClient defines the standard interface for any LLM backend.
// Non-success responses should be returned as *faults.LLMBackendError.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, params GenerationParams) (string, error)
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DefaultStopTokens are the Llama 3 end-of-turn markers.
var DefaultStopTokens = []string{"<|eot_id|>", "<|end_of_text|>"}

// DefaultMaxTokens is used when a call passes maxTokens <= 0.
const DefaultMaxTokens = 2000

// ClientConfig holds per-client generation defaults.
type ClientConfig struct {
	// Temperature for every call. nil leaves the backend default.
	Temperature *float32
	// MaxTokens used when a call passes 0. Default: 2000.
	MaxTokens int
	// Stop tokens sent to the backend and stripped from its output.
	// nil selects DefaultStopTokens; an empty non-nil slice disables stripping.
	Stop []string
}

// Client is the language model client used by the answer pipeline.
//
// # Thread Safety
//
// Safe for concurrent use when the backend is.
type Client struct {
	backend LLMClient
	cfg     ClientConfig
}

// NewClient wraps backend with the given defaults.
func NewClient(backend LLMClient, cfg ClientConfig) *Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Stop == nil {
		cfg.Stop = DefaultStopTokens
	}
	return &Client{backend: backend, cfg: cfg}
}

// Complete generates text for a prompt.
//
// # Description
//
// Sends prompt with the configured temperature and stop tokens. Any stop
// token present in the raw output is removed and surrounding whitespace
// trimmed, so callers never see raw stop markers.
//
// # Inputs
//
//   - prompt: The full prompt text.
//   - maxTokens: Generation limit. <= 0 uses the configured default.
//
// # Outputs
//
//   - string: The cleaned generated text.
//   - error: *faults.LLMBackendError. Not retried.
func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	ctx, span := tracer.Start(ctx, "LLMClient.Complete")
	defer span.End()

	if maxTokens <= 0 {
		maxTokens = c.cfg.MaxTokens
	}
	span.SetAttributes(
		attribute.Int("llm.max_tokens", maxTokens),
		attribute.Int("llm.prompt_chars", len(prompt)),
	)

	params := GenerationParams{
		Temperature: c.cfg.Temperature,
		MaxTokens:   &maxTokens,
		Stop:        c.cfg.Stop,
	}
	raw, err := c.backend.Generate(ctx, prompt, params)
	if err != nil {
		var llmErr *faults.LLMBackendError
		if !errors.As(err, &llmErr) {
			err = &faults.LLMBackendError{Err: err}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	return StripStopTokens(raw, c.cfg.Stop), nil
}

// Chat flattens messages into a single prompt ending in an open assistant
// turn and delegates to Complete.
func (c *Client) Chat(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	return c.Complete(ctx, FormatChatPrompt(messages), maxTokens)
}

// StripStopTokens removes every occurrence of each stop token and trims
// surrounding whitespace.
func StripStopTokens(text string, stops []string) string {
	for _, stop := range stops {
		if stop == "" {
			continue
		}
		text = strings.ReplaceAll(text, stop, "")
	}
	return strings.TrimSpace(text)
}

// FormatChatPrompt renders messages in the Llama 3 instruction format.
//
// # Examples
//
//	FormatChatPrompt([]Message{{Role: "user", Content: "hi"}})
//	// <|begin_of_text|><|start_header_id|>user<|end_header_id|>\n\nhi<|eot_id|>
//	// <|start_header_id|>assistant<|end_header_id|>\n\n
func FormatChatPrompt(messages []Message) string {
	var sb strings.Builder
	sb.WriteString("<|begin_of_text|>")
	for _, m := range messages {
		writeHeader(&sb, m.Role)
		sb.WriteString(strings.TrimSpace(m.Content))
		sb.WriteString("<|eot_id|>")
	}
	writeHeader(&sb, "assistant")
	return sb.String()
}

func writeHeader(sb *strings.Builder, role string) {
	sb.WriteString("<|start_header_id|>")
	sb.WriteString(role)
	sb.WriteString("<|end_header_id|>\n\n")
}
