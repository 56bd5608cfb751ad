// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// maxEnrichChars truncates text before it is sent to the model.
const maxEnrichChars = 4000

// enrichMaxTokens caps each enrichment generation.
const enrichMaxTokens = 256

// Completer is the slice of the LLM client the enricher needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// LLMEnricher asks a language model for each annotation.
//
// Structured annotations are requested as JSON and parsed leniently: the
// first JSON value in the reply is used and surrounding prose ignored.
type LLMEnricher struct {
	llm Completer
}

// NewLLMEnricher creates an enricher backed by llm.
func NewLLMEnricher(llm Completer) *LLMEnricher {
	return &LLMEnricher{llm: llm}
}

func (e *LLMEnricher) Summarize(ctx context.Context, text string) (string, error) {
	prompt := "Summarize the following text in at most two sentences. Reply with the summary only.\n\nText:\n" + truncate(text)
	out, err := e.llm.Complete(ctx, prompt, enrichMaxTokens)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (e *LLMEnricher) DetectLanguage(ctx context.Context, text string) (string, error) {
	prompt := `Identify the language of the following text. Reply with JSON only, like {"language": "en"}, using an ISO 639-1 code.` +
		"\n\nText:\n" + truncate(text)
	out, err := e.llm.Complete(ctx, prompt, 32)
	if err != nil {
		return "", err
	}
	var resp struct {
		Language string `json:"language"`
	}
	if err := decodeJSON(out, '{', '}', &resp); err != nil {
		return "", err
	}
	return strings.ToLower(strings.TrimSpace(resp.Language)), nil
}

func (e *LLMEnricher) ExtractEntities(ctx context.Context, text string) ([]Entity, error) {
	prompt := `List the named entities in the following text. Reply with a JSON array only, like ` +
		`[{"text": "Paris", "category": "Location", "confidence": 0.9}].` +
		"\n\nText:\n" + truncate(text)
	out, err := e.llm.Complete(ctx, prompt, enrichMaxTokens)
	if err != nil {
		return nil, err
	}
	entities := []Entity{}
	if err := decodeJSON(out, '[', ']', &entities); err != nil {
		return nil, err
	}
	return entities, nil
}

func (e *LLMEnricher) ExtractKeyPhrases(ctx context.Context, text string) ([]string, error) {
	prompt := `List up to ten key phrases from the following text. Reply with a JSON array of strings only.` +
		"\n\nText:\n" + truncate(text)
	out, err := e.llm.Complete(ctx, prompt, enrichMaxTokens)
	if err != nil {
		return nil, err
	}
	phrases := []string{}
	if err := decodeJSON(out, '[', ']', &phrases); err != nil {
		return nil, err
	}
	cleaned := phrases[:0]
	for _, p := range phrases {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned, nil
}

var _ Enricher = (*LLMEnricher)(nil)

// decodeJSON unmarshals the span of reply between the first open and the
// last close delimiter.
func decodeJSON(reply string, open, close byte, v interface{}) error {
	start := strings.IndexByte(reply, open)
	end := strings.LastIndexByte(reply, close)
	if start < 0 || end < start {
		return fmt.Errorf("no JSON value in model reply")
	}
	if err := json.Unmarshal([]byte(reply[start:end+1]), v); err != nil {
		return fmt.Errorf("parse model reply: %w", err)
	}
	return nil
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxEnrichChars {
		return text
	}
	return string(runes[:maxEnrichChars])
}
