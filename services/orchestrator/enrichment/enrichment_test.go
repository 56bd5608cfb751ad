// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package enrichment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedLLM answers by matching a keyword in the prompt.
type scriptedLLM struct {
	mu      sync.Mutex
	replies map[string]string
	fail    map[string]bool
	prompts []string
}

func (s *scriptedLLM) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	for key, reply := range s.replies {
		if strings.Contains(prompt, key) {
			if s.fail[key] {
				return "", errors.New("backend down")
			}
			return reply, nil
		}
	}
	return "", errors.New("unexpected prompt")
}

func newScripted() *scriptedLLM {
	return &scriptedLLM{
		replies: map[string]string{
			"Summarize":   "  Paris is the capital of France. ",
			"language":    `Sure: {"language": "EN"}`,
			"named":       `[{"text": "Paris", "category": "Location", "confidence": 0.95}]`,
			"key phrases": `Here you go: ["capital", " Paris ", ""]`,
		},
		fail: map[string]bool{},
	}
}

func TestAnnotate_AllSucceed(t *testing.T) {
	e := NewLLMEnricher(newScripted())

	a := Annotate(context.Background(), e, "Paris is the capital of France.")

	assert.Equal(t, "Paris is the capital of France.", a.Summary)
	assert.Equal(t, "en", a.Language)
	require.Len(t, a.Entities, 1)
	assert.Equal(t, Entity{Text: "Paris", Category: "Location", Confidence: 0.95}, a.Entities[0])
	assert.Equal(t, []string{"capital", "Paris"}, a.KeyPhrases)
}

func TestAnnotate_FailuresDegrade(t *testing.T) {
	llm := newScripted()
	llm.fail["Summarize"] = true
	llm.fail["named"] = true
	e := NewLLMEnricher(llm)

	a := Annotate(context.Background(), e, "text")

	assert.Equal(t, "", a.Summary)
	assert.Equal(t, "en", a.Language)
	assert.NotNil(t, a.Entities)
	assert.Empty(t, a.Entities)
	assert.Equal(t, []string{"capital", "Paris"}, a.KeyPhrases)
}

func TestAnnotate_MalformedJSONDegrades(t *testing.T) {
	llm := newScripted()
	llm.replies["key phrases"] = "capital, Paris"
	e := NewLLMEnricher(llm)

	a := Annotate(context.Background(), e, "text")

	assert.NotNil(t, a.KeyPhrases)
	assert.Empty(t, a.KeyPhrases)
}

func TestAnnotate_NilAndEmpty(t *testing.T) {
	a := Annotate(context.Background(), nil, "text")
	assert.Equal(t, Annotations{Entities: []Entity{}, KeyPhrases: []string{}}, a)

	llm := newScripted()
	a = Annotate(context.Background(), NewLLMEnricher(llm), "")
	assert.Empty(t, llm.prompts)
	assert.Empty(t, a.Summary)
}

func TestNopEnricher(t *testing.T) {
	a := Annotate(context.Background(), NopEnricher{}, "text")
	assert.Equal(t, Annotations{Entities: []Entity{}, KeyPhrases: []string{}}, a)
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("é", maxEnrichChars+10)
	assert.Len(t, []rune(truncate(long)), maxEnrichChars)
	assert.Equal(t, "short", truncate("short"))
}

func TestDecodeJSON(t *testing.T) {
	var v []string
	require.NoError(t, decodeJSON(`prefix ["a"] suffix`, '[', ']', &v))
	assert.Equal(t, []string{"a"}, v)
	assert.Error(t, decodeJSON("nothing here", '[', ']', &v))
	assert.Error(t, decodeJSON("[not json]", '[', ']', &v))
}
