// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompt turns retrieved passages, conversation history, and the
// current question into a single model-ready prompt.
package prompt

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
)

// NoContextSentinel replaces an empty context block. It is still sent to the
// model; retrieval coming back empty does not stop the pipeline.
const NoContextSentinel = "There is no specific context provided from the uploaded documents for the following question."

// promptTemplate lays out the sections in a fixed order: optional system
// preamble, history, context, question.
const promptTemplate = `{{if .System}}{{.System}}

{{end}}Previous conversation:
{{.History}}

Context:
{{.Context}}

Question:
{{.Query}}`

// templateData feeds promptTemplate.
type templateData struct {
	System  string
	History string
	Context string
	Query   string
}

// Assembler builds prompts.
//
// # Thread Safety
//
// Safe for concurrent use; the parsed template is read-only after
// construction.
type Assembler struct {
	tmpl         *template.Template
	systemPrompt string
}

// NewAssembler parses the prompt template.
//
// # Inputs
//
//   - systemPrompt: Optional preamble placed ahead of the history section.
//     Empty omits the preamble entirely.
//
// # Outputs
//
//   - *Assembler: Ready to use.
//   - error: Non-nil only if the built-in template fails to parse.
func NewAssembler(systemPrompt string) (*Assembler, error) {
	tmpl, err := template.New("rag_prompt").Parse(promptTemplate)
	if err != nil {
		slog.Error("NewAssembler: template parsing failed", "error", err)
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &Assembler{tmpl: tmpl, systemPrompt: strings.TrimSpace(systemPrompt)}, nil
}

// MustNewAssembler is NewAssembler for static configuration; it panics on
// a template error.
func MustNewAssembler(systemPrompt string) *Assembler {
	a, err := NewAssembler(systemPrompt)
	if err != nil {
		panic(err)
	}
	return a
}

// Build assembles the prompt for one query.
//
// # Description
//
// The context block is the newline-joined Content of chunks in the order
// given, so retrieval ranking is preserved. When that block is empty or
// whitespace, NoContextSentinel is used instead. History renders as
// "Human:" and "AI:" lines, oldest first; no history renders an empty
// block rather than a placeholder.
//
// # Inputs
//
//   - chunks: Retrieved results in relevance order.
//   - query: The current question.
//   - history: Conversation snapshot, oldest first.
//
// # Outputs
//
//   - string: The prompt.
//
// # Examples
//
//	a.Build(nil, "What is the capital of France?", nil)
//	// Previous conversation:
//	//
//	//
//	// Context:
//	// There is no specific context provided from the uploaded documents ...
//	//
//	// Question:
//	// What is the capital of France?
func (a *Assembler) Build(chunks []datatypes.RetrievedResult, query string, history []conversation.Turn) string {
	data := templateData{
		System:  a.systemPrompt,
		History: RenderHistory(history),
		Context: RenderContext(chunks),
		Query:   query,
	}
	var buf bytes.Buffer
	if err := a.tmpl.Execute(&buf, data); err != nil {
		// Executing a parsed template against a plain struct of strings only
		// fails on writer errors, which bytes.Buffer never returns.
		slog.Error("Prompt template execution failed", "error", err)
		return ""
	}
	return buf.String()
}

// RenderContext joins chunk contents with newlines, falling back to
// NoContextSentinel when nothing but whitespace remains.
func RenderContext(chunks []datatypes.RetrievedResult) string {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Content)
	}
	joined := strings.Join(parts, "\n")
	if strings.TrimSpace(joined) == "" {
		return NoContextSentinel
	}
	return joined
}

// RenderHistory formats turns as "Human: ..." and "AI: ..." lines.
func RenderHistory(history []conversation.Turn) string {
	if len(history) == 0 {
		return ""
	}
	lines := make([]string, 0, len(history))
	for _, t := range history {
		switch t.Role {
		case conversation.RoleUser:
			lines = append(lines, "Human: "+t.Content)
		case conversation.RoleAssistant:
			lines = append(lines, "AI: "+t.Content)
		default:
			lines = append(lines, t.Role+": "+t.Content)
		}
	}
	return strings.Join(lines, "\n")
}
