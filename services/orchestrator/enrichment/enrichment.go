// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package enrichment annotates ingested text with a summary, language,
// entities and key phrases.
//
// # Description
//
// Enrichment is best effort. Annotate never fails: each annotation that
// errors is logged and left empty so ingestion proceeds without it.
package enrichment

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Entity is a named entity found in text.
type Entity struct {
	Text       string  `json:"text"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// Enricher produces annotations for one piece of text.
type Enricher interface {
	Summarize(ctx context.Context, text string) (string, error)
	DetectLanguage(ctx context.Context, text string) (string, error)
	ExtractEntities(ctx context.Context, text string) ([]Entity, error)
	ExtractKeyPhrases(ctx context.Context, text string) ([]string, error)
}

// Annotations is the combined output of Annotate. Failed fields are empty.
type Annotations struct {
	Summary    string
	Language   string
	Entities   []Entity
	KeyPhrases []string
}

// Annotate runs the four enrichments concurrently.
//
// # Description
//
// Each enrichment runs in its own goroutine. A failing enrichment logs a
// warning and leaves its field at the zero value; the others are
// unaffected. Slices in the result are never nil.
//
// # Inputs
//
//   - ctx: Cancels in-flight enrichment calls.
//   - e: The enricher. nil yields empty annotations.
//   - text: Text to annotate.
//
// # Outputs
//
//   - Annotations: Always returned.
func Annotate(ctx context.Context, e Enricher, text string) Annotations {
	out := Annotations{Entities: []Entity{}, KeyPhrases: []string{}}
	if e == nil || text == "" {
		return out
	}

	start := time.Now()
	var g errgroup.Group
	g.Go(func() error {
		summary, err := e.Summarize(ctx, text)
		if degrade("summarize", err) {
			out.Summary = summary
		}
		return nil
	})
	g.Go(func() error {
		lang, err := e.DetectLanguage(ctx, text)
		if degrade("detect_language", err) {
			out.Language = lang
		}
		return nil
	})
	g.Go(func() error {
		entities, err := e.ExtractEntities(ctx, text)
		if degrade("extract_entities", err) && entities != nil {
			out.Entities = entities
		}
		return nil
	})
	g.Go(func() error {
		phrases, err := e.ExtractKeyPhrases(ctx, text)
		if degrade("extract_key_phrases", err) && phrases != nil {
			out.KeyPhrases = phrases
		}
		return nil
	})
	_ = g.Wait()

	slog.Debug("Enrichment finished", "duration_ms", time.Since(start).Milliseconds(),
		"language", out.Language, "key_phrases", len(out.KeyPhrases))
	return out
}

// degrade logs err and reports whether the result should be kept.
func degrade(op string, err error) bool {
	if err == nil {
		return true
	}
	slog.Warn("Enrichment failed, continuing without it", "op", op, "error", err)
	return false
}

// NopEnricher returns empty annotations. It is used when enrichment is
// disabled.
type NopEnricher struct{}

func (NopEnricher) Summarize(context.Context, string) (string, error)      { return "", nil }
func (NopEnricher) DetectLanguage(context.Context, string) (string, error) { return "", nil }
func (NopEnricher) ExtractEntities(context.Context, string) ([]Entity, error) {
	return []Entity{}, nil
}
func (NopEnricher) ExtractKeyPhrases(context.Context, string) ([]string, error) {
	return []string{}, nil
}

var _ Enricher = NopEnricher{}
