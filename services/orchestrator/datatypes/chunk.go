// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the indexed Chunk record and the transient
// RetrievedResult produced per query. For HTTP request and response types,
// see query.go.
package datatypes

import (
	"crypto/sha256"
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// =============================================================================
// Chunk
// =============================================================================

// Chunk is a unit of retrievable content with its own embedding.
//
// # Description
//
// One parent document produces N chunks during ingestion. A chunk is
// immutable once indexed; re-ingesting the parent deletes every chunk that
// shares its ParentID and recreates them. Deleting the parent cascades to
// all of its chunks.
//
// # Fields
//
//   - ID: Globally unique. Derived from ParentID and ChunkNumber via ChunkID.
//   - ParentID: Identifies the source document (sanitized filename).
//   - ContentVector: Fixed length for one index generation.
//   - ChunkNumber: Order within the parent, unique per ParentID.
//
// # Assumptions
//
//   - PublishedDate is free-form text taken from front matter (YYYY-MM-DD
//     by convention); it is stored verbatim.
type Chunk struct {
	ID            string    `json:"id"`
	ParentID      string    `json:"parent_id"`
	Filename      string    `json:"filename"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	PublishedDate string    `json:"published_date,omitempty"`
	Content       string    `json:"content"`
	ContentVector []float32 `json:"content_vector,omitempty"`
	KeyPhrases    []string  `json:"key_phrases"`
	Summary       string    `json:"summary"`
	Language      string    `json:"language,omitempty"`
	ChunkNumber   int       `json:"chunk_number"`
}

// Properties returns the chunk as a Weaviate property map.
//
// The vector is not part of the property map; it travels on the object.
func (c *Chunk) Properties() map[string]interface{} {
	keyPhrases := c.KeyPhrases
	if keyPhrases == nil {
		keyPhrases = []string{}
	}
	return map[string]interface{}{
		"chunk_id":       c.ID,
		"parent_id":      c.ParentID,
		"filename":       c.Filename,
		"title":          c.Title,
		"author":         c.Author,
		"published_date": c.PublishedDate,
		"content":        c.Content,
		"key_phrases":    keyPhrases,
		"summary":        c.Summary,
		"language":       c.Language,
		"chunk_number":   c.ChunkNumber,
	}
}

// ToResult converts the chunk into a RetrievedResult carrying score.
func (c *Chunk) ToResult(score float64) RetrievedResult {
	keyPhrases := c.KeyPhrases
	if keyPhrases == nil {
		keyPhrases = []string{}
	}
	return RetrievedResult{
		ID:            c.ID,
		ParentID:      c.ParentID,
		Filename:      c.Filename,
		Title:         c.Title,
		Author:        c.Author,
		PublishedDate: c.PublishedDate,
		Content:       c.Content,
		KeyPhrases:    keyPhrases,
		Summary:       c.Summary,
		ChunkNumber:   c.ChunkNumber,
		Score:         score,
		Captions:      []Caption{},
	}
}

// =============================================================================
// RetrievedResult
// =============================================================================

// Caption is a highlighted snippet attached to a search hit.
type Caption struct {
	Text       string `json:"text"`
	Highlights string `json:"highlights,omitempty"`
}

// RetrievedResult is a chunk annotated with a query-time relevance score.
//
// # Description
//
// Constructed per query by the retrieval client and never persisted.
// Optional fields are always present in JSON: missing strings are "",
// missing lists are [], a missing chunk number is 0. Score is the raw value
// reported by the index; for hybrid queries it is the fused score, for
// vector queries 1 - distance.
type RetrievedResult struct {
	ID            string    `json:"id"`
	ParentID      string    `json:"parent_id"`
	Filename      string    `json:"filename"`
	Title         string    `json:"title"`
	Author        string    `json:"author"`
	PublishedDate string    `json:"published_date"`
	Content       string    `json:"content"`
	KeyPhrases    []string  `json:"key_phrases"`
	Summary       string    `json:"summary"`
	ChunkNumber   int       `json:"chunk_number"`
	Score         float64   `json:"score"`
	Captions      []Caption `json:"captions"`
}

// =============================================================================
// Identifiers
// =============================================================================

var documentIDPattern = regexp.MustCompile(`[^\w\-=]`)

// DocumentID turns a filename into the parent id used for all of its
// chunks. Every character outside [A-Za-z0-9_\-=] becomes an underscore.
//
// # Examples
//
//	DocumentID("Q3 report.md") // "Q3_report_md"
func DocumentID(filename string) string {
	return documentIDPattern.ReplaceAllString(filename, "_")
}

// ChunkID derives a stable UUID for the n-th chunk of a parent document.
//
// # Description
//
// The id is the first 16 bytes of sha256("{parentID}#{n}"), so
// re-ingesting a document addresses the same objects instead of
// accumulating duplicates.
func ChunkID(parentID string, n int) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", parentID, n)))
	id, _ := uuid.FromBytes(hash[:16])
	return id.String()
}
