// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Weaviate returns map[string]models.JSONObject. This marshals the data
// back to JSON and decodes it into T, whose json tags must mirror the
// response shape. GraphQL-level errors are surfaced as an error.
//
// # Example
//
//	resp, err := client.GraphQL().Get().WithClassName(ChunkClass).Do(ctx)
//	if err != nil { ... }
//	parsed, err := ParseGraphQLResponse[ChunkQueryResponse](resp)
//
// # Limitations
//
//   - Type mismatches in optional fields decode to zero values.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Chunk Query Types
// =============================================================================

// FlexFloat decodes a number that Weaviate may send either as a JSON
// number or as a quoted string (hybrid scores are strings).
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", s, err)
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

// ChunkQueryResponse is the shape of Get { Chunk { ... } }.
type ChunkQueryResponse struct {
	Get struct {
		Chunk []ChunkResult `json:"Chunk"`
	} `json:"Get"`
}

// ChunkResult is one chunk as returned by a Get query. Every property is
// optional on the wire.
type ChunkResult struct {
	ChunkID       string   `json:"chunk_id"`
	ParentID      string   `json:"parent_id"`
	Filename      string   `json:"filename"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	PublishedDate string   `json:"published_date"`
	Content       string   `json:"content"`
	KeyPhrases    []string `json:"key_phrases"`
	Summary       string   `json:"summary"`
	ChunkNumber   *int     `json:"chunk_number"`
	Additional    struct {
		ID       string     `json:"id"`
		Score    *FlexFloat `json:"score"`
		Distance *FlexFloat `json:"distance"`
	} `json:"_additional"`
}

// ToRetrievedResult normalizes a raw result, defaulting every absent
// optional field. The score is the hybrid score when present, otherwise
// 1 - distance, otherwise 0.
func (r *ChunkResult) ToRetrievedResult() RetrievedResult {
	id := r.ChunkID
	if id == "" {
		id = r.Additional.ID
	}
	keyPhrases := r.KeyPhrases
	if keyPhrases == nil {
		keyPhrases = []string{}
	}
	chunkNumber := 0
	if r.ChunkNumber != nil {
		chunkNumber = *r.ChunkNumber
	}
	var score float64
	switch {
	case r.Additional.Score != nil:
		score = float64(*r.Additional.Score)
	case r.Additional.Distance != nil:
		score = 1 - float64(*r.Additional.Distance)
	}
	return RetrievedResult{
		ID:            id,
		ParentID:      r.ParentID,
		Filename:      r.Filename,
		Title:         r.Title,
		Author:        r.Author,
		PublishedDate: r.PublishedDate,
		Content:       r.Content,
		KeyPhrases:    keyPhrases,
		Summary:       r.Summary,
		ChunkNumber:   chunkNumber,
		Score:         score,
		Captions:      []Caption{},
	}
}

// =============================================================================
// Aggregate Types
// =============================================================================

// ChunkCountResponse is the shape of Aggregate { Chunk { meta { count } } }.
type ChunkCountResponse struct {
	Aggregate struct {
		Chunk []struct {
			Meta struct {
				Count int `json:"count"`
			} `json:"meta"`
		} `json:"Chunk"`
	} `json:"Aggregate"`
}

// ChunkGroupResponse is the shape of an Aggregate grouped by one property.
type ChunkGroupResponse struct {
	Aggregate struct {
		Chunk []struct {
			GroupedBy struct {
				Value string   `json:"value"`
				Path  []string `json:"path"`
			} `json:"groupedBy"`
			Meta struct {
				Count int `json:"count"`
			} `json:"meta"`
		} `json:"Chunk"`
	} `json:"Aggregate"`
}
