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
	"encoding/json"
	"strings"
	"testing"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Identifier Tests
// =============================================================================

func TestDocumentID_SanitizesFilename(t *testing.T) {
	assert.Equal(t, "Q3_report_md", DocumentID("Q3 report.md"))
	assert.Equal(t, "a-b=c_d", DocumentID("a-b=c_d"))
	assert.Equal(t, "dir_file_txt", DocumentID("dir/file.txt"))
}

// TestChunkID_Deterministic verifies that re-ingestion addresses the same ids.
func TestChunkID_Deterministic(t *testing.T) {
	first := ChunkID("doc_md", 0)
	assert.Equal(t, first, ChunkID("doc_md", 0))
	assert.NotEqual(t, first, ChunkID("doc_md", 1))
	assert.NotEqual(t, first, ChunkID("other_md", 0))

	_, err := uuid.Parse(first)
	assert.NoError(t, err, "chunk id must be a valid UUID for Weaviate")
}

// =============================================================================
// QueryRequest Validation Tests
// =============================================================================

func TestQueryRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     QueryRequest
		wantErr bool
	}{
		{"vector ok", QueryRequest{Query: "hi", SearchType: "Vector"}, false},
		{"hybrid ok", QueryRequest{Query: "hi", SearchType: "Hybrid"}, false},
		{"with session", QueryRequest{Query: "hi", SearchType: "Hybrid", SessionID: uuid.NewString()}, false},
		{"empty query", QueryRequest{Query: "", SearchType: "Vector"}, true},
		{"long query", QueryRequest{Query: strings.Repeat("a", MaxQueryLength+1), SearchType: "Vector"}, true},
		{"max query", QueryRequest{Query: strings.Repeat("a", MaxQueryLength), SearchType: "Vector"}, false},
		{"fuzzy", QueryRequest{Query: "hi", SearchType: "Fuzzy"}, true},
		{"lowercase", QueryRequest{Query: "hi", SearchType: "vector"}, true},
		{"bad session", QueryRequest{Query: "hi", SearchType: "Vector", SessionID: "nope"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, faults.IsInvalidArgument(err), "validation errors must be InvalidArgumentError")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDeleteDocumentsRequest_Validate(t *testing.T) {
	assert.NoError(t, (&DeleteDocumentsRequest{Filenames: []string{"a.md"}}).Validate())
	assert.NoError(t, (&DeleteDocumentsRequest{DeleteAll: true}).Validate())
	assert.Error(t, (&DeleteDocumentsRequest{Filenames: []string{""}}).Validate())

	for name, req := range map[string]*DeleteDocumentsRequest{
		"empty":         {},
		"empty list":    {Filenames: []string{}},
		"names and all": {Filenames: []string{"a.md"}, DeleteAll: true},
	} {
		err := req.Validate()
		require.Error(t, err, name)
		assert.True(t, faults.IsInvalidArgument(err), name)
	}
}

// =============================================================================
// GraphQL Parsing Tests
// =============================================================================

func TestFlexFloat_DecodesStringsAndNumbers(t *testing.T) {
	var v struct {
		A FlexFloat  `json:"a"`
		B FlexFloat  `json:"b"`
		C *FlexFloat `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"0.25","b":0.5,"c":null}`), &v))
	assert.InDelta(t, 0.25, float64(v.A), 1e-12)
	assert.InDelta(t, 0.5, float64(v.B), 1e-12)
	assert.Nil(t, v.C)
}

// TestParseGraphQLResponse_ChunkDefaults verifies that absent optional
// properties default to empty values after normalization.
func TestParseGraphQLResponse_ChunkDefaults(t *testing.T) {
	resp := &models.GraphQLResponse{
		Data: map[string]models.JSONObject{
			"Get": map[string]interface{}{
				"Chunk": []interface{}{
					map[string]interface{}{
						"content":   "Paris is the capital of France.",
						"parent_id": "france_md",
						"_additional": map[string]interface{}{
							"id":    "11111111-1111-1111-1111-111111111111",
							"score": "0.75",
						},
					},
					map[string]interface{}{
						"chunk_id":     "c2",
						"content":      "Lyon.",
						"chunk_number": 3,
						"key_phrases":  []interface{}{"lyon"},
						"_additional": map[string]interface{}{
							"distance": 0.2,
						},
					},
				},
			},
		},
	}

	parsed, err := ParseGraphQLResponse[ChunkQueryResponse](resp)
	require.NoError(t, err)
	require.Len(t, parsed.Get.Chunk, 2)

	first := parsed.Get.Chunk[0].ToRetrievedResult()
	assert.Equal(t, "11111111-1111-1111-1111-111111111111", first.ID, "falls back to the object id")
	assert.Equal(t, "", first.Title)
	assert.Equal(t, []string{}, first.KeyPhrases)
	assert.Equal(t, 0, first.ChunkNumber)
	assert.InDelta(t, 0.75, first.Score, 1e-12)
	assert.NotNil(t, first.Captions)

	second := parsed.Get.Chunk[1].ToRetrievedResult()
	assert.Equal(t, "c2", second.ID)
	assert.Equal(t, 3, second.ChunkNumber)
	assert.Equal(t, []string{"lyon"}, second.KeyPhrases)
	assert.InDelta(t, 0.8, second.Score, 1e-12)
}

func TestParseGraphQLResponse_Errors(t *testing.T) {
	_, err := ParseGraphQLResponse[ChunkQueryResponse](nil)
	assert.Error(t, err)

	_, err = ParseGraphQLResponse[ChunkQueryResponse](&models.GraphQLResponse{
		Errors: []*models.GraphQLError{{Message: "no such class"}},
	})
	assert.ErrorContains(t, err, "no such class")
}

func TestChunk_PropertiesAndResult(t *testing.T) {
	c := &Chunk{ID: "id1", ParentID: "p", Content: "text", ChunkNumber: 2}
	props := c.Properties()
	assert.Equal(t, "p", props["parent_id"])
	assert.Equal(t, []string{}, props["key_phrases"])
	assert.Equal(t, 2, props["chunk_number"])

	r := c.ToResult(0.9)
	assert.Equal(t, "id1", r.ID)
	assert.Equal(t, 0.9, r.Score)
	assert.Equal(t, []string{}, r.KeyPhrases)
}

func TestGetChunkSchema_FilterableParent(t *testing.T) {
	class := GetChunkSchema()
	assert.Equal(t, ChunkClass, class.Class)
	assert.Equal(t, "none", class.Vectorizer)

	names := map[string]*models.Property{}
	for _, p := range class.Properties {
		names[p.Name] = p
	}
	for _, f := range ChunkSelectFields {
		assert.Contains(t, names, f, "select field %s must exist in schema", f)
	}
	require.NotNil(t, names["parent_id"].IndexFilterable)
	assert.True(t, *names["parent_id"].IndexFilterable)
}

func TestGetChunkSchema_FilterableTextMatchesWholeValue(t *testing.T) {
	class := GetChunkSchema()
	for _, p := range class.Properties {
		if p.IndexFilterable == nil || !*p.IndexFilterable || p.DataType[0] != "text" {
			continue
		}
		assert.Equal(t, "field", p.Tokenization, "filterable property %s must compare whole values", p.Name)
	}

	var title *models.Property
	for _, p := range class.Properties {
		if p.Name == "title" {
			title = p
		}
	}
	require.NotNil(t, title)
	require.NotNil(t, title.IndexFilterable)
	assert.True(t, *title.IndexFilterable)
}
