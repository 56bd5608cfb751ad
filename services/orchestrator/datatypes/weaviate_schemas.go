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
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// ChunkClass is the Weaviate class holding document chunks.
const ChunkClass = "Chunk"

// ChunkSelectFields lists the properties returned by every chunk query.
var ChunkSelectFields = []string{
	"chunk_id", "parent_id", "filename", "title", "author", "published_date",
	"content", "key_phrases", "summary", "chunk_number",
}

func GetChunkSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true
	notSearchable := new(bool)

	return &models.Class{
		Class:       ChunkClass,
		Description: "A chunk of an uploaded document with its embedding.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "chunk_id",
				DataType:        []string{"text"},
				Description:     "Stable chunk identifier, equal to the object UUID.",
				IndexFilterable: indexFilterable,
				IndexSearchable: notSearchable,
				Tokenization:    "field",
			},
			{
				Name:            "parent_id",
				DataType:        []string{"text"},
				Description:     "Identifier of the source document (sanitized filename).",
				IndexFilterable: indexFilterable,
				IndexSearchable: notSearchable,
				Tokenization:    "field",
			},
			{
				Name:            "filename",
				DataType:        []string{"text"},
				Description:     "Original uploaded filename.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "title",
				DataType:        []string{"text"},
				Description:     "Document title from front matter.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "author",
				DataType:        []string{"text"},
				Description:     "Document author from front matter.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "published_date",
				DataType:        []string{"text"},
				Description:     "Publication date from front matter.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "The chunk text.",
				Tokenization: "word",
			},
			{
				Name:         "key_phrases",
				DataType:     []string{"text[]"},
				Description:  "Key phrases extracted from the chunk or front matter.",
				Tokenization: "word",
			},
			{
				Name:         "summary",
				DataType:     []string{"text"},
				Description:  "Summary of the chunk or document.",
				Tokenization: "word",
			},
			{
				Name:            "language",
				DataType:        []string{"text"},
				Description:     "Detected language label.",
				IndexFilterable: indexFilterable,
				IndexSearchable: notSearchable,
				Tokenization:    "field",
			},
			{
				Name:            "chunk_number",
				DataType:        []string{"int"},
				Description:     "Order of the chunk within its parent document.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// EnsureWeaviateSchema creates the chunk class if it does not exist.
//
// # Description
//
// Checks for the class with ClassGetter and creates it when the lookup
// fails. Unlike a startup panic, a creation failure is returned so the
// caller can fall back to the in-memory index.
//
// # Inputs
//
//   - ctx: Context for the schema calls.
//   - client: Connected Weaviate client.
//
// # Outputs
//
//   - error: Non-nil if the class is missing and could not be created.
func EnsureWeaviateSchema(ctx context.Context, client *weaviate.Client) error {
	class := GetChunkSchema()
	slog.Info("Checking schema", "class", class.Class)

	if _, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}

	slog.Info("Schema not found, creating it...", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("failed to create schema for class %s: %w", class.Class, err)
	}
	slog.Info("Successfully created schema", "class", class.Class)
	return nil
}
