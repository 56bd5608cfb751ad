// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/blobstore"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/embeddings"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/enrichment"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/retrieval"
	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var ingestTracer = otel.Tracer("aleutian.orchestrator.services.ingest")

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 100

	// defaultEnrichConcurrency bounds chunks annotated at once. Each
	// annotation already fans out four enrichment calls.
	defaultEnrichConcurrency = 4

	frontMatterDelimiter = "---\n"
)

var (
	defaultSeparators  = []string{"\n\n", "\n", " ", ""}
	markdownSeparators = []string{
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n##### ", "\n###### ",
		"\n\n", "\n", " ", "",
	}
)

// =============================================================================
// Interfaces
// =============================================================================

// BatchEmbedder embeds ingestion batches. Satisfied by *embeddings.Client.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// DocumentIndex is the slice of the retrieval client used for document
// administration. Satisfied by *retrieval.Client.
type DocumentIndex interface {
	Upsert(ctx context.Context, chunks []datatypes.Chunk) error
	DeleteDocument(ctx context.Context, parentID string) (retrieval.DeleteResult, error)
	DeleteAll(ctx context.Context) (retrieval.DeleteResult, error)
	Count(ctx context.Context) (int, error)
	ListDocuments(ctx context.Context) ([]datatypes.DocumentSummary, error)
	Query(ctx context.Context, q retrieval.IndexQuery) ([]datatypes.RetrievedResult, error)
}

// =============================================================================
// Front Matter
// =============================================================================

// FrontMatter is the optional YAML header of an uploaded document.
type FrontMatter struct {
	Title         string   `yaml:"title"`
	PublishedDate string   `yaml:"published_date"`
	Author        string   `yaml:"author"`
	KeyPhrases    []string `yaml:"key_phrases"`
	Summary       string   `yaml:"summary"`
}

// ParseFrontMatter splits a document into its YAML header and body.
//
// # Description
//
// A header is present when the text starts with "---\n" and contains a
// second "---\n". Text without a header is returned whole with an empty
// FrontMatter.
//
// # Outputs
//
//   - FrontMatter: Decoded header fields.
//   - string: The body after the closing delimiter.
//   - error: *faults.InvalidArgumentError when the header is not valid YAML.
func ParseFrontMatter(text string) (FrontMatter, string, error) {
	var fm FrontMatter
	parts := strings.SplitN(text, frontMatterDelimiter, 3)
	if len(parts) < 3 || strings.TrimSpace(parts[0]) != "" {
		return fm, text, nil
	}
	if err := yaml.Unmarshal([]byte(parts[1]), &fm); err != nil {
		return fm, text, &faults.InvalidArgumentError{
			Field:  "front_matter",
			Reason: err.Error(),
		}
	}
	return fm, parts[2], nil
}

// =============================================================================
// IngestService
// =============================================================================

// IngestConfig tunes an IngestService.
type IngestConfig struct {
	// ChunkSize is the splitter's target chunk length. Default: 1000.
	ChunkSize int
	// ChunkOverlap is shared between neighbouring chunks. Values at or
	// above ChunkSize fall back to a tenth of it.
	ChunkOverlap int
	// EnrichConcurrency bounds concurrent chunk annotation. Default: 4.
	EnrichConcurrency int
}

// IngestResult describes one ingested document.
type IngestResult struct {
	DocumentID string
	Filename   string
	Chunks     int
}

// IngestService turns uploaded files into indexed chunks.
type IngestService struct {
	blobs    blobstore.Store
	embedder BatchEmbedder
	index    DocumentIndex
	enricher enrichment.Enricher
	metrics  *observability.RAGMetrics
	cfg      IngestConfig
}

// NewIngestService creates an IngestService. enricher and metrics may be nil.
func NewIngestService(
	blobs blobstore.Store,
	embedder BatchEmbedder,
	index DocumentIndex,
	enricher enrichment.Enricher,
	metrics *observability.RAGMetrics,
	cfg IngestConfig,
) *IngestService {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if cfg.EnrichConcurrency <= 0 {
		cfg.EnrichConcurrency = defaultEnrichConcurrency
	}
	return &IngestService{
		blobs:    blobs,
		embedder: embedder,
		index:    index,
		enricher: enricher,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// Ingest stores, splits, enriches, embeds, and indexes one document.
//
// # Description
//
// The raw bytes go to the blob store first. The body is split with a
// recursive character splitter (markdown-aware for .md files); each chunk
// is annotated, embedded in batches of at most embeddings.MaxBatchSize, and
// upserted. Chunks of a previous upload of the same filename are deleted
// only after the new vectors exist, so a failed re-upload leaves the old
// version searchable.
//
// Front matter values win over enrichment: a document with a summary in
// its header keeps that summary on every chunk.
//
// # Inputs
//
//   - filename: Original file name. Its sanitized form is the document id.
//   - data: UTF-8 text.
//
// # Outputs
//
//   - *IngestResult: Document id and chunk count.
//   - error: *faults.InvalidArgumentError for empty names, non-UTF-8 data,
//     or malformed front matter; otherwise the backend error.
func (s *IngestService) Ingest(ctx context.Context, filename string, data []byte) (*IngestResult, error) {
	ctx, span := ingestTracer.Start(ctx, "IngestService.Ingest")
	defer span.End()
	span.SetAttributes(
		attribute.String("document.filename", filename),
		attribute.Int("document.bytes", len(data)),
	)

	result, err := s.ingest(ctx, filename, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Ingestion failed", "filename", filename, "error", err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("document.chunks", result.Chunks))
	return result, nil
}

func (s *IngestService) ingest(ctx context.Context, filename string, data []byte) (*IngestResult, error) {
	if strings.TrimSpace(filename) == "" {
		return nil, &faults.InvalidArgumentError{Field: "filename", Reason: "must not be empty"}
	}
	if !utf8.Valid(data) {
		return nil, &faults.InvalidArgumentError{Field: "file", Reason: "must be UTF-8 text"}
	}

	fm, body, err := ParseFrontMatter(string(data))
	if err != nil {
		return nil, err
	}

	if err := s.blobs.Put(ctx, filename, data); err != nil {
		return nil, fmt.Errorf("store blob %s: %w", filename, err)
	}

	parentID := datatypes.DocumentID(filename)
	texts, err := s.splitterFor(filename).SplitText(body)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", filename, err)
	}
	slog.Info("Split document into chunks", "filename", filename, "chunk_count", len(texts))

	chunks := make([]datatypes.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = datatypes.Chunk{
			ID:            datatypes.ChunkID(parentID, i),
			ParentID:      parentID,
			Filename:      filename,
			Title:         fm.Title,
			Author:        fm.Author,
			PublishedDate: fm.PublishedDate,
			Content:       text,
			KeyPhrases:    fm.KeyPhrases,
			Summary:       fm.Summary,
			ChunkNumber:   i,
		}
	}

	if err := s.enrich(ctx, chunks); err != nil {
		return nil, err
	}
	if err := s.embed(ctx, chunks); err != nil {
		return nil, err
	}

	if _, err := s.index.DeleteDocument(ctx, parentID); err != nil {
		return nil, err
	}
	if len(chunks) > 0 {
		if err := s.index.Upsert(ctx, chunks); err != nil {
			return nil, err
		}
	}
	s.metrics.AddIngestedChunks(len(chunks))

	slog.Info("Successfully processed document", "filename", filename,
		"document_id", parentID, "chunks_processed", len(chunks))
	return &IngestResult{DocumentID: parentID, Filename: filename, Chunks: len(chunks)}, nil
}

func (s *IngestService) splitterFor(filename string) textsplitter.TextSplitter {
	separators := defaultSeparators
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".md", ".markdown":
		separators = markdownSeparators
	}
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(s.cfg.ChunkSize),
		textsplitter.WithChunkOverlap(s.cfg.ChunkOverlap),
		textsplitter.WithSeparators(separators),
	)
}

// enrich annotates chunks in place. Annotation failures degrade inside
// enrichment.Annotate; only cancellation stops ingestion here.
func (s *IngestService) enrich(ctx context.Context, chunks []datatypes.Chunk) error {
	if s.enricher == nil {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.EnrichConcurrency)
	for i := range chunks {
		c := &chunks[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ann := enrichment.Annotate(gctx, s.enricher, c.Content)
			if c.Summary == "" {
				c.Summary = ann.Summary
			}
			if len(c.KeyPhrases) == 0 {
				c.KeyPhrases = ann.KeyPhrases
			}
			c.Language = ann.Language
			return nil
		})
	}
	return g.Wait()
}

// embed fills ContentVector in batches the embedding client accepts.
func (s *IngestService) embed(ctx context.Context, chunks []datatypes.Chunk) error {
	for start := 0; start < len(chunks); start += embeddings.MaxBatchSize {
		end := min(start+embeddings.MaxBatchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}
		vectors, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return err
		}
		if len(vectors) != len(texts) {
			return &faults.EmbeddingBackendError{
				Op:  "embed_batch",
				Err: fmt.Errorf("backend returned %d vectors for %d texts", len(vectors), len(texts)),
			}
		}
		for i, v := range vectors {
			chunks[start+i].ContentVector = v
		}
	}
	return nil
}
