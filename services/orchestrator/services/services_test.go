// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"github.com/AleutianAI/AleutianDocQA/services/llm"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/blobstore"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/enrichment"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/prompt"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/retrieval"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mocks
// =============================================================================

// keywordEmbedder maps texts to fixed vectors by the country they mention.
type keywordEmbedder struct {
	mu         sync.Mutex
	calls      int
	batchCalls int
	err        error
}

func keywordVector(text string) []float32 {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "france") || strings.Contains(t, "paris"):
		return []float32{1, 0, 0}
	case strings.Contains(t, "germany") || strings.Contains(t, "berlin"):
		return []float32{0, 1, 0}
	case strings.Contains(t, "japan") || strings.Contains(t, "tokyo"):
		return []float32{0, 0, 1}
	}
	return []float32{0.2, 0.2, 0.2}
}

func (k *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls++
	if k.err != nil {
		return nil, k.err
	}
	return keywordVector(text), nil
}

func (k *keywordEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.batchCalls++
	if k.err != nil {
		return nil, k.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = keywordVector(t)
	}
	return out, nil
}

// countingSearcher wraps a Searcher and counts calls.
type countingSearcher struct {
	inner Searcher
	calls int
}

func (c *countingSearcher) Search(ctx context.Context, mode retrieval.Mode, text string, vector []float32, topK int) ([]datatypes.RetrievedResult, error) {
	c.calls++
	return c.inner.Search(ctx, mode, text, vector, topK)
}

// scriptedBackend implements llm.LLMClient.
type scriptedBackend struct {
	reply      string
	err        error
	calls      int
	lastPrompt string
}

func (s *scriptedBackend) Generate(_ context.Context, p string, _ llm.GenerationParams) (string, error) {
	s.calls++
	s.lastPrompt = p
	return s.reply, s.err
}

type answerFixture struct {
	svc      *AnswerService
	embedder *keywordEmbedder
	searcher *countingSearcher
	backend  *scriptedBackend
	metrics  *observability.RAGMetrics
}

func newAnswerFixture(t *testing.T) *answerFixture {
	t.Helper()
	client := retrieval.NewClient(retrieval.NewMemoryIndex(), retrieval.Config{})
	chunks := []datatypes.Chunk{
		countryChunk("france.md", "Paris is the capital of France."),
		countryChunk("germany.md", "Berlin is the capital of Germany."),
		countryChunk("japan.md", "Tokyo is the capital of Japan."),
	}
	require.NoError(t, client.Upsert(context.Background(), chunks))

	f := &answerFixture{
		embedder: &keywordEmbedder{},
		searcher: &countingSearcher{inner: client},
		backend:  &scriptedBackend{reply: "Paris is the capital of France.<|eot_id|>"},
		metrics:  observability.NewRAGMetrics(prometheus.NewRegistry()),
	}
	f.svc = NewAnswerService(
		f.embedder,
		f.searcher,
		llm.NewClient(f.backend, llm.ClientConfig{}),
		prompt.MustNewAssembler(""),
		f.metrics,
		AnswerConfig{TopK: 2},
	)
	return f
}

func countryChunk(filename, content string) datatypes.Chunk {
	parent := datatypes.DocumentID(filename)
	return datatypes.Chunk{
		ID:            datatypes.ChunkID(parent, 0),
		ParentID:      parent,
		Filename:      filename,
		Content:       content,
		ContentVector: keywordVector(content),
	}
}

// =============================================================================
// AnswerService
// =============================================================================

func TestAnswer_EndToEnd(t *testing.T) {
	f := newAnswerFixture(t)
	memory := conversation.NewMemory(0)

	res, err := f.svc.Answer(context.Background(), memory, "What is the capital of France?", "Vector")
	require.NoError(t, err)

	assert.Equal(t, "Paris is the capital of France.", res.Answer)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "france.md", res.Results[0].Filename)
	assert.Equal(t, []Stage{
		StageEmbedding, StageRetrieving, StagePrompting, StageGenerating, StageRecording, StageDone,
	}, res.Stages)

	assert.Contains(t, f.backend.lastPrompt, "Context:\nParis is the capital of France.")
	assert.True(t, strings.HasSuffix(f.backend.lastPrompt, "Question:\nWhat is the capital of France?"))

	assert.Equal(t, []conversation.Turn{
		{Role: conversation.RoleUser, Content: "What is the capital of France?"},
		{Role: conversation.RoleAssistant, Content: "Paris is the capital of France."},
	}, memory.History())
}

func TestAnswer_SecondTurnCarriesHistory(t *testing.T) {
	f := newAnswerFixture(t)
	memory := conversation.NewMemory(0)

	_, err := f.svc.Answer(context.Background(), memory, "What is the capital of France?", "Hybrid")
	require.NoError(t, err)
	_, err = f.svc.Answer(context.Background(), memory, "And of Japan?", "Hybrid")
	require.NoError(t, err)

	assert.Contains(t, f.backend.lastPrompt,
		"Previous conversation:\nHuman: What is the capital of France?\nAI: Paris is the capital of France.\n")
	assert.Equal(t, 4, memory.Len())
}

func TestAnswer_UnknownModeMakesNoCalls(t *testing.T) {
	f := newAnswerFixture(t)
	memory := conversation.NewMemory(0)

	res, err := f.svc.Answer(context.Background(), memory, "What is the capital of France?", "Fuzzy")

	assert.Nil(t, res)
	assert.True(t, faults.IsInvalidArgument(err))
	assert.Equal(t, 0, f.embedder.calls)
	assert.Equal(t, 0, f.searcher.calls)
	assert.Equal(t, 0, f.backend.calls)
	assert.Equal(t, 0, memory.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StageFailuresTotal.WithLabelValues("validating")))
}

func TestAnswer_BlankQuery(t *testing.T) {
	f := newAnswerFixture(t)

	_, err := f.svc.Answer(context.Background(), nil, "   ", "Vector")

	var argErr *faults.InvalidArgumentError
	require.ErrorAs(t, err, &argErr)
	assert.Equal(t, "query", argErr.Field)
	assert.Equal(t, 0, f.embedder.calls)
}

func TestAnswer_EmbeddingFailureSurfacesUnchanged(t *testing.T) {
	f := newAnswerFixture(t)
	embedErr := &faults.EmbeddingBackendError{Op: "embed", Err: errors.New("timeout")}
	f.embedder.err = embedErr
	memory := conversation.NewMemory(0)

	_, err := f.svc.Answer(context.Background(), memory, "What is the capital of France?", "Vector")

	assert.Same(t, embedErr, err)
	assert.Equal(t, 0, f.searcher.calls)
	assert.Equal(t, 0, memory.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StageFailuresTotal.WithLabelValues("embedding")))
}

func TestAnswer_LLMFailureLeavesMemoryUntouched(t *testing.T) {
	f := newAnswerFixture(t)
	backendErr := &faults.LLMBackendError{Status: 503, Body: "overloaded"}
	f.backend.err = backendErr
	memory := conversation.NewMemory(0)

	_, err := f.svc.Answer(context.Background(), memory, "What is the capital of France?", "Vector")

	var llmErr *faults.LLMBackendError
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, 503, llmErr.Status)
	assert.Equal(t, 0, memory.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StageFailuresTotal.WithLabelValues("generating")))
}

func TestAnswer_NoContextUsesSentinel(t *testing.T) {
	embedder := &keywordEmbedder{}
	backend := &scriptedBackend{reply: "I don't know."}
	svc := NewAnswerService(
		embedder,
		retrieval.NewClient(retrieval.NewMemoryIndex(), retrieval.Config{}),
		llm.NewClient(backend, llm.ClientConfig{}),
		prompt.MustNewAssembler(""),
		nil,
		AnswerConfig{},
	)

	res, err := svc.Answer(context.Background(), nil, "What is the capital of France?", "Vector")
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Contains(t, backend.lastPrompt, prompt.NoContextSentinel)
}

// =============================================================================
// Front Matter
// =============================================================================

func TestParseFrontMatter(t *testing.T) {
	text := "---\ntitle: Capitals\npublished_date: 2024-03-01\nauthor: Ada\nkey_phrases:\n  - capital\n  - europe\nsummary: A list.\n---\nParis is the capital of France."

	fm, body, err := ParseFrontMatter(text)
	require.NoError(t, err)
	assert.Equal(t, "Capitals", fm.Title)
	assert.Equal(t, "2024-03-01", fm.PublishedDate)
	assert.Equal(t, "Ada", fm.Author)
	assert.Equal(t, []string{"capital", "europe"}, fm.KeyPhrases)
	assert.Equal(t, "A list.", fm.Summary)
	assert.Equal(t, "Paris is the capital of France.", body)
}

func TestParseFrontMatter_Absent(t *testing.T) {
	for _, text := range []string{
		"Just text.",
		"Intro\n---\nnot: header\n---\nrest",
		"---\nunterminated",
	} {
		fm, body, err := ParseFrontMatter(text)
		require.NoError(t, err)
		assert.Equal(t, FrontMatter{}, fm)
		assert.Equal(t, text, body)
	}
}

func TestParseFrontMatter_Malformed(t *testing.T) {
	_, _, err := ParseFrontMatter("---\ntitle: [unclosed\n---\nbody")
	assert.True(t, faults.IsInvalidArgument(err))
}

// =============================================================================
// IngestService / DocumentService
// =============================================================================

// stubEnricher returns fixed annotations.
type stubEnricher struct {
	enrichment.NopEnricher
}

func (stubEnricher) Summarize(context.Context, string) (string, error) { return "auto summary", nil }
func (stubEnricher) DetectLanguage(context.Context, string) (string, error) {
	return "en", nil
}
func (stubEnricher) ExtractKeyPhrases(context.Context, string) ([]string, error) {
	return []string{"auto"}, nil
}

type ingestFixture struct {
	ingest   *IngestService
	docs     *DocumentService
	blobs    *blobstore.MemoryStore
	index    *retrieval.Client
	embedder *keywordEmbedder
}

func newIngestFixture(t *testing.T, cfg IngestConfig) *ingestFixture {
	t.Helper()
	f := &ingestFixture{
		blobs:    blobstore.NewMemoryStore(),
		index:    retrieval.NewClient(retrieval.NewMemoryIndex(), retrieval.Config{}),
		embedder: &keywordEmbedder{},
	}
	f.ingest = NewIngestService(f.blobs, f.embedder, f.index, stubEnricher{}, nil, cfg)
	f.docs = NewDocumentService(f.blobs, f.index)
	return f
}

func TestIngest_StoresChunksAndBlob(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{})
	ctx := context.Background()
	data := []byte("---\ntitle: France\nsummary: About France.\n---\nParis is the capital of France.")

	res, err := f.ingest.Ingest(ctx, "france notes.md", data)
	require.NoError(t, err)
	assert.Equal(t, "france_notes_md", res.DocumentID)
	assert.Equal(t, 1, res.Chunks)

	ok, err := f.blobs.Exists(ctx, "france notes.md")
	require.NoError(t, err)
	assert.True(t, ok)

	results, err := f.index.VectorSearch(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "France", results[0].Title)
	assert.Equal(t, "About France.", results[0].Summary, "front matter wins over enrichment")
	assert.Equal(t, []string{"auto"}, results[0].KeyPhrases)
	assert.Equal(t, "Paris is the capital of France.", results[0].Content)
}

func TestIngest_ReuploadReplacesChunks(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{ChunkSize: 40, ChunkOverlap: 0})
	ctx := context.Background()
	long := strings.Repeat("Paris is the capital of France. ", 6)

	first, err := f.ingest.Ingest(ctx, "france.txt", []byte(long))
	require.NoError(t, err)
	require.Greater(t, first.Chunks, 1)

	second, err := f.ingest.Ingest(ctx, "france.txt", []byte("Paris only."))
	require.NoError(t, err)
	assert.Equal(t, 1, second.Chunks)

	count, err := f.docs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestIngest_RejectsBadInput(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{})

	_, err := f.ingest.Ingest(context.Background(), "", []byte("x"))
	assert.True(t, faults.IsInvalidArgument(err))

	_, err = f.ingest.Ingest(context.Background(), "bin.dat", []byte{0xff, 0xfe, 0xfd})
	assert.True(t, faults.IsInvalidArgument(err))
	assert.Equal(t, 0, f.embedder.batchCalls)
}

func TestIngest_EmbeddingFailureKeepsOldVersion(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{})
	ctx := context.Background()
	_, err := f.ingest.Ingest(ctx, "france.md", []byte("Paris is the capital of France."))
	require.NoError(t, err)

	f.embedder.err = &faults.EmbeddingBackendError{Op: "embed_batch", Err: errors.New("down")}
	_, err = f.ingest.Ingest(ctx, "france.md", []byte("Lyon is in France."))
	var embedErr *faults.EmbeddingBackendError
	require.ErrorAs(t, err, &embedErr)

	count, err := f.docs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDocuments_ListAndDeleteSelected(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{})
	ctx := context.Background()
	for name, body := range map[string]string{
		"france.md":  "Paris is the capital of France.",
		"germany.md": "Berlin is the capital of Germany.",
	} {
		_, err := f.ingest.Ingest(ctx, name, []byte(body))
		require.NoError(t, err)
	}

	docs, err := f.docs.List(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	resp, err := f.docs.Delete(ctx, []string{"france.md", "missing.md"})
	require.NoError(t, err)
	assert.Equal(t, []string{"france.md", "missing.md"}, resp.Deleted)
	assert.Equal(t, 1, resp.Chunks)
	assert.Empty(t, resp.Failures)

	ok, err := f.blobs.Exists(ctx, "france.md")
	require.NoError(t, err)
	assert.False(t, ok)
	count, err := f.docs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDocuments_DeleteAll(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{})
	ctx := context.Background()
	_, err := f.ingest.Ingest(ctx, "france.md", []byte("Paris is the capital of France."))
	require.NoError(t, err)
	_, err = f.ingest.Ingest(ctx, "japan.md", []byte("Tokyo is the capital of Japan."))
	require.NoError(t, err)

	resp, err := f.docs.Delete(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Deleted)
	count, err := f.docs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "an empty list deletes nothing")

	resp, err = f.docs.DeleteAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"france.md", "japan.md"}, resp.Deleted)
	ok, err := f.blobs.Exists(ctx, "japan.md")
	require.NoError(t, err)
	assert.False(t, ok)

	count, err = f.docs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDocuments_ChunksFiltersAndOrders(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{})
	ctx := context.Background()
	for _, name := range []string{"france.md", "germany.md", "japan.md"} {
		_, err := f.ingest.Ingest(ctx, name, []byte("Capital city notes for "+name))
		require.NoError(t, err)
	}

	chunks, err := f.docs.Chunks(ctx, datatypes.IndexedChunksRequest{Filter: "parent_id eq 'germany_md'"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "germany.md", chunks[0].Filename)
	assert.Equal(t, "germany_md", chunks[0].ParentID)

	chunks, err = f.docs.Chunks(ctx, datatypes.IndexedChunksRequest{OrderBy: "filename desc", Limit: 2})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "japan.md", chunks[0].Filename)
	assert.Equal(t, "germany.md", chunks[1].Filename)

	chunks, err = f.docs.Chunks(ctx, datatypes.IndexedChunksRequest{OrderBy: "filename", Offset: 2})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "japan.md", chunks[0].Filename)
}

func TestDocuments_ChunksRejectsMalformedExpressions(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{})
	ctx := context.Background()

	_, err := f.docs.Chunks(ctx, datatypes.IndexedChunksRequest{Filter: "colour eq 'red'"})
	assert.True(t, faults.IsInvalidArgument(err))

	_, err = f.docs.Chunks(ctx, datatypes.IndexedChunksRequest{OrderBy: "filename sideways"})
	assert.True(t, faults.IsInvalidArgument(err))
}

// failingBlobs fails deletes for one key.
type failingBlobs struct {
	*blobstore.MemoryStore
	failKey string
}

func (f *failingBlobs) Delete(ctx context.Context, key string) error {
	if key == f.failKey {
		return errors.New("permission denied")
	}
	return f.MemoryStore.Delete(ctx, key)
}

func TestDocuments_DeleteCollectsEveryFailure(t *testing.T) {
	f := newIngestFixture(t, IngestConfig{})
	ctx := context.Background()
	_, err := f.ingest.Ingest(ctx, "france.md", []byte("Paris is the capital of France."))
	require.NoError(t, err)
	_, err = f.ingest.Ingest(ctx, "japan.md", []byte("Tokyo is the capital of Japan."))
	require.NoError(t, err)

	docs := NewDocumentService(&failingBlobs{MemoryStore: f.blobs, failKey: "france.md"}, f.index)
	resp, err := docs.Delete(ctx, []string{"france.md", "japan.md"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
	assert.Equal(t, []string{"japan.md"}, resp.Deleted)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "france.md", resp.Failures[0].ID)
}
