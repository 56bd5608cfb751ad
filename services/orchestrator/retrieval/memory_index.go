// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianDocQA/pkg/similarity"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
)

// rrfK is the reciprocal-rank-fusion damping constant.
const rrfK = 60

// MemoryIndex keeps chunks in process memory.
//
// # Description
//
// Vector ranking uses cosine distance from the similarity engine with
// score = 1 - distance. Hybrid ranking fuses a term-overlap lexical ranking
// with the vector ranking by reciprocal rank, weighted by alpha. Chunks
// whose vectors cannot be compared (zero norm) are skipped by vector
// ranking rather than failing the query.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryIndex struct {
	mu     sync.RWMutex
	chunks map[string]datatypes.Chunk
	order  []string
}

// NewMemoryIndex creates an empty MemoryIndex.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{chunks: make(map[string]datatypes.Chunk)}
}

// Upsert stores copies of chunks, replacing same-id entries in place.
func (m *MemoryIndex) Upsert(ctx context.Context, chunks []datatypes.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		c.ContentVector = append([]float32(nil), c.ContentVector...)
		c.KeyPhrases = append([]string(nil), c.KeyPhrases...)
		if _, exists := m.chunks[c.ID]; !exists {
			m.order = append(m.order, c.ID)
		}
		m.chunks[c.ID] = c
	}
	return nil
}

// Delete removes chunks by id; unknown ids are ignored.
func (m *MemoryIndex) Delete(ctx context.Context, ids []string) (DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return DeleteResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var res DeleteResult
	for _, id := range ids {
		if _, ok := m.chunks[id]; ok {
			delete(m.chunks, id)
			res.Matched++
			res.Deleted++
		}
	}
	m.compact()
	return res, nil
}

// DeleteWhere removes every chunk matching filter.
func (m *MemoryIndex) DeleteWhere(ctx context.Context, filter Filter) (DeleteResult, error) {
	if err := ctx.Err(); err != nil {
		return DeleteResult{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var res DeleteResult
	for id, c := range m.chunks {
		if filter.Matches(&c) {
			delete(m.chunks, id)
			res.Matched++
			res.Deleted++
		}
	}
	m.compact()
	return res, nil
}

// compact drops deleted ids from the insertion order. Caller holds mu.
func (m *MemoryIndex) compact() {
	kept := m.order[:0]
	for _, id := range m.order {
		if _, ok := m.chunks[id]; ok {
			kept = append(kept, id)
		}
	}
	m.order = kept
}

// Query filters, ranks, and pages the stored chunks.
func (m *MemoryIndex) Query(ctx context.Context, q IndexQuery) ([]datatypes.RetrievedResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	candidates := make([]datatypes.Chunk, 0, len(m.order))
	for _, id := range m.order {
		c := m.chunks[id]
		if q.Filter.Matches(&c) {
			candidates = append(candidates, c)
		}
	}
	m.mu.RUnlock()

	var ranked []scored
	switch q.Kind {
	case QueryVector:
		ranked = vectorRank(candidates, q.Vector)
	case QueryHybrid:
		ranked = hybridRank(candidates, q.Text, q.Vector, q.Alpha)
	default:
		ranked = make([]scored, len(candidates))
		for i := range candidates {
			ranked[i] = scored{chunk: candidates[i]}
		}
		if q.OrderBy != nil {
			field, desc := q.OrderBy.Field, q.OrderBy.Desc
			sort.SliceStable(ranked, func(i, j int) bool {
				a, b := &ranked[i].chunk, &ranked[j].chunk
				if equalField(a, b, field) {
					return false
				}
				return lessField(a, b, field) != desc
			})
		}
	}

	if q.Offset >= len(ranked) {
		return []datatypes.RetrievedResult{}, nil
	}
	ranked = ranked[q.Offset:]
	if q.Limit > 0 && len(ranked) > q.Limit {
		ranked = ranked[:q.Limit]
	}

	results := make([]datatypes.RetrievedResult, len(ranked))
	for i, r := range ranked {
		results[i] = r.chunk.ToResult(r.score)
		if q.Kind == QueryHybrid {
			results[i].Captions = buildCaptions(r.chunk.Content, q.Text)
		}
	}
	return results, nil
}

// Count returns the number of stored chunks.
func (m *MemoryIndex) Count(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}

// Documents groups chunks by filename, in first-ingested order.
func (m *MemoryIndex) Documents(ctx context.Context) ([]datatypes.DocumentSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]int)
	var names []string
	for _, id := range m.order {
		name := m.chunks[id].Filename
		if _, seen := counts[name]; !seen {
			names = append(names, name)
		}
		counts[name]++
	}
	docs := make([]datatypes.DocumentSummary, 0, len(names))
	for _, name := range names {
		docs = append(docs, datatypes.DocumentSummary{
			ID:       datatypes.DocumentID(name),
			Filename: name,
			Chunks:   counts[name],
		})
	}
	return docs, nil
}

// Close drops all chunks.
func (m *MemoryIndex) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = make(map[string]datatypes.Chunk)
	m.order = nil
	return nil
}

var _ Index = (*MemoryIndex)(nil)

// =============================================================================
// Ranking
// =============================================================================

type scored struct {
	chunk datatypes.Chunk
	score float64
}

// vectorRank orders candidates by ascending cosine distance.
func vectorRank(candidates []datatypes.Chunk, query []float32) []scored {
	usable := make([]datatypes.Chunk, 0, len(candidates))
	vectors := make([][]float32, 0, len(candidates))
	for _, c := range candidates {
		if len(c.ContentVector) != len(query) {
			continue
		}
		if _, err := similarity.CosineSimilarity(query, c.ContentVector); err != nil {
			continue
		}
		usable = append(usable, c)
		vectors = append(vectors, c.ContentVector)
	}
	if len(usable) == 0 {
		return nil
	}
	dists, err := similarity.Distances(query, vectors, similarity.Cosine)
	if err != nil {
		return nil
	}
	order := similarity.NearestIndices(dists, len(dists))
	out := make([]scored, len(order))
	for i, idx := range order {
		out[i] = scored{chunk: usable[idx], score: 1 - dists[idx]}
	}
	return out
}

// lexicalRank orders candidates by the number of query terms they contain.
// Chunks with no overlap are left out.
func lexicalRank(candidates []datatypes.Chunk, text string) []scored {
	qterms := terms(text)
	if len(qterms) == 0 {
		return nil
	}
	var out []scored
	for _, c := range candidates {
		present := make(map[string]bool)
		for _, t := range terms(c.Content + " " + c.Title + " " + strings.Join(c.KeyPhrases, " ")) {
			present[t] = true
		}
		hits := 0
		for _, t := range qterms {
			if present[t] {
				hits++
			}
		}
		if hits > 0 {
			out = append(out, scored{chunk: c, score: float64(hits) / float64(len(qterms))})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// hybridRank fuses lexical and vector rankings by weighted reciprocal rank.
func hybridRank(candidates []datatypes.Chunk, text string, vector []float32, alpha float32) []scored {
	fused := make(map[string]float64)
	byID := make(map[string]datatypes.Chunk)
	var firstSeen []string
	add := func(list []scored, weight float64) {
		for rank, s := range list {
			id := s.chunk.ID
			if _, ok := byID[id]; !ok {
				byID[id] = s.chunk
				firstSeen = append(firstSeen, id)
			}
			fused[id] += weight / float64(rrfK+rank+1)
		}
	}
	a := float64(alpha)
	if len(vector) > 0 {
		add(vectorRank(candidates, vector), a)
	}
	add(lexicalRank(candidates, text), 1-a)

	out := make([]scored, 0, len(firstSeen))
	for _, id := range firstSeen {
		out = append(out, scored{chunk: byID[id], score: fused[id]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

func lessField(a, b *datatypes.Chunk, field string) bool {
	if field == "chunk_number" {
		return a.ChunkNumber < b.ChunkNumber
	}
	return fieldValue(a, field) < fieldValue(b, field)
}

func equalField(a, b *datatypes.Chunk, field string) bool {
	if field == "chunk_number" {
		return a.ChunkNumber == b.ChunkNumber
	}
	return fieldValue(a, field) == fieldValue(b, field)
}
