// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embeddings turns text into fixed-length vectors through a remote
// embedding backend.
//
// # Description
//
// Client wraps a Backend with input normalization, a batch-size guard, an
// injected TTL+LRU cache for single-text lookups, optional client-side rate
// limiting, and typed error reporting. It never retries; a backend failure
// is returned as *faults.EmbeddingBackendError.
//
// # Thread Safety
//
// Client is safe for concurrent use by many in-flight queries. It holds no
// per-query state; the cache and rate limiter are internally synchronized.
package embeddings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// MaxBatchSize is the largest number of texts accepted by one EmbedBatch call.
const MaxBatchSize = 2048

// =============================================================================
// Backend Interface
// =============================================================================

// Backend is a remote embedding service.
//
// # Description
//
// Embed returns one vector per input text, in input order. Implementations
// may assume inputs are already normalized and within MaxBatchSize.
type Backend interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Model names the embedding model; it is part of the cache key.
	Model() string
}

// =============================================================================
// Client
// =============================================================================

// Config tunes a Client.
type Config struct {
	// RequestsPerSecond caps backend calls. 0 disables rate limiting.
	RequestsPerSecond float64

	// Burst is the limiter burst size. Default: 1.
	Burst int
}

// Client is the embedding client used by the answer pipeline and ingestion.
type Client struct {
	backend Backend
	cache   Cache
	limiter *rate.Limiter
	flight  singleflight.Group
}

// NewClient creates a Client.
//
// # Inputs
//
//   - backend: The remote embedding backend. Required.
//   - cache: Cache for single-text lookups. nil disables caching.
//   - cfg: Rate limiting options.
//
// # Examples
//
//	client := embeddings.NewClient(backend,
//	    embeddings.NewLRUCache(100, 5*time.Minute),
//	    embeddings.Config{RequestsPerSecond: 20})
func NewClient(backend Backend, cache Cache, cfg Config) *Client {
	c := &Client{backend: backend, cache: cache}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

// NormalizeText replaces every line break with a single space.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.ReplaceAll(text, "\r", " ")
}

// Embed returns the embedding of one text.
//
// # Description
//
// The text is normalized, then looked up in the cache keyed by model and
// normalized text. A hit returns without contacting the backend. Concurrent
// misses for the same key share a single backend call.
//
// # Outputs
//
//   - []float32: The embedding. Callers may mutate it.
//   - error: *faults.EmbeddingBackendError on backend failure.
//
// # Limitations
//
//   - A shared in-flight call runs under the first caller's context.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "EmbeddingClient.Embed")
	defer span.End()

	normalized := NormalizeText(text)
	key := c.backend.Model() + "\x00" + normalized

	if c.cache != nil {
		if v, ok := c.cache.Get(key); ok {
			span.SetAttributes(attribute.Bool("embedding.cache_hit", true))
			recordCacheHit(ctx)
			return v, nil
		}
	}
	span.SetAttributes(attribute.Bool("embedding.cache_hit", false))
	recordCacheMiss(ctx)

	result, err, shared := c.flight.Do(key, func() (interface{}, error) {
		vectors, err := c.call(ctx, "embed", []string{normalized})
		if err != nil {
			return nil, err
		}
		if c.cache != nil {
			c.cache.Set(key, vectors[0])
		}
		return vectors[0], nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	vector := result.([]float32)
	if shared {
		vector = cloneVector(vector)
	}
	return vector, nil
}

// EmbedBatch embeds up to MaxBatchSize texts in one backend call.
//
// # Description
//
// Batch calls bypass the cache. An empty input returns an empty result
// without contacting the backend.
//
// # Outputs
//
//   - [][]float32: One vector per input, in input order.
//   - error: *faults.InvalidArgumentError when len(texts) > MaxBatchSize,
//     detected before any remote call; *faults.EmbeddingBackendError on
//     backend failure.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) > MaxBatchSize {
		return nil, &faults.InvalidArgumentError{
			Field:  "texts",
			Reason: fmt.Sprintf("batch of %d exceeds maximum of %d", len(texts), MaxBatchSize),
		}
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	ctx, span := tracer.Start(ctx, "EmbeddingClient.EmbedBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("embedding.batch_size", len(texts)))

	normalized := make([]string, len(texts))
	for i, t := range texts {
		normalized[i] = NormalizeText(t)
	}

	vectors, err := c.call(ctx, "embed_batch", normalized)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return vectors, nil
}

// call performs one rate-limited backend call and validates the result
// cardinality.
func (c *Client) call(ctx context.Context, op string, texts []string) ([][]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &faults.EmbeddingBackendError{Op: op, Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	start := time.Now()
	vectors, err := c.backend.Embed(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("backend returned %d vectors for %d texts", len(vectors), len(texts))
	}
	recordBackendCall(ctx, op, time.Since(start), err)
	if err != nil {
		slog.Error("Embedding backend call failed",
			"op", op,
			"model", c.backend.Model(),
			"batch_size", len(texts),
			"error", err)
		return nil, &faults.EmbeddingBackendError{Op: op, Err: err}
	}
	return vectors, nil
}
