// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embeddings

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("aleutian.embeddings")
	meter  = otel.Meter("aleutian.embeddings")
)

var (
	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	backendCalls    metric.Int64Counter
	backendDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		cacheHits, err = meter.Int64Counter(
			"embedding_cache_hits_total",
			metric.WithDescription("Embedding requests served from cache"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		cacheMisses, err = meter.Int64Counter(
			"embedding_cache_misses_total",
			metric.WithDescription("Embedding requests that reached the backend"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		backendCalls, err = meter.Int64Counter(
			"embedding_backend_calls_total",
			metric.WithDescription("Calls to the embedding backend by operation and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		backendDuration, err = meter.Float64Histogram(
			"embedding_backend_duration_seconds",
			metric.WithDescription("Duration of embedding backend calls"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordCacheHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheHits.Add(ctx, 1)
}

func recordCacheMiss(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	cacheMisses.Add(ctx, 1)
}

func recordBackendCall(ctx context.Context, op string, duration time.Duration, err error) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.Bool("success", err == nil),
	)
	backendCalls.Add(ctx, 1, attrs)
	backendDuration.Record(ctx, duration.Seconds(), attrs)
}
