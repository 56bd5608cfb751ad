// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the RAG pipeline
// and the OpenTelemetry trace and meter providers.
//
// # Description
//
// RAGMetrics holds the pipeline's Prometheus instruments. All recording
// methods are nil-safe so components can run without metrics in tests.
// Init wires the OTel SDK: spans go to OTLP or stdout, and OTel
// instruments (such as the embedding cache counters) are bridged into the
// Prometheus registry served at /metrics.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "aleutian"

const ragSubsystem = "rag"

// RAGMetrics contains Prometheus metrics for query answering and ingestion.
type RAGMetrics struct {
	// RequestsTotal counts handled requests.
	// Labels: endpoint (query, upload, delete_documents, ...), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// StageDurationSeconds measures each answer pipeline stage.
	// Labels: stage (embedding, retrieving, prompting, generating, recording)
	StageDurationSeconds *prometheus.HistogramVec

	// StageFailuresTotal counts pipeline failures by the stage that failed.
	// Labels: stage
	StageFailuresTotal *prometheus.CounterVec

	// RetrievedChunks observes how many chunks each query retrieved.
	// Labels: mode (Vector, Hybrid)
	RetrievedChunks *prometheus.HistogramVec

	// IngestedChunksTotal counts chunks written by ingestion.
	IngestedChunksTotal prometheus.Counter

	// ActiveSessions tracks live conversation sessions.
	ActiveSessions prometheus.Gauge

	// SessionsEvictedTotal counts sessions removed for idleness.
	SessionsEvictedTotal prometheus.Counter

	// WebSocketConnections tracks open /query/ws connections.
	WebSocketConnections prometheus.Gauge
}

var (
	// DefaultMetrics is registered with the global Prometheus registry by
	// InitMetrics.
	DefaultMetrics *RAGMetrics
	initOnce       sync.Once
)

// InitMetrics registers RAGMetrics with the default Prometheus registerer.
// Later calls return the same instance.
func InitMetrics() *RAGMetrics {
	initOnce.Do(func() {
		DefaultMetrics = NewRAGMetrics(prometheus.DefaultRegisterer)
	})
	return DefaultMetrics
}

// NewRAGMetrics creates and registers the metrics with reg. Tests pass a
// fresh prometheus.NewRegistry() to stay isolated.
func NewRAGMetrics(reg prometheus.Registerer) *RAGMetrics {
	factory := promauto.With(reg)
	return &RAGMetrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: ragSubsystem,
				Name:      "requests_total",
				Help:      "Total number of requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		StageDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: ragSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each answer pipeline stage in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),

		StageFailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: ragSubsystem,
				Name:      "stage_failures_total",
				Help:      "Total answer pipeline failures by failing stage",
			},
			[]string{"stage"},
		),

		RetrievedChunks: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: ragSubsystem,
				Name:      "retrieved_chunks",
				Help:      "Number of chunks retrieved per query",
				Buckets:   []float64{0, 1, 2, 3, 5, 10, 20, 50},
			},
			[]string{"mode"},
		),

		IngestedChunksTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: ragSubsystem,
				Name:      "ingested_chunks_total",
				Help:      "Total chunks written by document ingestion",
			},
		),

		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: ragSubsystem,
				Name:      "active_sessions",
				Help:      "Number of live conversation sessions",
			},
		),

		SessionsEvictedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: ragSubsystem,
				Name:      "sessions_evicted_total",
				Help:      "Total conversation sessions evicted for idleness",
			},
		),

		WebSocketConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: ragSubsystem,
				Name:      "websocket_connections",
				Help:      "Number of open query WebSocket connections",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed request.
func (m *RAGMetrics) RecordRequest(endpoint string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
}

// ObserveStage records the duration of one pipeline stage.
func (m *RAGMetrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDurationSeconds.WithLabelValues(stage).Observe(seconds)
}

// RecordStageFailure counts a pipeline failure at stage.
func (m *RAGMetrics) RecordStageFailure(stage string) {
	if m == nil {
		return
	}
	m.StageFailuresTotal.WithLabelValues(stage).Inc()
}

// ObserveRetrieved records the number of chunks a query retrieved.
func (m *RAGMetrics) ObserveRetrieved(mode string, n int) {
	if m == nil {
		return
	}
	m.RetrievedChunks.WithLabelValues(mode).Observe(float64(n))
}

// AddIngestedChunks counts chunks written by ingestion.
func (m *RAGMetrics) AddIngestedChunks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.IngestedChunksTotal.Add(float64(n))
}

// SetActiveSessions sets the live session gauge.
func (m *RAGMetrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// AddSessionsEvicted counts idle evictions.
func (m *RAGMetrics) AddSessionsEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsEvictedTotal.Add(float64(n))
}

// WebSocketOpened increments the connection gauge.
func (m *RAGMetrics) WebSocketOpened() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Inc()
}

// WebSocketClosed decrements the connection gauge.
func (m *RAGMetrics) WebSocketClosed() {
	if m == nil {
		return
	}
	m.WebSocketConnections.Dec()
}
