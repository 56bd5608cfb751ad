// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides business logic services for the orchestrator.
//
// This package contains service structs that encapsulate business logic,
// separating it from HTTP handlers:
//   - AnswerService runs the retrieval-and-answer pipeline for one query.
//   - IngestService turns uploaded documents into indexed chunks.
//   - DocumentService counts, lists, and deletes ingested documents.
//
// Dependencies are injected via constructors and every method accepts a
// context for cancellation and tracing.
package services

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/prompt"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// answerTracer is the OpenTelemetry tracer for AnswerService operations.
var answerTracer = otel.Tracer("aleutian.orchestrator.services.answer")

// =============================================================================
// Interfaces
// =============================================================================

// Embedder turns a query into a vector. Satisfied by *embeddings.Client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher runs a vector or hybrid search. Satisfied by *retrieval.Client.
type Searcher interface {
	Search(ctx context.Context, mode retrieval.Mode, text string, vector []float32, topK int) ([]datatypes.RetrievedResult, error)
}

// Completer generates text for a prompt. Satisfied by *llm.Client.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// =============================================================================
// Stages
// =============================================================================

// Stage is one state of the answer pipeline.
type Stage string

const (
	StageEmbedding  Stage = "embedding"
	StageRetrieving Stage = "retrieving"
	StagePrompting  Stage = "prompting"
	StageGenerating Stage = "generating"
	StageRecording  Stage = "recording"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"

	// stageValidating labels failures detected before EMBEDDING.
	stageValidating Stage = "validating"
)

// =============================================================================
// AnswerService
// =============================================================================

// AnswerConfig tunes an AnswerService.
type AnswerConfig struct {
	// TopK is passed to the searcher. <= 0 lets the searcher use its default.
	TopK int
	// MaxTokens caps generation. <= 0 lets the LLM client use its default.
	MaxTokens int
}

// AnswerResult is the outcome of a successful Answer call.
type AnswerResult struct {
	// Results are the retrieved chunks in retrieval order.
	Results []datatypes.RetrievedResult
	// Answer is the cleaned model output.
	Answer string
	// Stages lists the states visited, ending in StageDone.
	Stages []Stage
}

// AnswerService answers one query against the document index.
//
// # Description
//
// Answer walks a fixed state machine:
//
//	EMBEDDING -> RETRIEVING -> PROMPTING -> GENERATING -> RECORDING -> DONE
//
// Any failure moves to FAILED and returns the error unchanged. There are no
// retries and no rollback: memory is only written in RECORDING, which runs
// after generation succeeded.
//
// # Thread Safety
//
// Safe for concurrent use. Callers must serialize calls that share one
// conversation.Memory (see conversation.Session.Lock).
type AnswerService struct {
	embedder  Embedder
	searcher  Searcher
	llm       Completer
	assembler *prompt.Assembler
	metrics   *observability.RAGMetrics
	cfg       AnswerConfig
}

// NewAnswerService creates an AnswerService. metrics may be nil.
func NewAnswerService(
	embedder Embedder,
	searcher Searcher,
	llm Completer,
	assembler *prompt.Assembler,
	metrics *observability.RAGMetrics,
	cfg AnswerConfig,
) *AnswerService {
	return &AnswerService{
		embedder:  embedder,
		searcher:  searcher,
		llm:       llm,
		assembler: assembler,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Answer retrieves context for query and asks the model to answer it.
//
// # Description
//
// The mode is parsed before anything else, so an unsupported mode fails
// with zero backend calls. The prompt carries the memory's history as it
// was before this query; the user and assistant turns are appended only
// once an answer exists.
//
// # Inputs
//
//   - ctx: Propagated to every backend call.
//   - memory: Session history. nil answers without history and records
//     nothing.
//   - query: The user question. Must be non-blank.
//   - mode: "Vector" or "Hybrid", matched exactly.
//
// # Outputs
//
//   - *AnswerResult: Retrieved chunks, answer text, and visited stages.
//   - error: *faults.InvalidArgumentError for a bad mode or blank query;
//     otherwise the embedding, retrieval, or LLM backend error unchanged.
func (s *AnswerService) Answer(ctx context.Context, memory *conversation.Memory, query, mode string) (*AnswerResult, error) {
	ctx, span := answerTracer.Start(ctx, "AnswerService.Answer",
		trace.WithAttributes(attribute.String("search.mode", mode)))
	defer span.End()

	run := &answerRun{svc: s, span: span}

	searchMode, err := retrieval.ParseMode(mode)
	if err != nil {
		return nil, run.reject(err)
	}
	if strings.TrimSpace(query) == "" {
		return nil, run.reject(&faults.InvalidArgumentError{Field: "query", Reason: "must not be empty"})
	}

	var vector []float32
	if err := run.stage(ctx, StageEmbedding, func(ctx context.Context) error {
		vector, err = s.embedder.Embed(ctx, query)
		return err
	}); err != nil {
		return nil, err
	}

	var results []datatypes.RetrievedResult
	if err := run.stage(ctx, StageRetrieving, func(ctx context.Context) error {
		results, err = s.searcher.Search(ctx, searchMode, query, vector, s.cfg.TopK)
		return err
	}); err != nil {
		return nil, err
	}
	s.metrics.ObserveRetrieved(string(searchMode), len(results))
	span.SetAttributes(attribute.Int("search.results", len(results)))

	var history []conversation.Turn
	if memory != nil {
		history = memory.History()
	}
	var fullPrompt string
	_ = run.stage(ctx, StagePrompting, func(context.Context) error {
		fullPrompt = s.assembler.Build(results, query, history)
		return nil
	})

	var answer string
	if err := run.stage(ctx, StageGenerating, func(ctx context.Context) error {
		answer, err = s.llm.Complete(ctx, fullPrompt, s.cfg.MaxTokens)
		return err
	}); err != nil {
		return nil, err
	}

	_ = run.stage(ctx, StageRecording, func(context.Context) error {
		if memory != nil {
			memory.AppendUser(query)
			memory.AppendAssistant(answer)
		}
		return nil
	})

	run.stages = append(run.stages, StageDone)
	return &AnswerResult{Results: results, Answer: answer, Stages: run.stages}, nil
}

// answerRun tracks the stages visited by one Answer call.
type answerRun struct {
	svc    *AnswerService
	span   trace.Span
	stages []Stage
}

// stage runs fn as the given pipeline stage, timing it and recording a
// failure on the span, the log, and the failure counter.
func (r *answerRun) stage(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	r.stages = append(r.stages, stage)
	start := time.Now()
	err := fn(ctx)
	r.svc.metrics.ObserveStage(string(stage), time.Since(start).Seconds())
	if err != nil {
		r.fail(stage, err)
	}
	return err
}

// reject records a validation failure that happened before any stage.
func (r *answerRun) reject(err error) error {
	r.fail(stageValidating, err)
	return err
}

func (r *answerRun) fail(stage Stage, err error) {
	r.stages = append(r.stages, StageFailed)
	r.span.SetAttributes(attribute.String("answer.failed_stage", string(stage)))
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, err.Error())
	r.svc.metrics.RecordStageFailure(string(stage))
	slog.Error("Answer pipeline failed",
		"stage", stage,
		"error_kind", faults.Kind(err),
		"error", err)
}
