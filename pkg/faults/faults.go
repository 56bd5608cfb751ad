// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package faults defines the error taxonomy shared by the document QA
// pipeline.
//
// # Description
//
// Every component that talks to a remote backend converts its failures into
// one of the typed errors below so that callers (the answer orchestrator and
// the HTTP boundary) can classify them with errors.As without string
// matching.
//
//   - EmbeddingBackendError: the embedding backend failed.
//   - RetrievalBackendError: a search or index operation failed.
//   - LLMBackendError: the language model failed or returned non-success.
//   - InvalidArgumentError: the caller supplied an unsupported argument.
//   - InvalidInputError: degenerate numeric input to the similarity engine.
//   - PartialFailure: a bulk operation where some items failed.
//
// # Thread Safety
//
// All error values are immutable after construction.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// Backend Errors
// =============================================================================

// EmbeddingBackendError reports a failed call to the embedding backend.
type EmbeddingBackendError struct {
	// Op names the failed operation, e.g. "embed" or "embed_batch".
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *EmbeddingBackendError) Error() string {
	return fmt.Sprintf("embedding backend %s failed: %v", e.Op, e.Err)
}

func (e *EmbeddingBackendError) Unwrap() error { return e.Err }

// RetrievalBackendError reports a failed search or index operation.
type RetrievalBackendError struct {
	Op  string
	Err error
}

func (e *RetrievalBackendError) Error() string {
	return fmt.Sprintf("retrieval backend %s failed: %v", e.Op, e.Err)
}

func (e *RetrievalBackendError) Unwrap() error { return e.Err }

// LLMBackendError reports a failed generation call.
//
// # Description
//
// Status is the HTTP status returned by the backend, or 0 when the request
// never produced a response (transport failure). Body holds the
// backend-provided error payload. Neither is safe to show to end users;
// the HTTP boundary replaces this error with a generic message.
type LLMBackendError struct {
	Status int
	Body   string
	Err    error
}

func (e *LLMBackendError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("llm backend call failed: %v", e.Err)
	}
	return fmt.Sprintf("llm backend call failed: %d - %s", e.Status, e.Body)
}

func (e *LLMBackendError) Unwrap() error { return e.Err }

// =============================================================================
// Caller Errors
// =============================================================================

// InvalidArgumentError reports an unsupported argument detected before any
// remote call was made.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	if e.Field == "" {
		return "invalid argument: " + e.Reason
	}
	return fmt.Sprintf("invalid argument %s: %s", e.Field, e.Reason)
}

// InvalidInputError reports degenerate numeric input, such as a zero-norm
// vector passed to a cosine computation.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// =============================================================================
// Partial Failure
// =============================================================================

// ItemFailure is the outcome of one failed item in a bulk operation.
type ItemFailure struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// PartialFailure reports a bulk operation in which some items failed.
//
// # Description
//
// Bulk operations never collapse a mixed outcome into success. When at least
// one item fails the operation returns its result value AND a
// *PartialFailure so callers that only check err still notice.
type PartialFailure struct {
	Op        string
	Succeeded int
	Failures  []ItemFailure
}

func (e *PartialFailure) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.ID)
	}
	return fmt.Sprintf("%s partially failed: %d succeeded, %d failed [%s]",
		e.Op, e.Succeeded, len(e.Failures), strings.Join(ids, ", "))
}

// =============================================================================
// Predicates
// =============================================================================

// IsInvalidArgument reports whether err is or wraps an InvalidArgumentError.
func IsInvalidArgument(err error) bool {
	var target *InvalidArgumentError
	return errors.As(err, &target)
}

// IsPartialFailure reports whether err is or wraps a PartialFailure.
func IsPartialFailure(err error) bool {
	var target *PartialFailure
	return errors.As(err, &target)
}

// Kind returns a short label for err suitable for metric labels and logs.
func Kind(err error) string {
	var (
		embedErr   *EmbeddingBackendError
		retrErr    *RetrievalBackendError
		llmErr     *LLMBackendError
		argErr     *InvalidArgumentError
		inputErr   *InvalidInputError
		partialErr *PartialFailure
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &argErr):
		return "invalid_argument"
	case errors.As(err, &inputErr):
		return "invalid_input"
	case errors.As(err, &embedErr):
		return "embedding_backend"
	case errors.As(err, &retrErr):
		return "retrieval_backend"
	case errors.As(err, &llmErr):
		return "llm_backend"
	case errors.As(err, &partialErr):
		return "partial_failure"
	default:
		return "internal"
	}
}
