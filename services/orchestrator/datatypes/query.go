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
	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Constants
// =============================================================================

// MaxQueryLength is the maximum query length in characters. Mirrors the
// max tag on QueryRequest.Query.
const MaxQueryLength = 1000

// =============================================================================
// Shared Validator Instance
// =============================================================================

var requestValidate = validator.New()

// validationError converts a validator failure into an InvalidArgumentError
// naming the first offending field.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
		fe := verrs[0]
		return &faults.InvalidArgumentError{
			Field:  fe.Field(),
			Reason: "failed '" + fe.Tag() + "' validation",
		}
	}
	return &faults.InvalidArgumentError{Reason: err.Error()}
}

// =============================================================================
// Query
// =============================================================================

// QueryRequest is the body of POST /query.
//
// # Validation
//
//   - Query: required, 1..1000 characters.
//   - SearchType: "Vector" or "Hybrid".
//   - SessionID: optional UUID. When empty a new session is created and
//     returned in the response.
type QueryRequest struct {
	Query      string `json:"query" validate:"required,min=1,max=1000"`
	SearchType string `json:"search_type" validate:"required,oneof=Vector Hybrid"`
	SessionID  string `json:"session_id,omitempty" validate:"omitempty,uuid"`
}

// Validate checks the request against its struct tags.
func (r *QueryRequest) Validate() error {
	return validationError(requestValidate.Struct(r))
}

// QueryResponse is the body returned by POST /query.
type QueryResponse struct {
	SearchResults []RetrievedResult `json:"search_results"`
	LLMResponse   string            `json:"llm_response"`
	SessionID     string            `json:"session_id"`
}

// =============================================================================
// Document Administration
// =============================================================================

// DeleteDocumentsRequest is the body of POST /delete_documents.
//
// # Validation
//
//   - Filenames: 1..1000 names unless DeleteAll is set.
//   - DeleteAll: must be true to empty the whole index, and then
//     Filenames must be empty.
type DeleteDocumentsRequest struct {
	Filenames []string `json:"filenames" validate:"max=1000,dive,required,max=1024"`
	DeleteAll bool     `json:"delete_all"`
}

// Validate checks the request against its struct tags and requires an
// explicit choice between named documents and DeleteAll.
func (r *DeleteDocumentsRequest) Validate() error {
	if err := validationError(requestValidate.Struct(r)); err != nil {
		return err
	}
	switch {
	case r.DeleteAll && len(r.Filenames) > 0:
		return &faults.InvalidArgumentError{Field: "filenames", Reason: "must be empty when delete_all is true"}
	case !r.DeleteAll && len(r.Filenames) == 0:
		return &faults.InvalidArgumentError{Field: "filenames", Reason: "required unless delete_all is true"}
	}
	return nil
}

// IndexedChunksRequest is the query string of GET /list_indexed_documents.
//
// # Validation
//
//   - Filter: optional filter expression, e.g. "parent_id eq 'a_md'".
//   - OrderBy: optional "field [asc|desc]".
//   - Limit: 0 (server default) or 1..1000.
//   - Offset: non-negative.
type IndexedChunksRequest struct {
	Filter  string `form:"filter" validate:"max=2000"`
	OrderBy string `form:"order_by" validate:"max=100"`
	Limit   int    `form:"limit" validate:"omitempty,min=1,max=1000"`
	Offset  int    `form:"offset" validate:"min=0"`
}

// Validate checks the request against its struct tags.
func (r *IndexedChunksRequest) Validate() error {
	return validationError(requestValidate.Struct(r))
}

// IndexedChunk identifies one stored chunk.
type IndexedChunk struct {
	ID          string `json:"id"`
	ParentID    string `json:"parent_id"`
	Filename    string `json:"filename"`
	Title       string `json:"title"`
	ChunkNumber int    `json:"chunk_number"`
}

// DocumentSummary describes one ingested document.
type DocumentSummary struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Chunks   int    `json:"chunks"`
}

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	Message    string `json:"message"`
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
}

// DeleteDocumentsResponse reports a cascade delete. Failures lists every
// document or blob that could not be removed; it is never truncated to the
// first error.
type DeleteDocumentsResponse struct {
	Deleted  []string             `json:"deleted"`
	Chunks   int                  `json:"chunks_deleted"`
	Failures []faults.ItemFailure `json:"failures"`
}
