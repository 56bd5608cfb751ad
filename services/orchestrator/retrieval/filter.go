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
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianDocQA/pkg/faults"
	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
)

// =============================================================================
// Filter Model
// =============================================================================

// Op is a filter operator.
type Op string

const (
	OpEq  Op = "eq"
	OpNe  Op = "ne"
	OpAnd Op = "and"
	OpOr  Op = "or"
)

// filterableFields are the chunk properties a Filter may reference.
var filterableFields = map[string]bool{
	"id":             true,
	"parent_id":      true,
	"filename":       true,
	"title":          true,
	"author":         true,
	"published_date": true,
	"language":       true,
	"chunk_number":   true,
}

// Filter is a predicate over chunk properties.
//
// # Description
//
// Leaf filters compare Field against Value with OpEq or OpNe. Compound
// filters combine Operands with OpAnd or OpOr. The zero Filter matches
// everything.
type Filter struct {
	Field    string
	Op       Op
	Value    string
	Operands []Filter
}

// Eq builds a field equality filter.
func Eq(field, value string) Filter {
	return Filter{Field: field, Op: OpEq, Value: value}
}

// Ne builds a field inequality filter.
func Ne(field, value string) Filter {
	return Filter{Field: field, Op: OpNe, Value: value}
}

// And combines filters so all must match.
func And(fs ...Filter) Filter {
	return Filter{Op: OpAnd, Operands: fs}
}

// Or combines filters so any may match.
func Or(fs ...Filter) Filter {
	return Filter{Op: OpOr, Operands: fs}
}

// IsZero reports whether f is the match-all filter.
func (f Filter) IsZero() bool {
	return f.Op == "" && f.Field == "" && len(f.Operands) == 0
}

// Validate checks field names and operator shapes.
func (f Filter) Validate() error {
	switch f.Op {
	case "":
		if !f.IsZero() {
			return &faults.InvalidArgumentError{Field: "filter", Reason: "missing operator"}
		}
		return nil
	case OpEq, OpNe:
		if !filterableFields[f.Field] {
			return &faults.InvalidArgumentError{Field: "filter", Reason: fmt.Sprintf("unknown field %q", f.Field)}
		}
		if f.Field == "chunk_number" {
			if _, err := strconv.Atoi(f.Value); err != nil {
				return &faults.InvalidArgumentError{Field: "filter", Reason: "chunk_number must be an integer"}
			}
		}
		return nil
	case OpAnd, OpOr:
		if len(f.Operands) == 0 {
			return &faults.InvalidArgumentError{Field: "filter", Reason: string(f.Op) + " needs operands"}
		}
		for _, o := range f.Operands {
			if err := o.Validate(); err != nil {
				return err
			}
		}
		return nil
	default:
		return &faults.InvalidArgumentError{Field: "filter", Reason: fmt.Sprintf("unknown operator %q", f.Op)}
	}
}

// Matches evaluates f against a chunk.
func (f Filter) Matches(c *datatypes.Chunk) bool {
	switch f.Op {
	case "":
		return true
	case OpEq:
		return fieldValue(c, f.Field) == f.Value
	case OpNe:
		return fieldValue(c, f.Field) != f.Value
	case OpAnd:
		for _, o := range f.Operands {
			if !o.Matches(c) {
				return false
			}
		}
		return true
	case OpOr:
		for _, o := range f.Operands {
			if o.Matches(c) {
				return true
			}
		}
		return false
	}
	return false
}

// String renders f in the same syntax ParseFilter accepts.
func (f Filter) String() string {
	switch f.Op {
	case OpEq, OpNe:
		if f.Field == "chunk_number" {
			return fmt.Sprintf("%s %s %s", f.Field, f.Op, f.Value)
		}
		return fmt.Sprintf("%s %s '%s'", f.Field, f.Op, strings.ReplaceAll(f.Value, "'", "''"))
	case OpAnd, OpOr:
		parts := make([]string, len(f.Operands))
		for i, o := range f.Operands {
			parts[i] = o.String()
			if len(o.Operands) > 0 {
				parts[i] = "(" + parts[i] + ")"
			}
		}
		return strings.Join(parts, " "+string(f.Op)+" ")
	}
	return ""
}

func fieldValue(c *datatypes.Chunk, field string) string {
	switch field {
	case "id":
		return c.ID
	case "parent_id":
		return c.ParentID
	case "filename":
		return c.Filename
	case "title":
		return c.Title
	case "author":
		return c.Author
	case "published_date":
		return c.PublishedDate
	case "language":
		return c.Language
	case "chunk_number":
		return strconv.Itoa(c.ChunkNumber)
	}
	return ""
}

// =============================================================================
// Parsing
// =============================================================================

// ParseFilter parses an OData-style filter expression.
//
// # Description
//
// Grammar:
//
//	expr   := term ("or" term)*
//	term   := factor ("and" factor)*
//	factor := "(" expr ")" | field ("eq"|"ne") value
//	value  := 'quoted string' | bare token
//
// Quotes inside a quoted value are escaped by doubling them. Keywords are
// case-insensitive. An empty or whitespace string yields the zero Filter.
//
// # Outputs
//
//   - Filter: The parsed filter.
//   - error: *faults.InvalidArgumentError on any syntax or field error.
//
// # Examples
//
//	ParseFilter("parent_id eq 'Q3_report_md'")
//	ParseFilter("id eq X or parent_id eq X")
func ParseFilter(s string) (Filter, error) {
	toks, err := tokenize(s)
	if err != nil {
		return Filter{}, err
	}
	if len(toks) == 0 {
		return Filter{}, nil
	}
	p := &filterParser{toks: toks}
	f, err := p.parseOr()
	if err != nil {
		return Filter{}, err
	}
	if p.pos != len(p.toks) {
		return Filter{}, syntaxError("unexpected %q", p.toks[p.pos].text)
	}
	if err := f.Validate(); err != nil {
		return Filter{}, err
	}
	return f, nil
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokString
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func syntaxError(format string, args ...interface{}) error {
	return &faults.InvalidArgumentError{Field: "filter", Reason: fmt.Sprintf(format, args...)}
}

func tokenize(s string) ([]token, error) {
	var toks []token
	runes := []rune(s)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen, text: "("})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen, text: ")"})
			i++
		case r == '\'':
			var sb strings.Builder
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == '\'' {
					if i+1 < len(runes) && runes[i+1] == '\'' {
						sb.WriteRune('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, syntaxError("unterminated string")
			}
			toks = append(toks, token{kind: tokString, text: sb.String()})
		default:
			start := i
			for i < len(runes) && !unicode.IsSpace(runes[i]) && runes[i] != '(' && runes[i] != ')' && runes[i] != '\'' {
				i++
			}
			toks = append(toks, token{kind: tokWord, text: string(runes[start:i])})
		}
	}
	return toks, nil
}

type filterParser struct {
	toks []token
	pos  int
}

func (p *filterParser) peekKeyword(kw string) bool {
	return p.pos < len(p.toks) && p.toks[p.pos].kind == tokWord && strings.EqualFold(p.toks[p.pos].text, kw)
}

func (p *filterParser) parseOr() (Filter, error) {
	left, err := p.parseAnd()
	if err != nil {
		return Filter{}, err
	}
	operands := []Filter{left}
	for p.peekKeyword("or") {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return Filter{}, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return Or(operands...), nil
}

func (p *filterParser) parseAnd() (Filter, error) {
	left, err := p.parseFactor()
	if err != nil {
		return Filter{}, err
	}
	operands := []Filter{left}
	for p.peekKeyword("and") {
		p.pos++
		right, err := p.parseFactor()
		if err != nil {
			return Filter{}, err
		}
		operands = append(operands, right)
	}
	if len(operands) == 1 {
		return left, nil
	}
	return And(operands...), nil
}

func (p *filterParser) parseFactor() (Filter, error) {
	if p.pos >= len(p.toks) {
		return Filter{}, syntaxError("unexpected end of expression")
	}
	if p.toks[p.pos].kind == tokLParen {
		p.pos++
		f, err := p.parseOr()
		if err != nil {
			return Filter{}, err
		}
		if p.pos >= len(p.toks) || p.toks[p.pos].kind != tokRParen {
			return Filter{}, syntaxError("missing closing parenthesis")
		}
		p.pos++
		return f, nil
	}

	if p.pos+3 > len(p.toks) {
		return Filter{}, syntaxError("incomplete comparison")
	}
	field, opTok, valTok := p.toks[p.pos], p.toks[p.pos+1], p.toks[p.pos+2]
	if field.kind != tokWord {
		return Filter{}, syntaxError("expected field name, got %q", field.text)
	}
	if opTok.kind != tokWord {
		return Filter{}, syntaxError("expected operator after %q", field.text)
	}
	op := Op(strings.ToLower(opTok.text))
	if op != OpEq && op != OpNe {
		return Filter{}, syntaxError("unsupported operator %q", opTok.text)
	}
	if valTok.kind != tokWord && valTok.kind != tokString {
		return Filter{}, syntaxError("expected value after %q", opTok.text)
	}
	p.pos += 3
	return Filter{Field: field.text, Op: op, Value: valTok.text}, nil
}

// =============================================================================
// Ordering
// =============================================================================

// OrderBy sorts query results by one property.
type OrderBy struct {
	Field string
	Desc  bool
}

// String renders o in the syntax ParseOrderBy accepts.
func (o OrderBy) String() string {
	if o.Desc {
		return o.Field + " desc"
	}
	return o.Field + " asc"
}

// validateRanked checks that o names a field carried on RetrievedResult,
// since ranked results are re-sorted after the index returns them.
func (o OrderBy) validateRanked() error {
	if !filterableFields[o.Field] || o.Field == "language" {
		return &faults.InvalidArgumentError{Field: "order_by", Reason: fmt.Sprintf("cannot order search results by %q", o.Field)}
	}
	return nil
}

// sortResults stably sorts results by o. Ties keep their relevance order.
func sortResults(results []datatypes.RetrievedResult, o OrderBy) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := &results[i], &results[j]
		if o.Field == "chunk_number" {
			if a.ChunkNumber == b.ChunkNumber {
				return false
			}
			return (a.ChunkNumber < b.ChunkNumber) != o.Desc
		}
		av, bv := resultValue(a, o.Field), resultValue(b, o.Field)
		if av == bv {
			return false
		}
		return (av < bv) != o.Desc
	})
}

func resultValue(r *datatypes.RetrievedResult, field string) string {
	switch field {
	case "id":
		return r.ID
	case "parent_id":
		return r.ParentID
	case "filename":
		return r.Filename
	case "title":
		return r.Title
	case "author":
		return r.Author
	case "published_date":
		return r.PublishedDate
	}
	return ""
}

// ParseOrderBy parses "field", "field asc" or "field desc". Empty input
// returns nil.
func ParseOrderBy(s string) (*OrderBy, error) {
	parts := strings.Fields(s)
	switch len(parts) {
	case 0:
		return nil, nil
	case 1, 2:
	default:
		return nil, &faults.InvalidArgumentError{Field: "order_by", Reason: "expected 'field [asc|desc]'"}
	}
	if !filterableFields[parts[0]] {
		return nil, &faults.InvalidArgumentError{Field: "order_by", Reason: fmt.Sprintf("unknown field %q", parts[0])}
	}
	ob := &OrderBy{Field: parts[0]}
	if len(parts) == 2 {
		switch strings.ToLower(parts[1]) {
		case "asc":
		case "desc":
			ob.Desc = true
		default:
			return nil, &faults.InvalidArgumentError{Field: "order_by", Reason: fmt.Sprintf("unknown direction %q", parts[1])}
		}
	}
	return ob, nil
}
