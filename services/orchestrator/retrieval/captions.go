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
	"regexp"
	"strings"
	"unicode"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/datatypes"
)

// maxCaptions caps the captions attached to one result.
const maxCaptions = 3

// minTermLength drops very short tokens such as "a" and "of" from lexical
// matching.
const minTermLength = 3

var sentenceEnd = regexp.MustCompile(`[.!?]+(\s+|$)|\n+`)

// terms lowercases s and splits it into letter/digit runs of at least
// minTermLength runes.
func terms(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= minTermLength {
			out = append(out, f)
		}
	}
	return out
}

// buildCaptions returns up to maxCaptions sentences of content that contain
// a query term, with matches wrapped in <em> tags in Highlights.
func buildCaptions(content, query string) []datatypes.Caption {
	qterms := terms(query)
	if len(qterms) == 0 || content == "" {
		return []datatypes.Caption{}
	}
	want := make(map[string]bool, len(qterms))
	for _, t := range qterms {
		want[t] = true
	}

	captions := []datatypes.Caption{}
	for _, sentence := range splitSentences(content) {
		hit := false
		for _, t := range terms(sentence) {
			if want[t] {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		captions = append(captions, datatypes.Caption{
			Text:       sentence,
			Highlights: highlight(sentence, want),
		})
		if len(captions) == maxCaptions {
			break
		}
	}
	return captions
}

func splitSentences(content string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(content, -1) {
		s := strings.TrimSpace(content[last:loc[1]])
		if s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if tail := strings.TrimSpace(content[last:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

func highlight(sentence string, want map[string]bool) string {
	var sb strings.Builder
	runes := []rune(sentence)
	for i := 0; i < len(runes); {
		if !unicode.IsLetter(runes[i]) && !unicode.IsDigit(runes[i]) {
			sb.WriteRune(runes[i])
			i++
			continue
		}
		j := i
		for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
			j++
		}
		word := string(runes[i:j])
		if want[strings.ToLower(word)] {
			sb.WriteString("<em>" + word + "</em>")
		} else {
			sb.WriteString(word)
		}
		i = j
	}
	return sb.String()
}
