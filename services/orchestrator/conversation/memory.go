// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package conversation holds per-session conversation history.
//
// # Description
//
// A Memory is the ordered list of user and assistant turns for one session.
// The Registry maps session ids to Sessions so the web layer can route
// follow-up queries to the right Memory.
//
// # Thread Safety
//
// Memory and Registry are safe for concurrent use. Ordering of whole
// query/answer exchanges within one session is the caller's job, via
// Session.Lock.
package conversation

import "sync"

// Role names used in Turn.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one message in a conversation.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Memory is the ordered turn history of one session.
//
// # Description
//
// When maxTurns is positive the history is bounded: after an append pushes
// the length past maxTurns, the oldest turns are dropped until it fits.
// A zero maxTurns keeps every turn.
type Memory struct {
	mu       sync.Mutex
	turns    []Turn
	maxTurns int
}

// NewMemory creates an empty Memory. maxTurns <= 0 means unbounded.
func NewMemory(maxTurns int) *Memory {
	if maxTurns < 0 {
		maxTurns = 0
	}
	return &Memory{maxTurns: maxTurns}
}

// AppendUser records a user turn.
func (m *Memory) AppendUser(text string) {
	m.append(Turn{Role: RoleUser, Content: text})
}

// AppendAssistant records an assistant turn.
func (m *Memory) AppendAssistant(text string) {
	m.append(Turn{Role: RoleAssistant, Content: text})
}

func (m *Memory) append(t Turn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	if m.maxTurns > 0 && len(m.turns) > m.maxTurns {
		drop := len(m.turns) - m.maxTurns
		// Copy down so the backing array does not grow without bound.
		n := copy(m.turns, m.turns[drop:])
		m.turns = m.turns[:n]
	}
}

// History returns a snapshot of the turns, oldest first. Later appends do
// not change a returned slice.
func (m *Memory) History() []Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Turn, len(m.turns))
	copy(out, m.turns)
	return out
}

// Clear removes all turns.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = nil
}

// Len returns the number of stored turns.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

// MaxTurns returns the configured bound, 0 when unbounded.
func (m *Memory) MaxTurns() int {
	return m.maxTurns
}
