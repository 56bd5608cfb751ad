// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session binds a session id to its Memory.
//
// # Description
//
// Lock and Unlock serialize whole query/answer exchanges within the session
// so turns are recorded in request order. They are independent of the
// Memory's own internal mutex. Both count as use of the session, and a
// session with an exchange in flight is never evicted as idle.
type Session struct {
	ID     string
	Memory *Memory

	exchange sync.Mutex

	mu       sync.Mutex
	lastUsed time.Time
	busy     int
	now      func() time.Time
}

// Lock acquires the session for one exchange.
func (s *Session) Lock() {
	s.mu.Lock()
	s.busy++
	s.mu.Unlock()
	s.exchange.Lock()
	s.Touch()
}

// Unlock releases the session.
func (s *Session) Unlock() {
	s.mu.Lock()
	s.busy--
	s.lastUsed = s.now()
	s.mu.Unlock()
	s.exchange.Unlock()
}

// Touch marks the session as used now.
func (s *Session) Touch() {
	s.touch(s.now())
}

// LastUsed returns the time the session was last looked up or used for
// an exchange.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastUsed = now
	s.mu.Unlock()
}

// idleSince reports whether the session has no exchange in flight and was
// last used before cutoff.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy == 0 && s.lastUsed.Before(cutoff)
}

// Registry maps session ids to Sessions.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	maxTurns int
	now      func() time.Time
}

// NewRegistry creates an empty Registry whose sessions get memories bounded
// at maxTurns (0 = unbounded).
func NewRegistry(maxTurns int) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		maxTurns: maxTurns,
		now:      time.Now,
	}
}

// GetOrCreate returns the session for id, creating it when absent. An empty
// id creates a session with a fresh random UUID.
//
// # Outputs
//
//   - *Session: The session, never nil.
//   - bool: True when the session was created by this call.
func (r *Registry) GetOrCreate(id string) (*Session, bool) {
	now := r.now()
	if id != "" {
		r.mu.RLock()
		s, ok := r.sessions[id]
		r.mu.RUnlock()
		if ok {
			s.touch(now)
			return s, false
		}
	} else {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		s.touch(now)
		return s, false
	}
	s := &Session{ID: id, Memory: NewMemory(r.maxTurns), lastUsed: now, now: r.now}
	r.sessions[id] = s
	slog.Debug("Created conversation session", "session_id", id)
	return s, true
}

// Get returns the session for id if it exists.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		s.touch(r.now())
	}
	return s, ok
}

// Delete removes the session and clears its memory. Returns false when the
// session did not exist.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.Memory.Clear()
	}
	return ok
}

// EvictIdle removes every session last used before cutoff and returns the
// evicted ids. Sessions holding an exchange lock are kept.
func (r *Registry) EvictIdle(cutoff time.Time) []string {
	r.mu.Lock()
	var evicted []*Session
	for id, s := range r.sessions {
		if s.idleSince(cutoff) {
			evicted = append(evicted, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(evicted))
	for _, s := range evicted {
		s.Memory.Clear()
		ids = append(ids, s.ID)
	}
	return ids
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
