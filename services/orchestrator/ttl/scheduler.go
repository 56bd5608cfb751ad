// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl expires idle conversation sessions so the session registry
// stays bounded on long-running servers.
package ttl

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianDocQA/services/orchestrator/observability"
)

// ErrSchedulerRunning is returned by Start when the scheduler is active.
var ErrSchedulerRunning = errors.New("scheduler is already running")

// =============================================================================
// Interfaces
// =============================================================================

// SessionExpirer removes sessions idle since before a cutoff.
// Satisfied by *conversation.Registry.
type SessionExpirer interface {
	EvictIdle(cutoff time.Time) []string
	Len() int
}

// Scheduler runs idle-session cleanup in the background.
type Scheduler interface {
	// Start launches the cleanup goroutine. It runs one cycle immediately,
	// then one per interval until Stop is called or ctx is cancelled.
	Start(ctx context.Context) error

	// Stop signals the goroutine to exit. Safe to call multiple times.
	Stop() error

	// RunNow performs one cleanup cycle synchronously.
	RunNow(ctx context.Context) (CleanupResult, error)
}

// =============================================================================
// Configuration
// =============================================================================

// SchedulerConfig holds configuration for the session cleanup scheduler.
//
// # Fields
//
//   - Interval: How often to sweep. Default: 1 minute.
//   - IdleTTL: Sessions unused for longer are evicted. Default: 30 minutes.
type SchedulerConfig struct {
	Interval time.Duration
	IdleTTL  time.Duration
}

// DefaultSchedulerConfig returns the default sweep interval and idle TTL.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval: time.Minute,
		IdleTTL:  30 * time.Minute,
	}
}

// CleanupResult summarizes one cleanup cycle.
type CleanupResult struct {
	StartTime time.Time
	EndTime   time.Time
	// Evicted lists the ids of removed sessions.
	Evicted []string
	// Remaining is the number of live sessions after the cycle.
	Remaining int
}

// Duration returns the total duration of the cleanup cycle.
func (r *CleanupResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// =============================================================================
// Implementation
// =============================================================================

// sessionScheduler implements Scheduler with the ticker + done channel
// pattern.
//
// # Thread Safety
//
// All public methods are thread-safe. mu guards the running state.
type sessionScheduler struct {
	sessions SessionExpirer
	metrics  *observability.RAGMetrics
	config   SchedulerConfig
	now      func() time.Time

	mu      sync.Mutex
	done    chan struct{}
	running bool
}

// NewScheduler creates a scheduler that evicts idle sessions.
//
// # Inputs
//
//   - sessions: The registry to sweep.
//   - metrics: Receives eviction counts and the live-session gauge. May be nil.
//   - config: Zero fields take their defaults.
//
// # Examples
//
//	scheduler := ttl.NewScheduler(registry, metrics, ttl.DefaultSchedulerConfig())
//	if err := scheduler.Start(ctx); err != nil {
//	    return err
//	}
//	defer scheduler.Stop()
func NewScheduler(sessions SessionExpirer, metrics *observability.RAGMetrics, config SchedulerConfig) Scheduler {
	return newScheduler(sessions, metrics, config, time.Now)
}

func newScheduler(sessions SessionExpirer, metrics *observability.RAGMetrics, config SchedulerConfig, now func() time.Time) *sessionScheduler {
	defaults := DefaultSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}
	return &sessionScheduler{
		sessions: sessions,
		metrics:  metrics,
		config:   config,
		now:      now,
		done:     make(chan struct{}),
	}
}

func (s *sessionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerRunning
	}
	s.running = true
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	slog.Info("Session cleanup scheduler starting",
		"interval", s.config.Interval.String(),
		"idle_ttl", s.config.IdleTTL.String(),
	)

	go s.runLoop(ctx, done)
	return nil
}

func (s *sessionScheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	slog.Info("Session cleanup scheduler stopping")
	close(s.done)
	s.running = false
	return nil
}

func (s *sessionScheduler) RunNow(ctx context.Context) (CleanupResult, error) {
	return s.runCleanupCycle(ctx)
}

// runLoop is the scheduler goroutine.
func (s *sessionScheduler) runLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.executeCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Session cleanup scheduler stopped (context cancelled)")
			return
		case <-done:
			slog.Info("Session cleanup scheduler stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeCleanup(ctx)
		}
	}
}

// executeCleanup runs one cycle and logs the outcome. Errors never stop
// the loop.
func (s *sessionScheduler) executeCleanup(ctx context.Context) {
	result, err := s.runCleanupCycle(ctx)
	if err != nil {
		slog.Error("Session cleanup cycle failed", "error", err)
		return
	}
	if len(result.Evicted) > 0 {
		slog.Info("Session cleanup cycle completed",
			"sessions_evicted", len(result.Evicted),
			"sessions_remaining", result.Remaining,
			"duration_ms", result.Duration().Milliseconds(),
		)
	} else {
		slog.Debug("Session cleanup cycle completed (no idle sessions)")
	}
}

func (s *sessionScheduler) runCleanupCycle(ctx context.Context) (CleanupResult, error) {
	result := CleanupResult{StartTime: s.now()}
	if err := ctx.Err(); err != nil {
		return result, err
	}

	cutoff := result.StartTime.Add(-s.config.IdleTTL)
	result.Evicted = s.sessions.EvictIdle(cutoff)
	result.Remaining = s.sessions.Len()
	result.EndTime = s.now()

	s.metrics.AddSessionsEvicted(len(result.Evicted))
	s.metrics.SetActiveSessions(result.Remaining)
	return result, nil
}
