// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Retention Scheduler
// =============================================================================

// RetentionSchedulerConfig holds configuration for the background retention
// sweeper.
//
// # Fields
//
//   - Interval: How often to run a prune sweep. Default: 1 hour.
type RetentionSchedulerConfig struct {
	Interval time.Duration
}

// DefaultRetentionSchedulerConfig returns production scheduler defaults.
func DefaultRetentionSchedulerConfig() RetentionSchedulerConfig {
	return RetentionSchedulerConfig{Interval: 1 * time.Hour}
}

// RetentionScheduler runs Store.Prune on a fixed interval in a background
// goroutine.
//
// # Description
//
// Uses the ticker + done channel pattern for graceful shutdown. An initial
// sweep runs immediately on Start so a restart does not leave expired
// entries lingering for a full interval.
//
// # Thread Safety
//
// All public methods are thread-safe.
type RetentionScheduler struct {
	store   *Store
	config  RetentionSchedulerConfig
	logger  *slog.Logger
	done    chan struct{}
	mu      sync.Mutex
	running bool
}

// NewRetentionScheduler creates a scheduler over the given store.
//
// # Inputs
//
//   - store: The store to prune. Must be non-nil.
//   - config: Scheduler configuration; a zero Interval falls back to the
//     default.
//   - logger: nil falls back to slog.Default().
//
// # Outputs
//
//   - *RetentionScheduler: Ready to Start().
func NewRetentionScheduler(store *Store, config RetentionSchedulerConfig, logger *slog.Logger) *RetentionScheduler {
	if config.Interval <= 0 {
		config.Interval = DefaultRetentionSchedulerConfig().Interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionScheduler{
		store:  store,
		config: config,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start begins the background sweep loop.
//
// # Description
//
// Starts a goroutine that prunes at the configured interval until Stop()
// is called or the context is cancelled. The first sweep runs immediately.
//
// # Outputs
//
//   - error: Non-nil if the scheduler is already running.
func (s *RetentionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("retention scheduler is already running")
	}
	s.running = true
	s.done = make(chan struct{}) // Reset done channel for potential restart
	s.mu.Unlock()

	s.logger.Info("retention scheduler starting",
		"interval", s.config.Interval.String(),
	)

	go s.runLoop(ctx)
	return nil
}

// Stop signals the sweep loop to exit. Safe to call multiple times.
func (s *RetentionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.logger.Info("retention scheduler stopping")
	close(s.done)
	s.running = false
}

// RunNow triggers an immediate sweep without waiting for the next tick.
// Does not affect scheduled sweep timing.
func (s *RetentionScheduler) RunNow() PruneResult {
	return s.executeSweep()
}

// runLoop is the main scheduler goroutine.
func (s *RetentionScheduler) runLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	// Run an initial sweep immediately on start
	s.executeSweep()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention scheduler stopped (context cancelled)")
			return
		case <-s.done:
			s.logger.Info("retention scheduler stopped (stop requested)")
			return
		case <-ticker.C:
			s.executeSweep()
		}
	}
}

// executeSweep runs one prune and logs the outcome. Only logs at info when
// something was actually deleted.
func (s *RetentionScheduler) executeSweep() PruneResult {
	result := s.store.Prune()

	if result.Total() > 0 {
		s.logger.Info("retention sweep completed",
			"insights_deleted", result.InsightsDeleted,
			"notifications_deleted", result.NotificationsDeleted,
			"cases_deleted", result.CasesDeleted,
		)
	} else {
		s.logger.Debug("retention sweep completed (nothing expired)")
	}
	return result
}
