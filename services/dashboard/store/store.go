// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store owns the insight, notification, and case-status collections
// for the dashboard service, including retention-based pruning.
package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/events"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/observability"
)

// =============================================================================
// Clock
// =============================================================================

// Clock abstracts time.Now so retention behavior is testable without
// sleeping through retention windows.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns a Clock backed by time.Now.
func SystemClock() Clock { return systemClock{} }

// =============================================================================
// Retention Policy
// =============================================================================

// RetentionPolicy holds the maximum age each entity class may reach before
// pruning deletes it.
//
// # Fields
//
//   - InsightTTL: Maximum insight age. Default: 24 hours.
//   - NotificationTTL: Maximum notification age. Default: 7 days.
//   - CaseStatusTTL: Maximum age past completion for terminal case
//     statuses. Non-terminal statuses are never pruned. Default: 1 hour.
type RetentionPolicy struct {
	InsightTTL      time.Duration
	NotificationTTL time.Duration
	CaseStatusTTL   time.Duration
}

// DefaultRetentionPolicy returns the production retention windows.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		InsightTTL:      24 * time.Hour,
		NotificationTTL: 7 * 24 * time.Hour,
		CaseStatusTTL:   1 * time.Hour,
	}
}

// PruneResult summarizes one retention sweep.
type PruneResult struct {
	InsightsDeleted      int
	NotificationsDeleted int
	CasesDeleted         int
}

// Total returns the number of entries deleted across all collections.
func (r PruneResult) Total() int {
	return r.InsightsDeleted + r.NotificationsDeleted + r.CasesDeleted
}

// =============================================================================
// Store
// =============================================================================

// Store exclusively owns the insight and notification collections and all
// case-status entries.
//
// # Description
//
// Each collection sits behind its own RWMutex so insert/update/delete and
// iteration are linearizable per map. The pipeline holds only a transient
// reference while mutating a given case's status; the dispatcher owns none
// of this data.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Store struct {
	clock      Clock
	dispatcher *events.Dispatcher
	logger     *slog.Logger

	policyMu sync.RWMutex
	policy   RetentionPolicy

	insightsMu sync.RWMutex
	insights   map[string]datatypes.AIInsight

	notifsMu sync.RWMutex
	notifs   map[string]datatypes.DashboardNotification

	casesMu sync.RWMutex
	cases   map[string]datatypes.CaseProcessingStatus
}

// New creates an empty store.
//
// # Inputs
//
//   - dispatcher: Receives insight_created / notification_created events.
//   - clock: Time source; nil falls back to SystemClock().
//   - logger: nil falls back to slog.Default().
func New(dispatcher *events.Dispatcher, clock Clock, logger *slog.Logger) *Store {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		clock:      clock,
		dispatcher: dispatcher,
		logger:     logger,
		policy:     DefaultRetentionPolicy(),
		insights:   make(map[string]datatypes.AIInsight),
		notifs:     make(map[string]datatypes.DashboardNotification),
		cases:      make(map[string]datatypes.CaseProcessingStatus),
	}
}

// SetRetentionPolicy replaces the retention windows. Used by config hot
// reload; takes effect on the next prune.
func (s *Store) SetRetentionPolicy(policy RetentionPolicy) {
	s.policyMu.Lock()
	s.policy = policy
	s.policyMu.Unlock()
}

func (s *Store) retentionPolicy() RetentionPolicy {
	s.policyMu.RLock()
	defer s.policyMu.RUnlock()
	return s.policy
}

// =============================================================================
// Insights
// =============================================================================

// AddInsight assigns an identifier, stores the insight, and publishes it.
//
// # Description
//
// High-priority insights synthesize one companion notification: kind
// warning for high, kind error for critical. Insights are immutable after
// creation; only retention pruning removes them.
//
// # Outputs
//
//   - string: The assigned insight id.
func (s *Store) AddInsight(insight datatypes.AIInsight) string {
	insight.ID = uuid.New().String()
	if insight.CreatedAt.IsZero() {
		insight.CreatedAt = s.clock.Now()
	}

	s.insightsMu.Lock()
	s.insights[insight.ID] = insight
	s.insightsMu.Unlock()

	observability.DefaultMetrics.RecordInsight(string(insight.Type), string(insight.Priority))
	s.logger.Info("insight stored",
		"insight_id", insight.ID,
		"case_id", insight.CaseID,
		"type", string(insight.Type),
		"priority", string(insight.Priority),
	)

	if s.dispatcher != nil {
		s.dispatcher.Publish(datatypes.EventInsightCreated, datatypes.InsightPayload{Insight: insight})
	}

	switch insight.Priority {
	case datatypes.PriorityHigh:
		s.AddNotification(datatypes.NotificationWarning, insight.Title, insight.Description, insight.CaseID)
	case datatypes.PriorityCritical:
		s.AddNotification(datatypes.NotificationError, insight.Title, insight.Description, insight.CaseID)
	}

	return insight.ID
}

// ListInsights returns insights sorted by priority (critical > high >
// medium > low), then most-recent first within equal priority, truncated
// to limit. A non-positive limit returns everything.
func (s *Store) ListInsights(limit int) []datatypes.AIInsight {
	s.insightsMu.RLock()
	result := make([]datatypes.AIInsight, 0, len(s.insights))
	for _, insight := range s.insights {
		result = append(result, insight)
	}
	s.insightsMu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		ri, rj := result[i].Priority.Rank(), result[j].Priority.Rank()
		if ri != rj {
			return ri > rj
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// =============================================================================
// Notifications
// =============================================================================

// AddNotification stores a new unread notification stamped with the current
// time and publishes it.
//
// # Outputs
//
//   - string: The assigned notification id.
func (s *Store) AddNotification(kind datatypes.NotificationKind, title, message, actionRef string) string {
	notification := datatypes.DashboardNotification{
		ID:        uuid.New().String(),
		Kind:      kind,
		Title:     title,
		Message:   message,
		Timestamp: s.clock.Now(),
		Read:      false,
		ActionRef: actionRef,
	}

	s.notifsMu.Lock()
	s.notifs[notification.ID] = notification
	s.notifsMu.Unlock()

	observability.DefaultMetrics.RecordNotification(string(kind))

	if s.dispatcher != nil {
		s.dispatcher.Publish(datatypes.EventNotificationCreated,
			datatypes.NotificationPayload{Notification: notification})
	}
	return notification.ID
}

// ListNotifications returns notifications sorted most-recent first,
// optionally filtered to unread ones.
func (s *Store) ListNotifications(unreadOnly bool) []datatypes.DashboardNotification {
	s.notifsMu.RLock()
	result := make([]datatypes.DashboardNotification, 0, len(s.notifs))
	for _, notification := range s.notifs {
		if unreadOnly && notification.Read {
			continue
		}
		result = append(result, notification)
	}
	s.notifsMu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	return result
}

// MarkRead flips a notification's read flag to true. Idempotent: a no-op
// when the id is unknown or the notification is already read.
func (s *Store) MarkRead(id string) {
	s.notifsMu.Lock()
	defer s.notifsMu.Unlock()

	notification, ok := s.notifs[id]
	if !ok || notification.Read {
		return
	}
	notification.Read = true
	s.notifs[id] = notification
}

// =============================================================================
// Case Statuses
// =============================================================================

// PutCaseStatus replaces the stored status for a case wholesale.
//
// # Description
//
// The status value is swapped under the lock, so readers never observe a
// partially-updated entry. Writes against a terminal entry are dropped:
// no transition leaves completed or failed.
func (s *Store) PutCaseStatus(status datatypes.CaseProcessingStatus) {
	s.casesMu.Lock()
	defer s.casesMu.Unlock()

	if existing, ok := s.cases[status.CaseID]; ok && existing.State.Terminal() {
		s.logger.Warn("dropping status write against terminal case",
			"case_id", status.CaseID,
			"state", string(existing.State),
		)
		return
	}
	s.cases[status.CaseID] = status
}

// GetCaseStatus returns the status for a case id, if present.
func (s *Store) GetCaseStatus(id string) (datatypes.CaseProcessingStatus, bool) {
	s.casesMu.RLock()
	defer s.casesMu.RUnlock()
	status, ok := s.cases[id]
	return status, ok
}

// ActiveStatuses returns all non-terminal case statuses, oldest submission
// first.
func (s *Store) ActiveStatuses() []datatypes.CaseProcessingStatus {
	s.casesMu.RLock()
	result := make([]datatypes.CaseProcessingStatus, 0, len(s.cases))
	for _, status := range s.cases {
		if !status.State.Terminal() {
			result = append(result, status)
		}
	}
	s.casesMu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].SubmittedAt.Before(result[j].SubmittedAt)
	})
	return result
}

// =============================================================================
// Retention Pruning
// =============================================================================

// Prune deletes entries older than their retention windows.
//
// # Description
//
// Deletes insights past InsightTTL, notifications past NotificationTTL,
// and case statuses that are terminal AND completed longer ago than
// CaseStatusTTL. Non-terminal case statuses are never touched regardless
// of age.
func (s *Store) Prune() PruneResult {
	now := s.clock.Now()
	policy := s.retentionPolicy()
	var result PruneResult

	insightCutoff := now.Add(-policy.InsightTTL)
	s.insightsMu.Lock()
	for id, insight := range s.insights {
		if insight.CreatedAt.Before(insightCutoff) {
			delete(s.insights, id)
			result.InsightsDeleted++
		}
	}
	s.insightsMu.Unlock()

	notifCutoff := now.Add(-policy.NotificationTTL)
	s.notifsMu.Lock()
	for id, notification := range s.notifs {
		if notification.Timestamp.Before(notifCutoff) {
			delete(s.notifs, id)
			result.NotificationsDeleted++
		}
	}
	s.notifsMu.Unlock()

	caseCutoff := now.Add(-policy.CaseStatusTTL)
	s.casesMu.Lock()
	for id, status := range s.cases {
		if !status.State.Terminal() || status.CompletedAt == nil {
			continue
		}
		if status.CompletedAt.Before(caseCutoff) {
			delete(s.cases, id)
			result.CasesDeleted++
		}
	}
	s.casesMu.Unlock()

	observability.DefaultMetrics.RecordPrune("insight", result.InsightsDeleted)
	observability.DefaultMetrics.RecordPrune("notification", result.NotificationsDeleted)
	observability.DefaultMetrics.RecordPrune("case_status", result.CasesDeleted)
	return result
}
