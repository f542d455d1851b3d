// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Dispatcher Event Union
// =============================================================================

// EventType is the closed set of event kinds published through the
// dispatcher. Each type pairs with exactly one payload variant below.
type EventType string

const (
	// EventCaseQueued carries a CasePayload for a freshly submitted case.
	EventCaseQueued EventType = "case_queued"

	// EventPipelineProgress carries a PipelineProgressPayload at each stage
	// boundary.
	EventPipelineProgress EventType = "pipeline_progress"

	// EventCaseCompleted carries a CasePayload for a successfully completed
	// case.
	EventCaseCompleted EventType = "case_completed"

	// EventCaseFailed carries a CasePayload for a failed case.
	EventCaseFailed EventType = "case_failed"

	// EventInsightCreated carries an InsightPayload.
	EventInsightCreated EventType = "insight_created"

	// EventNotificationCreated carries a NotificationPayload.
	EventNotificationCreated EventType = "notification_created"

	// EventMetricsUpdated carries a MetricsPayload after each aggregator
	// refresh.
	EventMetricsUpdated EventType = "metrics_updated"
)

// Event is the envelope delivered to every dispatcher subscriber.
type Event struct {
	Type      EventType    `json:"type"`
	Data      EventPayload `json:"data"`
	Timestamp time.Time    `json:"timestamp"`
}

// EventPayload is implemented only by the payload variants in this package,
// keeping the publish path a closed tagged union instead of an untyped any.
type EventPayload interface {
	eventPayload()
}

// CasePayload accompanies case lifecycle events.
type CasePayload struct {
	Status CaseProcessingStatus `json:"status"`
}

// PipelineProgressPayload accompanies stage-boundary progress events.
type PipelineProgressPayload struct {
	CaseID   string    `json:"case_id"`
	State    CaseState `json:"state"`
	Progress int       `json:"progress"`
	Stage    string    `json:"stage"`
}

// InsightPayload accompanies insight_created events.
type InsightPayload struct {
	Insight AIInsight `json:"insight"`
}

// NotificationPayload accompanies notification_created events.
type NotificationPayload struct {
	Notification DashboardNotification `json:"notification"`
}

// MetricsPayload accompanies metrics_updated events.
type MetricsPayload struct {
	Metrics DashboardMetrics `json:"metrics"`
}

func (CasePayload) eventPayload()             {}
func (PipelineProgressPayload) eventPayload() {}
func (InsightPayload) eventPayload()          {}
func (NotificationPayload) eventPayload()     {}
func (MetricsPayload) eventPayload()          {}
