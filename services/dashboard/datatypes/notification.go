// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Dashboard Notifications
// =============================================================================

// NotificationKind classifies a dashboard notification.
type NotificationKind string

const (
	NotificationInfo    NotificationKind = "info"
	NotificationSuccess NotificationKind = "success"
	NotificationWarning NotificationKind = "warning"
	NotificationError   NotificationKind = "error"
)

// DashboardNotification is a user-facing notice on the live dashboard.
//
// # Description
//
// The read flag is write-once false -> true and idempotent. Notifications
// are pruned after the notification retention window (7 days by default).
// ActionRef optionally points the UI at a related entity (a case id, an
// insight id).
type DashboardNotification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
	Read      bool             `json:"read"`
	ActionRef string           `json:"action_ref,omitempty"`
}
