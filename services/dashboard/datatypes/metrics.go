// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Dashboard Metrics Snapshot
// =============================================================================

// DashboardMetrics is the process-wide aggregate snapshot shown on the
// dashboard.
//
// # Description
//
// Recomputed wholesale on each aggregator refresh; never partially mutated.
// Every refresh produces a complete replacement value. Degraded reports
// whether any field fell back to its degraded default because an external
// collaborator was unavailable.
type DashboardMetrics struct {
	TotalCases           int64     `json:"total_cases"`
	ActiveAnalyses       int       `json:"active_analyses"`
	AccuracyPercent      float64   `json:"accuracy_percent"`
	SystemLoadPercent    float64   `json:"system_load_percent"`
	NetworkUptimePercent float64   `json:"network_uptime_percent"`
	TotalFiles           int       `json:"total_files"`
	FilesThisMonth       int       `json:"files_this_month"`
	NetworkConnected     bool      `json:"network_connected"`
	Degraded             bool      `json:"degraded"`
	RefreshedAt          time.Time `json:"refreshed_at"`
}
