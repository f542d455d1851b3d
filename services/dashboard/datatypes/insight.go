// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// AI Insights
// =============================================================================

// InsightType is the closed set of insight categories the pipeline emits.
type InsightType string

const (
	// InsightPatternDetected is emitted when pattern detection crosses the
	// configured pattern threshold.
	InsightPatternDetected InsightType = "pattern_detected"

	// InsightRareDiseaseAlert is emitted when a detected pattern carries a
	// very high confidence, indicating a possible rare condition.
	InsightRareDiseaseAlert InsightType = "rare_disease_alert"

	// InsightSimilarCaseFound is emitted when the similarity search finds
	// more matches than the configured similarity threshold.
	InsightSimilarCaseFound InsightType = "similar_case_found"

	// InsightConsultationRecommended is emitted when the consultation-need
	// check triggers.
	InsightConsultationRecommended InsightType = "consultation_recommended"
)

// InsightPriority orders insights on the dashboard.
type InsightPriority string

const (
	PriorityLow      InsightPriority = "low"
	PriorityMedium   InsightPriority = "medium"
	PriorityHigh     InsightPriority = "high"
	PriorityCritical InsightPriority = "critical"
)

// Rank returns a sortable weight for the priority. Higher sorts first.
// Unknown priorities rank below low so malformed data sinks to the bottom.
func (p InsightPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// AIInsight is a structured finding generated during case analysis.
//
// # Description
//
// Immutable after creation except for deletion by retention pruning
// (24-hour window by default). The store assigns ID and CreatedAt.
type AIInsight struct {
	ID              string          `json:"id"`
	Type            InsightType     `json:"type"`
	CaseID          string          `json:"case_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Confidence      float64         `json:"confidence"`
	Priority        InsightPriority `json:"priority"`
	CreatedAt       time.Time       `json:"created_at"`
	ActionRequired  bool            `json:"action_required"`
	Recommendations []string        `json:"recommendations,omitempty"`
}
