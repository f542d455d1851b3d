// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the shared data model for the Cairn dashboard
// service: case processing statuses, AI insights, dashboard notifications,
// the aggregated metrics snapshot, and the closed event union published
// through the dispatcher.
package datatypes

import "time"

// =============================================================================
// Case Processing
// =============================================================================

// CaseState is the lifecycle state of a submitted case.
//
// # Description
//
// A case moves queued -> processing -> completed, with processing -> failed
// as the only other terminal transition. No transition ever leaves a
// terminal state.
type CaseState string

const (
	// CaseQueued is the initial state on submission.
	CaseQueued CaseState = "queued"

	// CaseProcessing is entered immediately after submission while the
	// pipeline runs the analysis stages.
	CaseProcessing CaseState = "processing"

	// CaseCompleted is the terminal success state (progress 100).
	CaseCompleted CaseState = "completed"

	// CaseFailed is the terminal failure state (progress reset to 0).
	CaseFailed CaseState = "failed"
)

// Terminal reports whether the state permits no further transitions.
func (s CaseState) Terminal() bool {
	return s == CaseCompleted || s == CaseFailed
}

// CaseInput is the payload submitted for analysis.
//
// # Description
//
// CaseID may be left empty; the pipeline assigns one. The remaining fields
// are opaque to the pipeline and are only forwarded to analysis providers.
type CaseInput struct {
	CaseID      string   `json:"case_id,omitempty"`
	PatientAge  int      `json:"patient_age,omitempty"`
	Symptoms    []string `json:"symptoms"`
	Description string   `json:"description,omitempty"`
	Specialty   string   `json:"specialty,omitempty"`
}

// CaseProcessingStatus tracks a single case through the pipeline.
//
// # Description
//
// One entry exists per case id. Progress is monotonically non-decreasing
// while the state is not failed; on transition to failed, progress resets
// to 0. Entries are created on submission, mutated only by the owning
// pipeline run, and deleted by retention pruning once terminal and older
// than the case-status retention window.
type CaseProcessingStatus struct {
	CaseID                string     `json:"case_id"`
	State                 CaseState  `json:"state"`
	Progress              int        `json:"progress"`
	AnalysisComplete      bool       `json:"analysis_complete"`
	PatternsDetected      int        `json:"patterns_detected"`
	SimilarCasesFound     int        `json:"similar_cases_found"`
	ConsultationRequested bool       `json:"consultation_requested"`
	SubmittedAt           time.Time  `json:"submitted_at"`
	EstimatedCompletion   *time.Time `json:"estimated_completion,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}
