// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package analysis provides interchangeable case-analysis providers and the
// fallback manager that cascades across them when the primary fails.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
)

// =============================================================================
// Provider Contract
// =============================================================================

// PatternMatch is one detected clinical pattern.
type PatternMatch struct {
	// Label is a short machine-friendly pattern identifier.
	Label string `json:"label"`

	// Confidence is the provider's confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Description is a human-readable explanation of the match.
	Description string `json:"description,omitempty"`
}

// Provider analyzes a case and returns detected patterns.
//
// # Description
//
// Implementations must be safe for concurrent use and must respect context
// cancellation. A provider reports failure through the error return; a nil
// error with zero patterns is a valid "nothing found" outcome.
type Provider interface {
	// Name returns the stable provider identifier used in configuration,
	// results, and metrics labels.
	Name() string

	// Analyze runs pattern detection over one case.
	Analyze(ctx context.Context, input datatypes.CaseInput) ([]PatternMatch, error)
}

// Result is the outcome of one managed analysis call.
//
// # Description
//
// Failures are carried as a value, never raised to the caller: when Success
// is false, Err holds the final failure and Patterns is empty. UsedProvider
// names the provider that produced the patterns on success; on total
// failure it names the provider that was originally requested.
type Result struct {
	Patterns     []PatternMatch
	UsedProvider string
	Success      bool
	Err          error
}

// =============================================================================
// Shared Prompting
// =============================================================================

const analysisSystemPrompt = `You are a clinical decision-support assistant.
Given a case summary, identify recurring clinical patterns. Respond with ONLY
a JSON array; each element must have the fields "label" (short snake_case
identifier), "confidence" (number between 0 and 1), and "description". Return
[] if no patterns apply. Do not diagnose; identify patterns only.`

// buildAnalysisPrompt renders a case as the user prompt for LLM-backed
// providers.
func buildAnalysisPrompt(input datatypes.CaseInput) string {
	var b strings.Builder
	b.WriteString("Case summary:\n")
	if input.PatientAge > 0 {
		fmt.Fprintf(&b, "Patient age: %d\n", input.PatientAge)
	}
	if input.Specialty != "" {
		fmt.Fprintf(&b, "Specialty: %s\n", input.Specialty)
	}
	if len(input.Symptoms) > 0 {
		fmt.Fprintf(&b, "Symptoms: %s\n", strings.Join(input.Symptoms, ", "))
	}
	if input.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", input.Description)
	}
	return b.String()
}

// parsePatternResponse extracts the JSON pattern array from a model reply.
//
// # Description
//
// Models frequently wrap JSON in markdown fences or prose. The parser
// locates the outermost array brackets before unmarshalling, and clamps
// each confidence into [0, 1].
func parsePatternResponse(raw string) ([]PatternMatch, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON array found in model response")
	}

	var patterns []PatternMatch
	if err := json.Unmarshal([]byte(raw[start:end+1]), &patterns); err != nil {
		return nil, fmt.Errorf("failed to parse pattern response: %w", err)
	}

	for i := range patterns {
		if patterns[i].Confidence < 0 {
			patterns[i].Confidence = 0
		}
		if patterns[i].Confidence > 1 {
			patterns[i].Confidence = 1
		}
	}
	return patterns, nil
}
