// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"context"
	"sort"
	"strings"

	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
)

// =============================================================================
// Heuristic Provider
// =============================================================================

// heuristicRule maps symptom keywords to a pattern. All keywords must be
// present (in symptoms or description) for the rule to fire.
type heuristicRule struct {
	keywords    []string
	label       string
	confidence  float64
	description string
}

// heuristicRules is the built-in keyword table. Deliberately conservative:
// confidences stay well below LLM-backed providers so heuristic results are
// recognizable downstream.
var heuristicRules = []heuristicRule{
	{
		keywords:    []string{"fever", "cough"},
		label:       "respiratory_infection_pattern",
		confidence:  0.55,
		description: "Fever with cough suggests a respiratory infection pattern",
	},
	{
		keywords:    []string{"chest pain", "shortness of breath"},
		label:       "cardiopulmonary_pattern",
		confidence:  0.6,
		description: "Chest pain with dyspnea suggests a cardiopulmonary pattern",
	},
	{
		keywords:    []string{"headache", "nausea"},
		label:       "migraine_pattern",
		confidence:  0.45,
		description: "Headache with nausea suggests a migraine pattern",
	},
	{
		keywords:    []string{"fatigue", "weight loss"},
		label:       "systemic_pattern",
		confidence:  0.5,
		description: "Fatigue with weight loss suggests a systemic pattern",
	},
	{
		keywords:    []string{"joint pain", "rash"},
		label:       "autoimmune_pattern",
		confidence:  0.5,
		description: "Joint pain with rash suggests an autoimmune pattern",
	},
	{
		keywords:    []string{"abdominal pain", "vomiting"},
		label:       "gastrointestinal_pattern",
		confidence:  0.5,
		description: "Abdominal pain with vomiting suggests a gastrointestinal pattern",
	},
}

// HeuristicProvider is the deterministic last-resort provider.
//
// # Description
//
// Matches lowercased symptom and description text against a fixed keyword
// table. Never returns an error, which makes it the natural tail of the
// fallback cascade: an all-providers-down deployment still produces a
// usable, clearly lower-confidence analysis.
type HeuristicProvider struct{}

// NewHeuristicProvider creates the heuristic provider.
func NewHeuristicProvider() *HeuristicProvider { return &HeuristicProvider{} }

// Name implements the Provider interface.
func (h *HeuristicProvider) Name() string { return "heuristic" }

// Analyze implements the Provider interface. The only possible error is
// context cancellation.
func (h *HeuristicProvider) Analyze(ctx context.Context, input datatypes.CaseInput) ([]PatternMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	haystack := strings.ToLower(strings.Join(input.Symptoms, " ") + " " + input.Description)

	var patterns []PatternMatch
	for _, rule := range heuristicRules {
		matched := true
		for _, kw := range rule.keywords {
			if !strings.Contains(haystack, kw) {
				matched = false
				break
			}
		}
		if matched {
			patterns = append(patterns, PatternMatch{
				Label:       rule.label,
				Confidence:  rule.confidence,
				Description: rule.description,
			})
		}
	}

	sort.Slice(patterns, func(i, j int) bool {
		return patterns[i].Confidence > patterns[j].Confidence
	})
	return patterns, nil
}
