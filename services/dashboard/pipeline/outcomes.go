// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"math/rand"
	"sync"

	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
)

// =============================================================================
// Outcome Sources
// =============================================================================

// OutcomeSource supplies the similarity-search and consultation-need
// outcomes for the pipeline stages that are not provider-backed.
//
// # Description
//
// Production uses the stochastic source below until the similarity index
// and the consultation rules engine land. Injecting the source keeps the
// pipeline deterministic under test.
type OutcomeSource interface {
	// SimilarCases returns how many similar historical cases were found.
	SimilarCases(input datatypes.CaseInput) int

	// ConsultationNeeded reports whether a specialist consultation should
	// be recommended.
	ConsultationNeeded(input datatypes.CaseInput) bool
}

// randomOutcomeSource draws outcomes from a seeded PRNG.
type randomOutcomeSource struct {
	mu                      sync.Mutex
	rng                     *rand.Rand
	consultationProbability float64
	maxSimilarCases         int
}

// NewRandomOutcomeSource creates the stochastic production source.
//
// # Inputs
//
//   - seed: PRNG seed; fixed seeds give reproducible runs.
//   - consultationProbability: Chance a case triggers a consultation
//     recommendation. Clamped into [0, 1]. Default when zero: 0.30.
//   - maxSimilarCases: Upper bound (inclusive) on the similar-case count.
//     Default when zero: 9.
func NewRandomOutcomeSource(seed int64, consultationProbability float64, maxSimilarCases int) OutcomeSource {
	if consultationProbability <= 0 {
		consultationProbability = 0.30
	}
	if consultationProbability > 1 {
		consultationProbability = 1
	}
	if maxSimilarCases <= 0 {
		maxSimilarCases = 9
	}
	return &randomOutcomeSource{
		rng:                     rand.New(rand.NewSource(seed)),
		consultationProbability: consultationProbability,
		maxSimilarCases:         maxSimilarCases,
	}
}

func (r *randomOutcomeSource) SimilarCases(datatypes.CaseInput) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(r.maxSimilarCases + 1)
}

func (r *randomOutcomeSource) ConsultationNeeded(datatypes.CaseInput) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64() < r.consultationProbability
}

// FixedOutcomeSource returns the same outcomes for every case. Used in
// tests and demo deployments.
type FixedOutcomeSource struct {
	Similar      int
	Consultation bool
}

func (f FixedOutcomeSource) SimilarCases(datatypes.CaseInput) int        { return f.Similar }
func (f FixedOutcomeSource) ConsultationNeeded(datatypes.CaseInput) bool { return f.Consultation }
