// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CairnHealthAI/CairnLocal/services/analysis"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/events"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/store"
)

// stubProvider returns canned patterns or a canned error.
type stubProvider struct {
	name     string
	patterns []analysis.PatternMatch
	err      error
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Analyze(ctx context.Context, input datatypes.CaseInput) ([]analysis.PatternMatch, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.patterns, nil
}

// eventRecorder captures dispatcher events for assertion.
type eventRecorder struct {
	mu     sync.Mutex
	events []datatypes.Event
}

func (r *eventRecorder) record(e datatypes.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []datatypes.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]datatypes.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type testHarness struct {
	pipeline *Pipeline
	store    *store.Store
	recorder *eventRecorder
}

func newTestPipeline(t *testing.T, provider analysis.Provider, outcomes OutcomeSource, config Config) *testHarness {
	t.Helper()

	manager, err := analysis.NewManager(analysis.ManagerConfig{
		Primary:     provider.Name(),
		Order:       []string{provider.Name()},
		CallTimeout: time.Second,
	}, []analysis.Provider{provider}, nil)
	require.NoError(t, err)

	dispatcher := events.NewDispatcher(nil)
	recorder := &eventRecorder{}
	dispatcher.Subscribe(recorder.record)

	st := store.New(dispatcher, nil, nil)
	config.StageDelay = 0 // no pacing in tests
	p := New(manager, st, dispatcher, outcomes, config, nil)
	t.Cleanup(p.Close)

	return &testHarness{pipeline: p, store: st, recorder: recorder}
}

// waitTerminal polls until the case reaches a terminal state.
func waitTerminal(t *testing.T, st *store.Store, caseID string) datatypes.CaseProcessingStatus {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if status, ok := st.GetCaseStatus(caseID); ok && status.State.Terminal() {
			return status
		}
		select {
		case <-deadline:
			t.Fatalf("case %s never reached a terminal state", caseID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// ============================================================================
// Success Path Tests
// ============================================================================

func TestPipeline_SubmitReturnsImmediatelyWithQueuedStatus(t *testing.T) {
	provider := &stubProvider{name: "openai"}
	h := newTestPipeline(t, provider, FixedOutcomeSource{}, Config{})

	id := h.pipeline.Submit(datatypes.CaseInput{Symptoms: []string{"fever"}}, "")
	require.NotEmpty(t, id)

	status, ok := h.store.GetCaseStatus(id)
	require.True(t, ok)
	assert.False(t, status.SubmittedAt.IsZero())
	assert.NotNil(t, status.EstimatedCompletion)
	assert.Equal(t, int64(1), h.pipeline.SubmittedCount())

	waitTerminal(t, h.store, id)
}

func TestPipeline_CompletedCaseReachesFullProgress(t *testing.T) {
	provider := &stubProvider{name: "openai", patterns: []analysis.PatternMatch{
		{Label: "a", Confidence: 0.6},
	}}
	h := newTestPipeline(t, provider, FixedOutcomeSource{Similar: 2}, Config{})

	id := h.pipeline.Submit(datatypes.CaseInput{Symptoms: []string{"fever"}}, "")
	status := waitTerminal(t, h.store, id)

	assert.Equal(t, datatypes.CaseCompleted, status.State)
	assert.Equal(t, 100, status.Progress)
	assert.True(t, status.AnalysisComplete)
	assert.Equal(t, 1, status.PatternsDetected)
	assert.Equal(t, 2, status.SimilarCasesFound)
	assert.NotNil(t, status.CompletedAt)

	notifications := h.store.ListNotifications(false)
	require.Len(t, notifications, 1)
	assert.Equal(t, datatypes.NotificationInfo, notifications[0].Kind)
}

func TestPipeline_EventSequenceForCompletedCase(t *testing.T) {
	provider := &stubProvider{name: "openai"}
	h := newTestPipeline(t, provider, FixedOutcomeSource{}, Config{})

	id := h.pipeline.Submit(datatypes.CaseInput{}, "")
	waitTerminal(t, h.store, id)

	types := h.recorder.types()
	require.NotEmpty(t, types)
	assert.Equal(t, datatypes.EventCaseQueued, types[0])
	assert.Equal(t, datatypes.EventCaseCompleted, types[len(types)-2],
		"completion precedes the completion notification event")

	progress := 0
	for _, typ := range types {
		if typ == datatypes.EventPipelineProgress {
			progress++
		}
	}
	assert.Equal(t, 4, progress, "accepted, analysis, similarity, consultation")
}

func TestPipeline_ProgressCheckpointsAreTunable(t *testing.T) {
	provider := &stubProvider{name: "openai"}
	h := newTestPipeline(t, provider, FixedOutcomeSource{}, Config{
		Checkpoints: Checkpoints{Accepted: 5, Analysis: 25, Similarity: 50, Consultation: 75, Completed: 100},
	})

	id := h.pipeline.Submit(datatypes.CaseInput{}, "")
	waitTerminal(t, h.store, id)

	var checkpoints []int
	h.recorder.mu.Lock()
	for _, e := range h.recorder.events {
		if payload, ok := e.Data.(datatypes.PipelineProgressPayload); ok {
			checkpoints = append(checkpoints, payload.Progress)
		}
	}
	h.recorder.mu.Unlock()

	assert.Equal(t, []int{5, 25, 50, 75}, checkpoints)
}

// ============================================================================
// Insight Emission Tests
// ============================================================================

func TestPipeline_PatternInsightRequiresCountAboveThreshold(t *testing.T) {
	patterns := []analysis.PatternMatch{
		{Label: "a", Confidence: 0.5},
		{Label: "b", Confidence: 0.6},
		{Label: "c", Confidence: 0.7},
	}
	provider := &stubProvider{name: "openai", patterns: patterns}
	h := newTestPipeline(t, provider, FixedOutcomeSource{}, Config{PatternThreshold: 2})

	id := h.pipeline.Submit(datatypes.CaseInput{}, "")
	waitTerminal(t, h.store, id)

	insights := h.store.ListInsights(0)
	require.Len(t, insights, 1)
	assert.Equal(t, datatypes.InsightPatternDetected, insights[0].Type)
	assert.Equal(t, id, insights[0].CaseID)
	assert.InDelta(t, 0.7, insights[0].Confidence, 1e-9)
}

func TestPipeline_ExactThresholdCountEmitsNoPatternInsight(t *testing.T) {
	provider := &stubProvider{name: "openai", patterns: []analysis.PatternMatch{
		{Label: "a"}, {Label: "b"},
	}}
	h := newTestPipeline(t, provider, FixedOutcomeSource{}, Config{PatternThreshold: 2})

	id := h.pipeline.Submit(datatypes.CaseInput{}, "")
	waitTerminal(t, h.store, id)

	assert.Empty(t, h.store.ListInsights(0), "threshold is strict: count must exceed it")
}

func TestPipeline_HighConfidencePatternRaisesRareDiseaseAlert(t *testing.T) {
	provider := &stubProvider{name: "openai", patterns: []analysis.PatternMatch{
		{Label: "rare_marker", Confidence: 0.95, Description: "unusual presentation"},
	}}
	h := newTestPipeline(t, provider, FixedOutcomeSource{}, Config{})

	id := h.pipeline.Submit(datatypes.CaseInput{}, "")
	waitTerminal(t, h.store, id)

	insights := h.store.ListInsights(0)
	require.Len(t, insights, 1)
	assert.Equal(t, datatypes.InsightRareDiseaseAlert, insights[0].Type)
	assert.Equal(t, datatypes.PriorityCritical, insights[0].Priority)
	assert.True(t, insights[0].ActionRequired)

	// Critical insights synthesize an error notification alongside the
	// completion notice.
	kinds := map[datatypes.NotificationKind]int{}
	for _, n := range h.store.ListNotifications(false) {
		kinds[n.Kind]++
	}
	assert.Equal(t, 1, kinds[datatypes.NotificationError])
	assert.Equal(t, 1, kinds[datatypes.NotificationInfo])
}

func TestPipeline_SimilarityInsightRequiresCountAboveThreshold(t *testing.T) {
	provider := &stubProvider{name: "openai"}
	h := newTestPipeline(t, provider, FixedOutcomeSource{Similar: 6}, Config{SimilarityThreshold: 5})

	id := h.pipeline.Submit(datatypes.CaseInput{}, "")
	status := waitTerminal(t, h.store, id)

	assert.Equal(t, 6, status.SimilarCasesFound)
	insights := h.store.ListInsights(0)
	require.Len(t, insights, 1)
	assert.Equal(t, datatypes.InsightSimilarCaseFound, insights[0].Type)
}

func TestPipeline_ConsultationEmitsHighPriorityInsight(t *testing.T) {
	provider := &stubProvider{name: "openai"}
	h := newTestPipeline(t, provider, FixedOutcomeSource{Consultation: true}, Config{})

	id := h.pipeline.Submit(datatypes.CaseInput{}, "")
	status := waitTerminal(t, h.store, id)

	assert.True(t, status.ConsultationRequested)
	insights := h.store.ListInsights(0)
	require.Len(t, insights, 1)
	assert.Equal(t, datatypes.InsightConsultationRecommended, insights[0].Type)
	assert.Equal(t, datatypes.PriorityHigh, insights[0].Priority)
	assert.True(t, insights[0].ActionRequired)
}

// ============================================================================
// Failure Path Tests
// ============================================================================

func TestPipeline_AnalysisFailureMovesCaseToFailed(t *testing.T) {
	provider := &stubProvider{name: "openai", err: errors.New("provider unreachable")}
	h := newTestPipeline(t, provider, FixedOutcomeSource{}, Config{})

	id := h.pipeline.Submit(datatypes.CaseInput{}, "")
	status := waitTerminal(t, h.store, id)

	assert.Equal(t, datatypes.CaseFailed, status.State)
	assert.Equal(t, 0, status.Progress, "progress resets on failure")
	assert.False(t, status.AnalysisComplete)
	assert.NotNil(t, status.CompletedAt)

	notifications := h.store.ListNotifications(false)
	require.Len(t, notifications, 1)
	assert.Equal(t, datatypes.NotificationError, notifications[0].Kind)
	assert.Contains(t, notifications[0].Message, id)

	types := h.recorder.types()
	assert.Contains(t, types, datatypes.EventCaseFailed)
	assert.NotContains(t, types, datatypes.EventCaseCompleted)
}

func TestPipeline_FailedCaseEmitsNoInsights(t *testing.T) {
	provider := &stubProvider{name: "openai", err: errors.New("boom")}
	h := newTestPipeline(t, provider, FixedOutcomeSource{Similar: 9, Consultation: true}, Config{})

	id := h.pipeline.Submit(datatypes.CaseInput{}, "")
	waitTerminal(t, h.store, id)

	assert.Empty(t, h.store.ListInsights(0))
}

func TestPipeline_ConcurrentSubmissionsAllComplete(t *testing.T) {
	provider := &stubProvider{name: "openai"}
	h := newTestPipeline(t, provider, FixedOutcomeSource{}, Config{})

	ids := make([]string, 10)
	for i := range ids {
		ids[i] = h.pipeline.Submit(datatypes.CaseInput{}, "")
	}

	for _, id := range ids {
		status := waitTerminal(t, h.store, id)
		assert.Equal(t, datatypes.CaseCompleted, status.State)
	}
	assert.Equal(t, int64(10), h.pipeline.SubmittedCount())
}

// ============================================================================
// Outcome Source Tests
// ============================================================================

func TestRandomOutcomeSource_StaysWithinBounds(t *testing.T) {
	src := NewRandomOutcomeSource(42, 0.30, 9)

	for i := 0; i < 200; i++ {
		n := src.SimilarCases(datatypes.CaseInput{})
		require.GreaterOrEqual(t, n, 0)
		require.LessOrEqual(t, n, 9)
	}
}

func TestRandomOutcomeSource_ConsultationRateIsRoughlyConfigured(t *testing.T) {
	src := NewRandomOutcomeSource(42, 0.30, 9)

	hits := 0
	const trials = 2000
	for i := 0; i < trials; i++ {
		if src.ConsultationNeeded(datatypes.CaseInput{}) {
			hits++
		}
	}
	rate := float64(hits) / trials
	assert.InDelta(t, 0.30, rate, 0.05)
}
