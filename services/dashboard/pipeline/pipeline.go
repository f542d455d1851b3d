// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline runs submitted cases through the staged analysis state
// machine: queued -> processing (analysis, similarity, consultation) ->
// completed or failed.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/CairnHealthAI/CairnLocal/services/analysis"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/events"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/observability"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/store"
)

var tracer = otel.Tracer("cairn.pipeline")

// =============================================================================
// Configuration
// =============================================================================

// Checkpoints holds the progress value reported at each stage boundary.
type Checkpoints struct {
	Accepted     int
	Analysis     int
	Similarity   int
	Consultation int
	Completed    int
}

// DefaultCheckpoints returns the production progress checkpoints.
func DefaultCheckpoints() Checkpoints {
	return Checkpoints{
		Accepted:     10,
		Analysis:     30,
		Similarity:   60,
		Consultation: 90,
		Completed:    100,
	}
}

// Config holds the pipeline tunables.
//
// # Fields
//
//   - Checkpoints: Progress values at stage boundaries.
//   - PatternThreshold: A pattern insight is emitted when the detected
//     pattern count strictly exceeds this. Default: 2.
//   - SimilarityThreshold: A similar-case insight is emitted when the
//     similar-case count strictly exceeds this. Default: 5.
//   - RareDiseaseConfidence: A critical rare-disease alert is emitted when
//     any pattern's confidence reaches this. Default: 0.92.
//   - EstimateHorizon: Offset added to the submission time to produce the
//     estimated completion shown on the dashboard. Default: 30 minutes.
//   - StageDelay: Artificial pacing between stages so progress is
//     observable on the live dashboard. Zero disables pacing.
type Config struct {
	Checkpoints           Checkpoints
	PatternThreshold      int
	SimilarityThreshold   int
	RareDiseaseConfidence float64
	EstimateHorizon       time.Duration
	StageDelay            time.Duration
}

// DefaultConfig returns the production pipeline configuration.
func DefaultConfig() Config {
	return Config{
		Checkpoints:           DefaultCheckpoints(),
		PatternThreshold:      2,
		SimilarityThreshold:   5,
		RareDiseaseConfidence: 0.92,
		EstimateHorizon:       30 * time.Minute,
		StageDelay:            500 * time.Millisecond,
	}
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline executes the case-processing state machine.
//
// # Description
//
// Submit accepts a case, records its queued status, and returns
// immediately; a per-case goroutine then drives the stages. Every stage
// boundary writes the full status to the store and publishes a progress
// event. A failure at any stage moves the case to failed with progress
// reset to 0 and synthesizes an error notification; no error is ever
// returned to the submitter.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
type Pipeline struct {
	manager    *analysis.Manager
	store      *store.Store
	dispatcher *events.Dispatcher
	outcomes   OutcomeSource
	clock      store.Clock
	logger     *slog.Logger

	configMu sync.RWMutex
	config   Config

	submitted atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a pipeline.
//
// # Inputs
//
//   - manager: Fallback analysis manager. Must be non-nil.
//   - st: Status/insight/notification store. Must be non-nil.
//   - dispatcher: Event dispatcher; may be nil.
//   - outcomes: Similarity/consultation source; nil falls back to the
//     stochastic default.
//   - config: Pipeline tunables; zero fields fall back to defaults.
//   - logger: nil falls back to slog.Default().
func New(manager *analysis.Manager, st *store.Store, dispatcher *events.Dispatcher,
	outcomes OutcomeSource, config Config, logger *slog.Logger) *Pipeline {

	if outcomes == nil {
		outcomes = NewRandomOutcomeSource(time.Now().UnixNano(), 0, 0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	applyConfigDefaults(&config)

	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		manager:    manager,
		store:      st,
		dispatcher: dispatcher,
		outcomes:   outcomes,
		clock:      store.SystemClock(),
		logger:     logger,
		config:     config,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func applyConfigDefaults(config *Config) {
	defaults := DefaultConfig()
	if config.Checkpoints == (Checkpoints{}) {
		config.Checkpoints = defaults.Checkpoints
	}
	if config.PatternThreshold <= 0 {
		config.PatternThreshold = defaults.PatternThreshold
	}
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = defaults.SimilarityThreshold
	}
	if config.RareDiseaseConfidence <= 0 {
		config.RareDiseaseConfidence = defaults.RareDiseaseConfidence
	}
	if config.EstimateHorizon <= 0 {
		config.EstimateHorizon = defaults.EstimateHorizon
	}
}

// SetConfig replaces the pipeline tunables. In-flight cases keep the
// config they started with; used by config hot reload.
func (p *Pipeline) SetConfig(config Config) {
	applyConfigDefaults(&config)
	p.configMu.Lock()
	p.config = config
	p.configMu.Unlock()
}

func (p *Pipeline) currentConfig() Config {
	p.configMu.RLock()
	defer p.configMu.RUnlock()
	return p.config
}

// SubmittedCount returns the number of cases submitted since process start.
// The metrics aggregator uses it as a monotonic floor for the total-case
// figure when the external job queue undercounts.
func (p *Pipeline) SubmittedCount() int64 {
	return p.submitted.Load()
}

// Close stops accepting work done by in-flight cases and waits for their
// goroutines to exit.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

// Submit accepts a case for processing and returns its case id.
//
// # Description
//
// Assigns a case id when the input carries none, records the queued
// status, publishes case_queued, and starts the per-case goroutine.
// Never returns an error; any processing failure surfaces later as a
// failed status plus an error notification.
//
// # Inputs
//
//   - input: The case to process.
//   - preferredProvider: Analysis provider to prefer; "" selects the
//     primary.
//
// # Outputs
//
//   - string: The case id.
func (p *Pipeline) Submit(input datatypes.CaseInput, preferredProvider string) string {
	if input.CaseID == "" {
		input.CaseID = uuid.New().String()
	}

	config := p.currentConfig()
	now := p.clock.Now()
	estimate := now.Add(config.EstimateHorizon)
	status := datatypes.CaseProcessingStatus{
		CaseID:              input.CaseID,
		State:               datatypes.CaseQueued,
		Progress:            0,
		SubmittedAt:         now,
		EstimatedCompletion: &estimate,
	}
	p.store.PutCaseStatus(status)

	p.submitted.Add(1)
	observability.DefaultMetrics.RecordCaseSubmitted()
	p.logger.Info("case submitted",
		"case_id", input.CaseID,
		"preferred_provider", preferredProvider,
	)
	p.publish(datatypes.EventCaseQueued, datatypes.CasePayload{Status: status})

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runCase(input, preferredProvider, status, config)
	}()

	return input.CaseID
}

// =============================================================================
// Stage Machine
// =============================================================================

// runCase drives one case through all stages.
func (p *Pipeline) runCase(input datatypes.CaseInput, preferredProvider string,
	status datatypes.CaseProcessingStatus, config Config) {

	ctx, span := tracer.Start(p.ctx, "Pipeline.runCase")
	defer span.End()
	span.SetAttributes(attribute.String("case.id", input.CaseID))

	// Stage: accepted
	status.State = datatypes.CaseProcessing
	status.Progress = config.Checkpoints.Accepted
	p.advance(status, "accepted")

	if !p.pace(ctx, config.StageDelay) {
		p.failCase(status, fmt.Errorf("pipeline shutting down"))
		return
	}

	// Stage: analysis
	result := p.manager.Analyze(ctx, input, preferredProvider)
	if !result.Success {
		p.failCase(status, result.Err)
		return
	}
	status.AnalysisComplete = true
	status.PatternsDetected = len(result.Patterns)
	status.Progress = config.Checkpoints.Analysis
	p.advance(status, "analysis")
	p.emitAnalysisInsights(input, result, config)

	if !p.pace(ctx, config.StageDelay) {
		p.failCase(status, fmt.Errorf("pipeline shutting down"))
		return
	}

	// Stage: similarity
	similar := p.outcomes.SimilarCases(input)
	status.SimilarCasesFound = similar
	status.Progress = config.Checkpoints.Similarity
	p.advance(status, "similarity")
	if similar > config.SimilarityThreshold {
		p.store.AddInsight(datatypes.AIInsight{
			Type:        datatypes.InsightSimilarCaseFound,
			CaseID:      input.CaseID,
			Title:       "Similar historical cases found",
			Description: fmt.Sprintf("Found %d similar historical cases", similar),
			Priority:    datatypes.PriorityMedium,
		})
	}

	if !p.pace(ctx, config.StageDelay) {
		p.failCase(status, fmt.Errorf("pipeline shutting down"))
		return
	}

	// Stage: consultation
	if p.outcomes.ConsultationNeeded(input) {
		status.ConsultationRequested = true
		p.store.AddInsight(datatypes.AIInsight{
			Type:           datatypes.InsightConsultationRecommended,
			CaseID:         input.CaseID,
			Title:          "Specialist consultation recommended",
			Description:    "Case characteristics suggest review by a specialist",
			Priority:       datatypes.PriorityHigh,
			ActionRequired: true,
			Recommendations: []string{
				"Review detected patterns",
				"Schedule a specialist consultation",
			},
		})
	}
	status.Progress = config.Checkpoints.Consultation
	p.advance(status, "consultation")

	if !p.pace(ctx, config.StageDelay) {
		p.failCase(status, fmt.Errorf("pipeline shutting down"))
		return
	}

	// Stage: completed
	completedAt := p.clock.Now()
	status.State = datatypes.CaseCompleted
	status.Progress = config.Checkpoints.Completed
	status.CompletedAt = &completedAt
	p.store.PutCaseStatus(status)
	p.publish(datatypes.EventCaseCompleted, datatypes.CasePayload{Status: status})

	duration := completedAt.Sub(status.SubmittedAt)
	observability.DefaultMetrics.RecordCaseFinished(true, duration.Seconds())
	p.logger.Info("case completed",
		"case_id", status.CaseID,
		"provider", result.UsedProvider,
		"patterns", status.PatternsDetected,
		"duration_ms", duration.Milliseconds(),
	)

	p.store.AddNotification(datatypes.NotificationInfo,
		"Case analysis complete",
		fmt.Sprintf("Case %s finished processing (%d patterns, %d similar cases)",
			status.CaseID, status.PatternsDetected, status.SimilarCasesFound),
		status.CaseID,
	)
}

// emitAnalysisInsights translates an analysis result into insights.
func (p *Pipeline) emitAnalysisInsights(input datatypes.CaseInput, result analysis.Result, config Config) {
	if len(result.Patterns) > config.PatternThreshold {
		p.store.AddInsight(datatypes.AIInsight{
			Type:        datatypes.InsightPatternDetected,
			CaseID:      input.CaseID,
			Title:       "Recurring clinical patterns detected",
			Description: fmt.Sprintf("Analysis via %s detected %d patterns", result.UsedProvider, len(result.Patterns)),
			Confidence:  maxConfidence(result.Patterns),
			Priority:    datatypes.PriorityMedium,
		})
	}

	for _, pattern := range result.Patterns {
		if pattern.Confidence >= config.RareDiseaseConfidence {
			p.store.AddInsight(datatypes.AIInsight{
				Type:           datatypes.InsightRareDiseaseAlert,
				CaseID:         input.CaseID,
				Title:          "Possible rare condition",
				Description:    pattern.Description,
				Confidence:     pattern.Confidence,
				Priority:       datatypes.PriorityCritical,
				ActionRequired: true,
				Recommendations: []string{
					"Escalate for senior review",
					fmt.Sprintf("Confirm pattern %q with targeted testing", pattern.Label),
				},
			})
		}
	}
}

// failCase moves a case to the failed terminal state.
//
// # Description
//
// Progress resets to 0 on failure, the failure is published, and an error
// notification is synthesized. The submitter never sees the error
// directly.
func (p *Pipeline) failCase(status datatypes.CaseProcessingStatus, cause error) {
	completedAt := p.clock.Now()
	status.State = datatypes.CaseFailed
	status.Progress = 0
	status.CompletedAt = &completedAt
	p.store.PutCaseStatus(status)
	p.publish(datatypes.EventCaseFailed, datatypes.CasePayload{Status: status})

	duration := completedAt.Sub(status.SubmittedAt)
	observability.DefaultMetrics.RecordCaseFinished(false, duration.Seconds())
	p.logger.Error("case failed",
		"case_id", status.CaseID,
		"error", cause,
	)

	message := fmt.Sprintf("Case %s could not be processed", status.CaseID)
	if cause != nil {
		message = fmt.Sprintf("Case %s could not be processed: %v", status.CaseID, cause)
	}
	p.store.AddNotification(datatypes.NotificationError,
		"Case analysis failed", message, status.CaseID)
}

// advance writes the stage boundary status and publishes progress.
func (p *Pipeline) advance(status datatypes.CaseProcessingStatus, stage string) {
	p.store.PutCaseStatus(status)
	p.publish(datatypes.EventPipelineProgress, datatypes.PipelineProgressPayload{
		CaseID:   status.CaseID,
		State:    status.State,
		Progress: status.Progress,
		Stage:    stage,
	})
}

func (p *Pipeline) publish(eventType datatypes.EventType, payload datatypes.EventPayload) {
	if p.dispatcher != nil {
		p.dispatcher.Publish(eventType, payload)
	}
}

// pace sleeps for the stage delay. Returns false when the pipeline is
// shutting down.
func (p *Pipeline) pace(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func maxConfidence(patterns []analysis.PatternMatch) float64 {
	var maxC float64
	for _, pattern := range patterns {
		if pattern.Confidence > maxC {
			maxC = pattern.Confidence
		}
	}
	return maxC
}
