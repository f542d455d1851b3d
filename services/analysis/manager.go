// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/observability"
)

var tracer = otel.Tracer("cairn.analysis")

// =============================================================================
// Fallback Manager
// =============================================================================

// ManagerConfig configures the fallback manager.
//
// # Fields
//
//   - Primary: Name of the primary provider. Must appear in Order.
//   - Order: Cascade order across all registered providers.
//   - CallTimeout: Per-attempt deadline applied on top of the caller's
//     context. Default: 30 seconds.
type ManagerConfig struct {
	Primary     string
	Order       []string
	CallTimeout time.Duration
}

// Manager routes analysis calls to a preferred provider and cascades through
// the remaining providers when, and only when, the primary fails.
//
// # Description
//
// The cascade rule is deliberately asymmetric. A failure of the primary
// provider walks the configured order until some provider succeeds. A
// failure of an explicitly requested non-primary provider is returned as-is:
// the caller asked for that provider specifically, so silently answering
// from a different one would misattribute the result. No provider is ever
// invoked twice within a single call.
//
// # Thread Safety
//
// Manager is immutable after construction and safe for concurrent use.
type Manager struct {
	providers   map[string]Provider
	order       []string
	primary     string
	callTimeout time.Duration
	logger      *slog.Logger
}

// NewManager creates a fallback manager over the given providers.
//
// # Inputs
//
//   - config: Primary name, cascade order, per-attempt timeout.
//   - providers: All available providers. Every name in config.Order must
//     be present.
//   - logger: nil falls back to slog.Default().
//
// # Outputs
//
//   - *Manager: Ready for Analyze calls.
//   - error: Non-nil when the configuration references unknown providers
//     or names no primary.
func NewManager(config ManagerConfig, providers []Provider, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 30 * time.Second
	}

	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}

	if config.Primary == "" {
		return nil, fmt.Errorf("no primary provider configured")
	}
	if _, ok := byName[config.Primary]; !ok {
		return nil, fmt.Errorf("primary provider %q is not registered", config.Primary)
	}
	for _, name := range config.Order {
		if _, ok := byName[name]; !ok {
			return nil, fmt.Errorf("provider %q in cascade order is not registered", name)
		}
	}
	if len(config.Order) == 0 {
		return nil, fmt.Errorf("cascade order is empty")
	}

	return &Manager{
		providers:   byName,
		order:       append([]string(nil), config.Order...),
		primary:     config.Primary,
		callTimeout: config.CallTimeout,
		logger:      logger,
	}, nil
}

// Primary returns the configured primary provider name.
func (m *Manager) Primary() string { return m.primary }

// Analyze runs pattern detection for one case.
//
// # Description
//
// Routes to the preferred provider (the primary when preferred is empty or
// unknown). On primary failure the manager cascades through the configured
// order, skipping providers already attempted, and returns the first
// success. When every attempt fails the Result carries the last failure and
// names the originally requested provider; no error is ever raised to the
// caller.
//
// # Inputs
//
//   - ctx: Caller context. Each attempt additionally gets the per-attempt
//     timeout.
//   - input: The case to analyze.
//   - preferred: Requested provider name; "" selects the primary.
func (m *Manager) Analyze(ctx context.Context, input datatypes.CaseInput, preferred string) Result {
	ctx, span := tracer.Start(ctx, "Manager.Analyze")
	defer span.End()

	requested := preferred
	if requested == "" {
		requested = m.primary
	}
	if _, ok := m.providers[requested]; !ok {
		m.logger.Warn("unknown provider requested, using primary",
			"requested", requested,
			"primary", m.primary,
		)
		requested = m.primary
	}
	span.SetAttributes(
		attribute.String("analysis.requested_provider", requested),
		attribute.String("analysis.case_id", input.CaseID),
	)

	attempted := map[string]bool{requested: true}
	patterns, err := m.attempt(ctx, requested, input)
	if err == nil {
		span.SetAttributes(attribute.String("analysis.used_provider", requested))
		return Result{Patterns: patterns, UsedProvider: requested, Success: true}
	}

	// A non-primary provider was asked for by name; its failure is the
	// caller's answer, not a reason to answer from somewhere else.
	if requested != m.primary {
		span.SetAttributes(attribute.Bool("analysis.success", false))
		return Result{UsedProvider: requested, Err: err}
	}

	observability.DefaultMetrics.RecordFallbackCascade()
	m.logger.Warn("primary provider failed, cascading",
		"primary", m.primary,
		"case_id", input.CaseID,
		"error", err,
	)

	lastErr := err
	for _, name := range m.order {
		if attempted[name] {
			continue
		}
		attempted[name] = true

		patterns, err = m.attempt(ctx, name, input)
		if err == nil {
			span.SetAttributes(attribute.String("analysis.used_provider", name))
			m.logger.Info("fallback provider succeeded",
				"provider", name,
				"case_id", input.CaseID,
			)
			return Result{Patterns: patterns, UsedProvider: name, Success: true}
		}
		lastErr = err
	}

	span.SetAttributes(attribute.Bool("analysis.success", false))
	m.logger.Error("all analysis providers failed",
		"case_id", input.CaseID,
		"error", lastErr,
	)
	return Result{UsedProvider: requested, Err: lastErr}
}

// attempt invokes one provider under the per-attempt timeout and records
// the outcome.
func (m *Manager) attempt(ctx context.Context, name string, input datatypes.CaseInput) ([]PatternMatch, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, m.callTimeout)
	defer cancel()

	patterns, err := m.providers[name].Analyze(attemptCtx, input)
	observability.DefaultMetrics.RecordProviderAttempt(name, err == nil)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	return patterns, nil
}
