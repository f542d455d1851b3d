// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the dashboard
// service.
//
// # Description
//
// Metrics cover the full case lifecycle:
//   - Case counters (submitted, completed, failed)
//   - Insight and notification counters (by type, priority, kind)
//   - Analysis provider attempts and fallback cascades
//   - Retention prune deletions
//   - Pipeline duration histograms
//   - Live event-subscriber gauge
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. Use with Prometheus +
// Grafana for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "cairn"

// Subsystem for dashboard metrics
const dashboardSubsystem = "dashboard"

// DashboardMetrics holds all Prometheus metrics for the dashboard service.
//
// # Description
//
// Initialize once at startup via InitMetrics(). Every recording helper is
// nil-safe so library code can call through DefaultMetrics unconditionally;
// recordings before InitMetrics are silently dropped, which keeps unit tests
// free of registry setup.
//
// # Thread Safety
//
// All operations are thread-safe.
type DashboardMetrics struct {
	// CasesTotal counts case submissions by final disposition.
	// Labels: status (submitted, completed, failed)
	CasesTotal *prometheus.CounterVec

	// InsightsTotal counts stored insights.
	// Labels: type (pattern_detected, ...), priority (low..critical)
	InsightsTotal *prometheus.CounterVec

	// NotificationsTotal counts stored notifications.
	// Labels: kind (info, success, warning, error)
	NotificationsTotal *prometheus.CounterVec

	// ProviderAttemptsTotal counts analysis attempts per provider.
	// Labels: provider, status (success, error)
	ProviderAttemptsTotal *prometheus.CounterVec

	// FallbackCascadesTotal counts primary-failure fallback cascades.
	FallbackCascadesTotal prometheus.Counter

	// PruneDeletionsTotal counts retention deletions.
	// Labels: entity (insight, notification, case_status)
	PruneDeletionsTotal *prometheus.CounterVec

	// PipelineDurationSeconds measures submission-to-terminal duration.
	// Labels: status (completed, failed)
	PipelineDurationSeconds *prometheus.HistogramVec

	// EventSubscribers tracks currently connected event subscribers.
	EventSubscribers prometheus.Gauge

	// MetricsRefreshesTotal counts aggregator refreshes.
	// Labels: status (ok, degraded, baseline)
	MetricsRefreshesTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of DashboardMetrics.
// Initialized by InitMetrics(); nil until then.
var DefaultMetrics *DashboardMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics against the default
// registry. Call once at application startup.
//
// # Outputs
//
//   - *DashboardMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *DashboardMetrics {
	DefaultMetrics = &DashboardMetrics{
		CasesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dashboardSubsystem,
				Name:      "cases_total",
				Help:      "Total case submissions by disposition",
			},
			[]string{"status"},
		),

		InsightsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dashboardSubsystem,
				Name:      "insights_total",
				Help:      "Total insights stored by type and priority",
			},
			[]string{"type", "priority"},
		),

		NotificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dashboardSubsystem,
				Name:      "notifications_total",
				Help:      "Total notifications stored by kind",
			},
			[]string{"kind"},
		),

		ProviderAttemptsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dashboardSubsystem,
				Name:      "provider_attempts_total",
				Help:      "Total analysis attempts per provider and status",
			},
			[]string{"provider", "status"},
		),

		FallbackCascadesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dashboardSubsystem,
				Name:      "fallback_cascades_total",
				Help:      "Total fallback cascades triggered by primary provider failure",
			},
		),

		PruneDeletionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dashboardSubsystem,
				Name:      "prune_deletions_total",
				Help:      "Total entries deleted by retention pruning, per entity",
			},
			[]string{"entity"},
		),

		PipelineDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: dashboardSubsystem,
				Name:      "pipeline_duration_seconds",
				Help:      "Case duration from submission to terminal state",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"status"},
		),

		EventSubscribers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: dashboardSubsystem,
				Name:      "event_subscribers",
				Help:      "Number of currently connected event subscribers",
			},
		),

		MetricsRefreshesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: dashboardSubsystem,
				Name:      "metrics_refreshes_total",
				Help:      "Total aggregator refreshes by outcome",
			},
			[]string{"status"},
		),
	}

	return DefaultMetrics
}

// =============================================================================
// Helper Methods
// =============================================================================

// RecordCaseSubmitted records one case submission.
func (m *DashboardMetrics) RecordCaseSubmitted() {
	if m == nil {
		return
	}
	m.CasesTotal.WithLabelValues("submitted").Inc()
}

// RecordCaseFinished records a terminal transition and its duration.
//
// # Inputs
//
//   - success: true for completed, false for failed.
//   - seconds: Duration from submission to the terminal state.
func (m *DashboardMetrics) RecordCaseFinished(success bool, seconds float64) {
	if m == nil {
		return
	}
	status := "completed"
	if !success {
		status = "failed"
	}
	m.CasesTotal.WithLabelValues(status).Inc()
	m.PipelineDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordInsight records one stored insight.
func (m *DashboardMetrics) RecordInsight(insightType, priority string) {
	if m == nil {
		return
	}
	m.InsightsTotal.WithLabelValues(insightType, priority).Inc()
}

// RecordNotification records one stored notification.
func (m *DashboardMetrics) RecordNotification(kind string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(kind).Inc()
}

// RecordProviderAttempt records one analysis attempt against a provider.
//
// # Inputs
//
//   - provider: The provider name.
//   - success: Whether the attempt returned a usable result.
func (m *DashboardMetrics) RecordProviderAttempt(provider string, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.ProviderAttemptsTotal.WithLabelValues(provider, status).Inc()
}

// RecordFallbackCascade records one primary-failure fallback cascade.
func (m *DashboardMetrics) RecordFallbackCascade() {
	if m == nil {
		return
	}
	m.FallbackCascadesTotal.Inc()
}

// RecordPrune records retention deletions for one entity class.
func (m *DashboardMetrics) RecordPrune(entity string, deleted int) {
	if m == nil || deleted <= 0 {
		return
	}
	m.PruneDeletionsTotal.WithLabelValues(entity).Add(float64(deleted))
}

// SubscriberConnected increments the event subscriber gauge.
func (m *DashboardMetrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.EventSubscribers.Inc()
}

// SubscriberDisconnected decrements the event subscriber gauge.
func (m *DashboardMetrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.EventSubscribers.Dec()
}

// RecordMetricsRefresh records one aggregator refresh outcome.
//
// # Inputs
//
//   - status: One of "ok", "degraded", "baseline".
func (m *DashboardMetrics) RecordMetricsRefresh(status string) {
	if m == nil {
		return
	}
	m.MetricsRefreshesTotal.WithLabelValues(status).Inc()
}
