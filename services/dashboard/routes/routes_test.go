// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/CairnHealthAI/CairnLocal/services/analysis"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/events"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/metrics"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/pipeline"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/store"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()

	dispatcher := events.NewDispatcher(nil)
	st := store.New(dispatcher, nil, nil)

	manager, err := analysis.NewManager(analysis.ManagerConfig{
		Primary: "heuristic",
		Order:   []string{"heuristic"},
	}, []analysis.Provider{analysis.NewHeuristicProvider()}, nil)
	require.NoError(t, err)

	p := pipeline.New(manager, st, dispatcher, nil, pipeline.Config{}, nil)
	t.Cleanup(p.Close)

	aggregator := metrics.NewAggregator(nil, nil, nil, p, st, dispatcher,
		metrics.Config{}, nil)

	router := gin.New()
	SetupRoutes(router, st, p, aggregator, dispatcher)
	return router
}

// ============================================================================
// Route Registration Tests
// ============================================================================

func TestSetupRoutes_RegistersCoreRoutes(t *testing.T) {
	router := newTestRouter(t)

	coreRoutes := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/cases"},
		{"GET", "/v1/cases"},
		{"GET", "/v1/cases/:caseId"},
		{"GET", "/v1/metrics"},
		{"GET", "/v1/insights"},
		{"GET", "/v1/events/ws"},
		{"GET", "/v1/notifications"},
		{"POST", "/v1/notifications/:notificationId/read"},
	}

	routes := router.Routes()
	for _, expected := range coreRoutes {
		found := false
		for _, r := range routes {
			if r.Method == expected.method && r.Path == expected.path {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected route %s %s not found", expected.method, expected.path)
		}
	}
}

// ============================================================================
// Route Handler Tests
// ============================================================================

func TestSetupRoutes_HealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Health endpoint returned %d, want %d", w.Code, http.StatusOK)
	}
}

func TestSetupRoutes_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)

	// Prometheus metrics endpoint should return 200
	if w.Code != http.StatusOK {
		t.Errorf("Metrics endpoint returned %d, want %d", w.Code, http.StatusOK)
	}

	// Should return prometheus format
	contentType := w.Header().Get("Content-Type")
	if contentType == "" {
		t.Error("Metrics endpoint should return Content-Type header")
	}
}

func TestSetupRoutes_DashboardSnapshotDistinctFromScrape(t *testing.T) {
	router := newTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/v1/metrics", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Dashboard snapshot returned %d, want %d", w.Code, http.StatusOK)
	}
	contentType := w.Header().Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		t.Errorf("Dashboard snapshot Content-Type = %q, want JSON", contentType)
	}
}

// ============================================================================
// API Version Group Tests
// ============================================================================

func TestSetupRoutes_V1GroupExists(t *testing.T) {
	router := newTestRouter(t)

	routes := router.Routes()
	v1Routes := 0
	for _, r := range routes {
		if len(r.Path) > 3 && r.Path[:3] == "/v1" {
			v1Routes++
		}
	}

	if v1Routes == 0 {
		t.Error("Expected at least one /v1 route")
	}
}
