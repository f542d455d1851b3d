// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP surface of the dashboard service.
package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/CairnHealthAI/CairnLocal/services/dashboard/datatypes"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/metrics"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/pipeline"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/store"
)

// SubmitCaseRequest is the body for POST /v1/cases.
type SubmitCaseRequest struct {
	datatypes.CaseInput
	// PreferredProvider optionally names the analysis provider to try
	// first. Empty means the configured primary.
	PreferredProvider string `json:"preferred_provider,omitempty"`
}

// SubmitCase accepts a case for background analysis.
//
// # Description
//
// Always responds 202 on a well-formed body: processing is asynchronous
// and analysis failures surface as notifications, never as submission
// errors. Only an unparseable body is rejected.
func SubmitCase(p *pipeline.Pipeline) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitCaseRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		caseID := p.Submit(req.CaseInput, req.PreferredProvider)
		slog.Info("Accepted case for analysis",
			"case_id", caseID,
			"preferred_provider", req.PreferredProvider,
		)
		c.JSON(http.StatusAccepted, gin.H{
			"case_id": caseID,
			"state":   string(datatypes.CaseQueued),
		})
	}
}

// GetCaseStatus returns the processing status for one case.
func GetCaseStatus(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("caseId")
		status, ok := st.GetCaseStatus(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "case not found"})
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

// ListActiveCases returns all non-terminal cases, oldest first.
func ListActiveCases(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"cases": st.ActiveStatuses()})
	}
}

// GetDashboardMetrics returns the latest aggregated snapshot.
//
// This is the dashboard's own JSON snapshot; the Prometheus scrape
// endpoint lives separately at /metrics.
func GetDashboardMetrics(agg *metrics.Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, agg.GetMetrics())
	}
}

// ListInsights returns insights ordered by priority then recency.
//
// # Inputs
//
//   - limit (query): Maximum number of insights to return. Omitted or
//     non-positive means no limit.
func ListInsights(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
				return
			}
			limit = parsed
		}
		c.JSON(http.StatusOK, gin.H{"insights": st.ListInsights(limit)})
	}
}

// ListNotifications returns notifications, newest first.
//
// # Inputs
//
//   - unread (query): "true" restricts the listing to unread entries.
func ListNotifications(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		unreadOnly := c.Query("unread") == "true"
		c.JSON(http.StatusOK, gin.H{"notifications": st.ListNotifications(unreadOnly)})
	}
}

// MarkNotificationRead marks one notification as read.
//
// Responds 204 regardless of whether the id exists or was already read;
// the operation is idempotent by design of the store.
func MarkNotificationRead(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		st.MarkRead(c.Param("notificationId"))
		c.Status(http.StatusNoContent)
	}
}

// HealthCheck reports service liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
