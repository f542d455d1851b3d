// Copyright (C) 2025 Cairn Health AI (engineering@cairnhealth.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CairnHealthAI/CairnLocal/services/dashboard/events"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/handlers"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/metrics"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/pipeline"
	"github.com/CairnHealthAI/CairnLocal/services/dashboard/store"
)

// SetupRoutes registers the full HTTP surface of the dashboard service.
//
// /metrics serves the Prometheus scrape endpoint; the dashboard's own
// aggregated JSON snapshot lives at /v1/metrics.
func SetupRoutes(router *gin.Engine, st *store.Store, p *pipeline.Pipeline,
	aggregator *metrics.Aggregator, dispatcher *events.Dispatcher) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/cases", handlers.SubmitCase(p))
		v1.GET("/cases", handlers.ListActiveCases(st))
		v1.GET("/cases/:caseId", handlers.GetCaseStatus(st))
		v1.GET("/metrics", handlers.GetDashboardMetrics(aggregator))
		v1.GET("/insights", handlers.ListInsights(st))
		v1.GET("/events/ws", handlers.HandleEventsWebSocket(dispatcher))
		// Notification administration routes
		notifications := v1.Group("/notifications")
		{
			notifications.GET("", handlers.ListNotifications(st))
			notifications.POST("/:notificationId/read", handlers.MarkNotificationRead(st))
		}
	}
}
