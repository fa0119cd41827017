// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pagesentry/pagesentry/services/scanner/engine"
	"github.com/pagesentry/pagesentry/services/scanner/handlers"
)

// SetupRoutes registers the scanner's HTTP surface on the router.
func SetupRoutes(router *gin.Engine, eng *engine.Engine, enableMetrics bool) {
	router.GET("/health", handlers.HealthCheck)
	if enableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/analyze", handlers.HandleAnalyze(eng))
		v1.GET("/status/:tabId", handlers.HandleGetStatus(eng))
		v1.GET("/detail/:tabId", handlers.HandleGetDetail(eng))

		v1.GET("/mode", handlers.HandleGetMode(eng))
		v1.POST("/mode", handlers.HandleChangeMode(eng))

		v1.DELETE("/cache/:tabId", handlers.HandleClearTabCache(eng))

		// Tab lifecycle events
		tabs := v1.Group("/tabs")
		{
			tabs.POST("/:tabId/navigate", handlers.HandleNavigate(eng))
			tabs.DELETE("/:tabId", handlers.HandleCloseTab(eng))
		}

		// Ignore rule administration
		rules := v1.Group("/rules")
		{
			rules.GET("", handlers.HandleListRules(eng))
			rules.POST("", handlers.HandleAddRule(eng))
			rules.DELETE("", handlers.HandleRemoveRule(eng))
		}
	}
}
