// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/Finsight/pkg/cache"
	"github.com/AleutianAI/Finsight/services/insights/handlers"
	"github.com/AleutianAI/Finsight/services/insights/patterns"
	"github.com/AleutianAI/Finsight/services/insights/storage"
	"github.com/AleutianAI/Finsight/services/llm"
)

// SetupRoutes registers every HTTP route. A nil store is allowed for
// degraded operation: health reports it and the storage-backed routes
// are not registered.
func SetupRoutes(router *gin.Engine, analyzer handlers.QueryAnalyzer, store *storage.Store,
	patternStore patterns.PatternStore, manager *llm.Manager, responseCache *cache.Cache) {

	var pinger handlers.Pinger
	if store != nil {
		pinger = store
	}
	router.GET("/health", handlers.HandleHealth(pinger, manager))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		if analyzer != nil {
			v1.POST("/chat", handlers.HandleChat(analyzer))
		}
		if store != nil && patternStore != nil {
			v1.GET("/insights/:user_id", handlers.HandleInsights(store, patternStore))
		}

		// Cache administration routes
		if responseCache != nil {
			cacheAdmin := v1.Group("/cache")
			{
				cacheAdmin.GET("/stats", handlers.HandleCacheStats(responseCache))
				cacheAdmin.POST("/clear", handlers.HandleCacheClear(responseCache))
			}
		}

		// AI provider administration routes
		if manager != nil {
			ai := v1.Group("/ai")
			{
				ai.GET("/providers", handlers.HandleListProviders(manager))
				ai.GET("/priority", handlers.HandleGetPriority(manager))
				ai.POST("/priority", handlers.HandleSetPriority(manager))
				ai.POST("/switch/:provider", handlers.HandleSwitchProvider(manager))
			}
		}
	}
}
