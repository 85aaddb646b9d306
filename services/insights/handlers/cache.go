// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Finsight/pkg/cache"
)

// HandleCacheStats answers GET /v1/cache/stats.
func HandleCacheStats(c *cache.Cache) gin.HandlerFunc {
	return func(gc *gin.Context) {
		gc.JSON(http.StatusOK, c.Stats())
	}
}

// HandleCacheClear answers POST /v1/cache/clear. Clearing drops every
// cached sub-query decomposition and compiled pipeline; the next
// requests repopulate them.
func HandleCacheClear(c *cache.Cache) gin.HandlerFunc {
	return func(gc *gin.Context) {
		if err := c.Clear(); err != nil {
			slog.Error("cache clear failed", "error", err)
			gc.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		slog.Info("response cache cleared")
		gc.JSON(http.StatusOK, gin.H{"status": "cleared"})
	}
}
