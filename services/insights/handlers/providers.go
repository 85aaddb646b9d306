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

	"github.com/AleutianAI/Finsight/services/llm"
)

// priorityRequest is the body for POST /v1/ai/priority.
type priorityRequest struct {
	Priority []string `json:"priority" binding:"required"`
}

// HandleListProviders reports which providers have credentials and
// which one is currently active.
func HandleListProviders(manager *llm.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"providers": manager.Providers(),
			"active":    manager.Active(),
		})
	}
}

// HandleGetPriority returns the current failover order.
func HandleGetPriority(manager *llm.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"priority": manager.Priority(),
			"active":   manager.Active(),
		})
	}
}

// HandleSetPriority replaces the failover order. Names outside the
// provider registry or without credentials are rejected as a whole;
// the previous order stays in effect.
func HandleSetPriority(manager *llm.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req priorityRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "priority list is required"})
			return
		}
		if err := manager.SetPriority(req.Priority); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Info("llm priority updated", "priority", req.Priority)
		c.JSON(http.StatusOK, gin.H{
			"priority": manager.Priority(),
			"active":   manager.Active(),
		})
	}
}

// HandleSwitchProvider forces a specific provider to the front of the
// priority list.
func HandleSwitchProvider(manager *llm.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("provider")
		if err := manager.Switch(name); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Info("llm provider switched", "provider", name)
		c.JSON(http.StatusOK, gin.H{
			"active":   manager.Active(),
			"priority": manager.Priority(),
		})
	}
}
