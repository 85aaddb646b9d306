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
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
	"github.com/AleutianAI/Finsight/services/llm"
)

// Pinger reports storage reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleHealth answers GET /health. The service reports degraded, not
// down, when Mongo is unreachable: cached and template paths still
// work without it.
func HandleHealth(store Pinger, manager *llm.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := datatypes.HealthResponse{
			Status:  "ok",
			Service: "finsight-insights",
			Mongo:   "ok",
		}
		if store == nil {
			resp.Mongo = "not configured"
			resp.Status = "degraded"
		} else if err := store.Ping(c.Request.Context()); err != nil {
			resp.Mongo = "unreachable"
			resp.Status = "degraded"
			resp.Details = map[string]string{"mongo_error": err.Error()}
		}
		if manager != nil {
			resp.Providers = manager.Providers()
		}

		status := http.StatusOK
		if resp.Status != "ok" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	}
}
