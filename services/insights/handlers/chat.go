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
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
	"github.com/AleutianAI/Finsight/services/insights/observability"
)

var chatTracer = otel.Tracer("finsight.insights.handlers")

// QueryAnalyzer abstracts the analyzer so handler tests can stub the
// full analysis path.
type QueryAnalyzer interface {
	AnalyzeQuery(ctx context.Context, req datatypes.ChatRequest) (*datatypes.ChatResponse, error)
}

// HandleChat answers POST /v1/chat. Collaborator failures inside the
// analysis are already absorbed by its fallback tiers; an error here
// means storage itself failed, and even that is returned as a normal
// response object with an apologetic text, not a transport failure.
func HandleChat(analyzer QueryAnalyzer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		requestID := uuid.NewString()
		c.Header("X-Request-ID", requestID)

		var req datatypes.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("invalid chat request", "request_id", requestID, "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and query are required"})
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			m.RequestStarted()
			defer m.RequestEnded()
		}
		started := time.Now()

		resp, err := analyzer.AnalyzeQuery(ctx, req)
		elapsed := time.Since(started).Seconds()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("chat analysis failed",
				"request_id", requestID,
				"user_id", req.UserID,
				"error", err)
			if m := observability.DefaultMetrics; m != nil {
				m.RecordRequest("error", elapsed)
			}
			c.JSON(http.StatusOK, gin.H{
				"user_id":  req.UserID,
				"query":    req.Query,
				"error":    err.Error(),
				"response": "I'm sorry, I couldn't analyze your transactions right now. Please try again in a moment.",
			})
			return
		}

		if m := observability.DefaultMetrics; m != nil {
			status := "success"
			if resp.DataPoints == 0 {
				status = "no_data"
			}
			m.RecordRequest(status, elapsed)
		}
		slog.Info("chat request served",
			"request_id", requestID,
			"user_id", req.UserID,
			"sub_queries", len(resp.SubQueries),
			"data_points", resp.DataPoints,
			"seconds", elapsed)
		c.JSON(http.StatusOK, resp)
	}
}
