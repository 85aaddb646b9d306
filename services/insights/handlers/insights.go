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

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/Finsight/pkg/logging"
	"github.com/AleutianAI/Finsight/services/insights/datatypes"
	"github.com/AleutianAI/Finsight/services/insights/patterns"
)

var insightsTracer = otel.Tracer("finsight.insights.handlers")

// insightsHistoryLimit bounds how many recent transactions feed a
// single discovery run.
const insightsHistoryLimit = 2000

// TransactionLister loads a user's recent transaction history.
type TransactionLister interface {
	RecentTransactions(ctx context.Context, userID string, limit int64) ([]datatypes.Transaction, error)
}

// HandleInsights runs pattern discovery over a user's recent history:
// data quality, salary detection, spending categorization, and trend
// analysis. Learned merchant patterns are persisted as a side effect.
func HandleInsights(store TransactionLister, patternStore patterns.PatternStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := insightsTracer.Start(c.Request.Context(), "handlers.Insights")
		defer span.End()

		userID := c.Param("user_id")
		if userID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
			return
		}
		span.SetAttributes(attribute.String("user.id", userID))

		txns, err := store.RecentTransactions(ctx, userID, insightsHistoryLimit)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transaction load failed")
			slog.Error("insight discovery: transaction load failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load transaction history"})
			return
		}

		engine := patterns.NewEngine(ctx, userID, patternStore, logging.Default())
		result, err := engine.DiscoverInsights(ctx, txns)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "discovery failed")
			slog.Error("insight discovery failed", "user_id", userID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "insight discovery failed"})
			return
		}

		span.SetAttributes(attribute.Int("insights.transactions", len(txns)))
		c.JSON(http.StatusOK, gin.H{
			"user_id":  userID,
			"insights": result,
		})
	}
}
