// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analyzer implements the financial insight pipeline: intent
// classification, time-window resolution, sub-query planning,
// aggregation compilation with tiered fallbacks, parallel execution,
// grounding, and response generation.
package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/Finsight/pkg/cache"
	"github.com/AleutianAI/Finsight/pkg/logging"
	"github.com/AleutianAI/Finsight/services/insights/datatypes"
	"github.com/AleutianAI/Finsight/services/llm"
)

// Store is the transaction storage surface the analyzer needs.
type Store interface {
	PipelineRunner
	TransactionCounter
	HasUser(ctx context.Context, userID string) (bool, error)
}

// ChatProvider abstracts the LLM manager so tests can stub model
// calls.
type ChatProvider interface {
	Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (string, error)
}

// Analyzer orchestrates one chat request end to end. Safe for
// concurrent use.
type Analyzer struct {
	store    Store
	llm      ChatProvider
	cache    *cache.Cache
	resolver *TimeWindowResolver
	executor *Executor
	logger   *logging.Logger
}

func New(store Store, provider ChatProvider, c *cache.Cache, logger *logging.Logger) *Analyzer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Analyzer{
		store:    store,
		llm:      provider,
		cache:    c,
		resolver: NewTimeWindowResolver(store, logger.Slog()),
		executor: NewExecutor(store, logger),
		logger:   logger,
	}
}

// AnalyzeQuery answers one free-text financial question. The only
// error paths are storage-level: LLM failures degrade tier by tier
// and never surface to the caller.
func (a *Analyzer) AnalyzeQuery(ctx context.Context, req datatypes.ChatRequest) (*datatypes.ChatResponse, error) {
	started := time.Now()
	a.logger.Info("analyzing query", "user_id", req.UserID, "query", req.Query)

	hasData, err := a.store.HasUser(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("checking user data: %w", err)
	}
	if !hasData {
		return a.noDataResponse(req, started), nil
	}

	intent := a.analyzeIntent(ctx, req.Query)
	queryType := ClassifyQueryType(req.Query, intent)
	window := a.resolver.Resolve(ctx, req.Query, req.UserID, queryType)
	a.logger.Info("query classified",
		"user_id", req.UserID, "query_type", string(queryType),
		"intent", intent.Intent, "window", window.Label)

	subQueries := a.generateSubQueries(ctx, req.UserID, req.Query, intent, queryType)
	pipelines := a.compilePipelines(ctx, req.UserID, subQueries, window, intent)
	results, summary := a.executor.Execute(ctx, pipelines)
	grounding := buildGroundingContext(results, summary, window, intent)
	response := a.generateResponse(ctx, req.Query, results, grounding)

	dataPoints := 0
	for _, r := range results {
		dataPoints += r.Count
	}
	a.logger.Info("analysis complete",
		"user_id", req.UserID, "sub_queries", len(subQueries),
		"data_points", dataPoints, "health", summary.Health,
		"elapsed", time.Since(started).Round(time.Millisecond).String())

	return &datatypes.ChatResponse{
		UserID:           req.UserID,
		Query:            req.Query,
		Response:         response,
		SubQueries:       subQueries,
		DataPoints:       dataPoints,
		ProcessingTime:   time.Since(started).Seconds(),
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		GroundingContext: grounding,
	}, nil
}

// noDataResponse answers gracefully for users with no transaction
// history instead of running the full pipeline against nothing.
func (a *Analyzer) noDataResponse(req datatypes.ChatRequest, started time.Time) *datatypes.ChatResponse {
	a.logger.Info("no transaction data for user", "user_id", req.UserID)
	return &datatypes.ChatResponse{
		UserID: req.UserID,
		Query:  req.Query,
		Response: "I don't have any transaction data for your account yet. " +
			"Once your transactions are synced, I can analyze your spending, income, and financial patterns.",
		SubQueries:     []string{},
		ProcessingTime: time.Since(started).Seconds(),
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
}
