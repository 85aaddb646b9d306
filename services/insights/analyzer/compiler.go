// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/AleutianAI/Finsight/pkg/cache"
	"github.com/AleutianAI/Finsight/services/insights/datatypes"
	"github.com/AleutianAI/Finsight/services/insights/observability"
	"github.com/AleutianAI/Finsight/services/llm"
)

const pipelineSystemPromptFmt = `ROLE: You are a MongoDB aggregation expert specializing in Indian financial transaction analysis.

ACTION: Generate syntactically perfect MongoDB aggregation pipelines for financial queries.

CONTEXT: You are analyzing user financial data with these CRITICAL distinctions:

INCOME TRANSACTIONS (money coming in):
- transaction_type: "credit"
- category: "salary" for employer payments
- These ADD to the user's wealth

SPENDING TRANSACTIONS (money going out):
- transaction_type: "debit"
- category: "transfer", "food", "transport", etc.
- These SUBTRACT from the user's wealth

SCHEMA (%s):
- user_id: string (REQUIRED filter)
- amount: number (ALWAYS positive, in INR)
- transaction_type: "debit" | "credit" (debit=spending, credit=income)
- category: string (salary, transfer, food, transport, etc.)
- counterparty: string (employer/merchant name)
- transaction_date: BSON Date (UTC)

CRITICAL SYNTAX RULES (ZERO TOLERANCE FOR ERRORS):
1. $cond operator takes EXACTLY 3 arguments: [condition, true_value, false_value]
2. The FIRST stage must be $match with user_id and the date range:
   {"$match": {"user_id": %q, "transaction_date": {"$gte": ISODate(%q), "$lt": ISODate(%q)}}}
3. Income queries (salary, earnings, income) MUST match transaction_type: "credit";
   salary queries additionally match category: "salary".
4. Spending queries (expenses, spending, costs) MUST match transaction_type: "debit".
   Amounts are positive; never use amount < 0.
5. Never confuse: "transfer" category is SPENDING (debit), "salary" category is INCOME (credit).
6. Date grouping uses $dateTrunc with timezone %q.
7. Forbidden operators: $where, $function, $accumulator, $out, $merge, $dateFromString.
8. Use $group, $sort, $limit effectively; include $avg, $max, $min for insight queries.

Return JSON: {"match_conditions": {...}, "aggregation_pipeline": [...], "description": "..."}
NO explanations, NO markdown outside the JSON.`

const pipelineUserPromptFmt = `Build a MongoDB aggregation pipeline for this sub-query:

Sub-query: %q
User ID: %q
Window: %s to %s (%s)

Return ONLY the JSON object with match_conditions, aggregation_pipeline and description.`

// llmPipelineResult is the shape the model is asked to return.
type llmPipelineResult struct {
	MatchConditions map[string]any `json:"match_conditions"`
	Pipeline        []bson.M       `json:"aggregation_pipeline"`
	Description     string         `json:"description"`
}

// compilePipelines turns each sub-query into an executable pipeline
// through a three-tier fallback: LLM generation (repaired, corrected
// and validated), keyword-routed templates, and finally the emergency
// raw sample. Compilation is total: every sub-query yields a pipeline.
func (a *Analyzer) compilePipelines(ctx context.Context, userID string, subQueries []string, window datatypes.TimeWindow, intent *datatypes.Intent) []datatypes.CompiledPipeline {
	compiled := make([]datatypes.CompiledPipeline, 0, len(subQueries))
	for _, subQuery := range subQueries {
		compiled = append(compiled, a.compileOne(ctx, userID, subQuery, window, intent))
	}
	return compiled
}

func (a *Analyzer) compileOne(ctx context.Context, userID, subQuery string, window datatypes.TimeWindow, intent *datatypes.Intent) datatypes.CompiledPipeline {
	intentName := ""
	if intent != nil {
		intentName = intent.Intent
	}
	cacheKey := cache.Key(userID, cache.PrefixPipelines, subQuery, intentName)

	if a.cache != nil {
		var cached datatypes.CompiledPipeline
		found, _ := a.cache.Get(cacheKey, &cached)
		if m := observability.DefaultMetrics; m != nil {
			if found {
				m.RecordCacheEvent(cache.PrefixPipelines, "hit")
			} else {
				m.RecordCacheEvent(cache.PrefixPipelines, "miss")
			}
		}
		if found && len(cached.Stages) > 0 {
			// The JSON round-trip through the cache downgrades BSON
			// dates to strings; repair restores real dates on the
			// first $match, which is the only stage the window binds.
			cached.Stages = repairPipeline(cached.Stages, userID, window, intent)
			a.logger.Debug("pipeline served from cache", "sub_query", subQuery, "source", cached.Source)
			return cached
		}
	}

	result := a.llmTier(ctx, userID, subQuery, window, intent)
	if result == nil {
		stages, description := templateForSubQuery(userID, subQuery, window)
		result = &datatypes.CompiledPipeline{
			SubQuery:    subQuery,
			Stages:      stages,
			Source:      datatypes.SourceTemplate,
			Confidence:  datatypes.ConfidenceHigh,
			Description: description,
		}
		if err := validatePipeline(stages); err != nil {
			a.logger.Error("template pipeline failed validation, using emergency fallback",
				"sub_query", subQuery, "error", err.Error())
			stages, description = emergencyPipeline(userID, window)
			result = &datatypes.CompiledPipeline{
				SubQuery:    subQuery,
				Stages:      stages,
				Source:      datatypes.SourceEmergency,
				Confidence:  datatypes.ConfidenceMedium,
				Description: fmt.Sprintf("%s (for: %s)", description, subQuery),
			}
		}
	}

	if a.cache != nil {
		if err := a.cache.Set(cacheKey, result, cache.TTLPipelines); err != nil {
			a.logger.Warn("pipeline cache write failed", "error", err.Error())
		} else if m := observability.DefaultMetrics; m != nil {
			m.RecordCacheEvent(cache.PrefixPipelines, "set")
		}
	}
	return *result
}

// llmTier attempts tier-one compilation. Returns nil when the model
// is unavailable, unparseable, or produced a pipeline that failed
// validation even after repair.
func (a *Analyzer) llmTier(ctx context.Context, userID, subQuery string, window datatypes.TimeWindow, intent *datatypes.Intent) *datatypes.CompiledPipeline {
	stages, description, err := a.llmPipeline(ctx, userID, subQuery, window, intent)
	if err != nil {
		a.logger.Warn("llm pipeline generation failed, falling back to template",
			"sub_query", subQuery, "error", err.Error())
		return nil
	}

	stages = autoCorrectTransactionType(stages, subQuery)
	if err := validatePipeline(stages); err != nil {
		a.logger.Warn("llm pipeline failed validation, falling back to template",
			"sub_query", subQuery, "error", err.Error())
		return nil
	}

	return &datatypes.CompiledPipeline{
		SubQuery:    subQuery,
		Stages:      stages,
		Source:      datatypes.SourceLLM,
		Confidence:  datatypes.ConfidenceHigh,
		Description: description,
	}
}

func (a *Analyzer) llmPipeline(ctx context.Context, userID, subQuery string, window datatypes.TimeWindow, intent *datatypes.Intent) ([]bson.M, string, error) {
	if a.llm == nil {
		return nil, "", errors.New("no llm provider configured")
	}

	startISO := window.Start.UTC().Format(time.RFC3339)
	endISO := window.End.UTC().Format(time.RFC3339)

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(pipelineSystemPromptFmt,
			datatypes.CollectionTransactions, userID, startISO, endISO, businessTimezone)},
		{Role: llm.RoleUser, Content: fmt.Sprintf(pipelineUserPromptFmt,
			subQuery, userID, startISO, endISO, window.Label)},
	}
	response, err := a.llm.Chat(ctx, messages, llm.GenerationParams{
		Temperature: llm.Float32Ptr(0.1),
		MaxTokens:   llm.IntPtr(2048),
	})
	if m := observability.DefaultMetrics; m != nil {
		m.RecordLLMCall("pipeline", err == nil)
	}
	if err != nil {
		return nil, "", err
	}

	var result llmPipelineResult
	if !extractJSON(response, &result) || len(result.Pipeline) == 0 {
		// Some models return the bare stage array despite the prompt.
		var bare []bson.M
		if !extractJSON(response, &bare) || len(bare) == 0 {
			return nil, "", errors.New("no aggregation pipeline in llm output")
		}
		result.Pipeline = bare
	}

	stages := repairPipeline(result.Pipeline, userID, window, intent)
	return stages, result.Description, nil
}
