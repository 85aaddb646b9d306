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
	"fmt"
	"strings"

	"github.com/AleutianAI/Finsight/pkg/cache"
	"github.com/AleutianAI/Finsight/services/insights/datatypes"
	"github.com/AleutianAI/Finsight/services/insights/observability"
	"github.com/AleutianAI/Finsight/services/llm"
)

// maxSubQueries caps fan-out per request regardless of what the LLM
// returns.
const maxSubQueries = 10

const subQuerySystemPrompt = `You are a financial analysis planner. Decompose financial questions into focused sub-queries that can each be answered by a single database aggregation. Return only a JSON array of strings.`

const subQueryUserPromptFmt = `FINANCIAL QUERY ANALYSIS:
User Query: %q
Query Type: %s

Generate 5-7 focused sub-queries that together cover the complete financial
context needed to answer the user query.

Rules:
- If the user named a specific time period, EVERY sub-query must focus on
  that exact period.
- Credit assessment needs income stability, recurring obligations and
  spending-to-income ratio sub-queries.
- Risk analysis needs volatility, financial buffer and stress indicator
  sub-queries.
- Behavioral analysis needs merchant habit, timing and frequency
  sub-queries.
- Each sub-query must be answerable by one aggregation over transactions.

Return ONLY a JSON array of 5-7 sub-query strings.`

// generateSubQueries produces the per-request sub-query fan-out,
// caching results against the query+intent hash. The LLM path
// requires at least three usable strings; anything less falls back
// to the deterministic per-intent lists.
func (a *Analyzer) generateSubQueries(ctx context.Context, userID, query string, intent *datatypes.Intent, queryType datatypes.QueryType) []string {
	cacheKey := cache.Key(userID, cache.PrefixSubQueries, query, intent.Intent)
	if a.cache != nil {
		var cached []string
		found, _ := a.cache.Get(cacheKey, &cached)
		if m := observability.DefaultMetrics; m != nil {
			if found {
				m.RecordCacheEvent(cache.PrefixSubQueries, "hit")
			} else {
				m.RecordCacheEvent(cache.PrefixSubQueries, "miss")
			}
		}
		if found && len(cached) > 0 {
			a.logger.Debug("sub-queries served from cache", "user_id", userID)
			return cached
		}
	}

	subQueries := a.llmSubQueries(ctx, query, queryType)
	if len(subQueries) < 3 {
		subQueries = fallbackSubQueries(query, intent)
	}
	if len(subQueries) > maxSubQueries {
		subQueries = subQueries[:maxSubQueries]
	}

	if a.cache != nil {
		if err := a.cache.Set(cacheKey, subQueries, cache.TTLSubQueries); err != nil {
			a.logger.Warn("sub-query cache write failed", "error", err.Error())
		} else if m := observability.DefaultMetrics; m != nil {
			m.RecordCacheEvent(cache.PrefixSubQueries, "set")
		}
	}
	return subQueries
}

func (a *Analyzer) llmSubQueries(ctx context.Context, query string, queryType datatypes.QueryType) []string {
	if a.llm == nil {
		return nil
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: subQuerySystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(subQueryUserPromptFmt, query, queryType)},
	}
	response, err := a.llm.Chat(ctx, messages, llm.GenerationParams{
		Temperature: llm.Float32Ptr(0.3),
		MaxTokens:   llm.IntPtr(1024),
	})
	if m := observability.DefaultMetrics; m != nil {
		m.RecordLLMCall("subquery", err == nil)
	}
	if err != nil {
		a.logger.Warn("sub-query generation llm failed", "error", err.Error())
		return nil
	}

	var raw []string
	if !extractJSON(response, &raw) {
		a.logger.Warn("sub-query generation returned unparseable output")
		return nil
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// fallbackSubQueries are the deterministic per-intent decompositions
// used whenever the LLM path yields nothing usable.
func fallbackSubQueries(query string, intent *datatypes.Intent) []string {
	q := strings.ToLower(query)

	timeCtx := "recently"
	if strings.Contains(q, "last month") {
		timeCtx = "last month"
	} else if w, ok := firstMonthMention(q); ok {
		timeCtx = "in " + w
	}

	switch {
	case strings.Contains(q, "spending") || strings.Contains(q, "expense") || intent.Intent == "spending_analysis":
		return []string{
			"Total spending amount " + timeCtx,
			"Top spending categories " + timeCtx,
			"Daily spending patterns " + timeCtx,
			"Largest individual transactions " + timeCtx,
			"Merchant spending breakdown " + timeCtx,
			"Average transaction amount " + timeCtx,
		}
	case strings.Contains(q, "income") || strings.Contains(q, "salary") || intent.Intent == "income_analysis":
		return []string{
			"Total income amount " + timeCtx,
			"Income sources breakdown " + timeCtx,
			"Income vs spending comparison " + timeCtx,
			"Monthly income trends " + timeCtx,
			"Income consistency analysis " + timeCtx,
		}
	default:
		return []string{
			"Transaction summary " + timeCtx,
			"Category breakdown " + timeCtx,
			"Total spending amount " + timeCtx,
			"Total income amount " + timeCtx,
			"Merchant analysis " + timeCtx,
			"Trend analysis " + timeCtx,
		}
	}
}

// firstMonthMention returns "july 2024"-style text when the query
// names a month and year, so fallback sub-queries stay anchored to
// the requested period.
func firstMonthMention(queryLower string) (string, bool) {
	if m := monthYearRe.FindStringSubmatch(queryLower); m != nil {
		return m[1] + " " + m[2], true
	}
	return "", false
}
