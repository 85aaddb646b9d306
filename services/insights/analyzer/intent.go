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

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
	"github.com/AleutianAI/Finsight/services/insights/observability"
	"github.com/AleutianAI/Finsight/services/llm"
)

const intentSystemPrompt = `You are a financial data analyst. Classify financial queries precisely and return only JSON.`

const intentUserPromptFmt = `Analyze this financial query:

Query: %q

Return JSON with:
- intent: (spending_analysis | income_analysis | pattern_detection | behavioral_analysis | risk_assessment | creditworthiness | trend_analysis | comparison | general)
- focus_areas: [] (specific aspects to analyze)
- confidence: number between 0 and 1

Only return JSON, no extra text.`

// analyzeIntent classifies the query with the first LLM call.
//
// Failure at any level (provider outage, unparseable output) falls
// back to deterministic keyword matching; this method never errors.
func (a *Analyzer) analyzeIntent(ctx context.Context, query string) *datatypes.Intent {
	if a.llm == nil {
		return fallbackIntent(query)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: intentSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(intentUserPromptFmt, query)},
	}
	response, err := a.llm.Chat(ctx, messages, llm.GenerationParams{
		Temperature: llm.Float32Ptr(0.1),
		MaxTokens:   llm.IntPtr(512),
	})
	if m := observability.DefaultMetrics; m != nil {
		m.RecordLLMCall("intent", err == nil)
	}
	if err != nil {
		a.logger.Warn("intent analysis llm failed, using keyword fallback", "error", err.Error())
		return fallbackIntent(query)
	}

	var intent datatypes.Intent
	if !extractJSON(response, &intent) || intent.Intent == "" {
		a.logger.Warn("intent analysis returned unparseable output, using keyword fallback")
		return fallbackIntent(query)
	}
	a.logger.Debug("intent analysis", "intent", intent.Intent, "confidence", intent.Confidence)
	return &intent
}

// fallbackIntent is the deterministic keyword classifier used when
// no provider is reachable.
func fallbackIntent(query string) *datatypes.Intent {
	q := strings.ToLower(query)

	containsAny := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(q, w) {
				return true
			}
		}
		return false
	}

	var intent string
	switch {
	case containsAny("spending", "expense", "spent", "cost"):
		intent = "spending_analysis"
	case containsAny("income", "salary", "earned", "earnings"):
		intent = "income_analysis"
	case containsAny("pattern", "trend", "habit", "behavior"):
		intent = "pattern_detection"
	case containsAny("compare", "vs", "versus", "difference"):
		intent = "comparison"
	default:
		intent = "general"
	}

	return &datatypes.Intent{
		Intent:     intent,
		Confidence: 0.5,
	}
}
