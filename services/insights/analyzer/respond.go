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
	"encoding/json"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
	"github.com/AleutianAI/Finsight/services/insights/observability"
	"github.com/AleutianAI/Finsight/services/llm"
)

// maxSummaryRows caps the per-sub-query rows forwarded to the model.
const maxSummaryRows = 5

const responseSystemPrompt = `You are a financial intelligence analyst. Write a grounded, specific analysis of the user's finances.

RULES:
- ALL amounts in INR with the rupee symbol.
- Use ONLY the numbers in the grounding context; never invent figures.
- State the analysis period exactly as given in time_period; never assume a longer period.
- Only mention income when the question concerns income, salary, earnings, or financial health; a pure spending question gets no income commentary.
- If spending looks implausibly low for the period, say the data may be incomplete instead of drawing strong conclusions.
- 300-400 words maximum.
- End with a one or two sentence bottom line that directly answers the question.`

const responseUserPromptFmt = `User Query: %q

GROUNDING CONTEXT:
%s

DATA SUMMARY:
%s

Write the analysis now. Cite the grounding context figures exactly.`

// generateResponse produces the final natural-language answer. The
// provider path gets the grounding context plus a compact data
// summary; on any failure the deterministic renderer answers from the
// grounding context alone.
func (a *Analyzer) generateResponse(ctx context.Context, query string, results []datatypes.ExecutionResult, grounding *datatypes.GroundingContext) string {
	if a.llm == nil {
		return deterministicResponse(results, grounding)
	}

	groundingJSON, err := json.MarshalIndent(grounding, "", "  ")
	if err != nil {
		groundingJSON = []byte("{}")
	}
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: responseSystemPrompt},
		{Role: llm.RoleUser, Content: fmt.Sprintf(responseUserPromptFmt, query, groundingJSON, dataSummary(results))},
	}
	response, err := a.llm.Chat(ctx, messages, llm.GenerationParams{
		Temperature: llm.Float32Ptr(0.2),
		MaxTokens:   llm.IntPtr(1024),
	})
	if m := observability.DefaultMetrics; m != nil {
		m.RecordLLMCall("response", err == nil)
	}
	if err != nil || strings.TrimSpace(response) == "" {
		if err != nil {
			a.logger.Warn("response generation llm failed, using deterministic renderer", "error", err.Error())
		}
		return deterministicResponse(results, grounding)
	}
	return strings.TrimSpace(response)
}

// dataSummary compresses execution results into a few lines per
// sub-query so the response prompt stays well inside context limits.
func dataSummary(results []datatypes.ExecutionResult) string {
	var b strings.Builder
	for _, r := range results {
		if !r.Success || r.Count == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n%s:\n", r.SubQuery)
		for i, row := range r.Rows {
			if i == maxSummaryRows {
				fmt.Fprintf(&b, "  ... and %d more results\n", r.Count-maxSummaryRows)
				break
			}
			b.WriteString("  " + rowSummary(row, i+1) + "\n")
		}
	}
	if b.Len() == 0 {
		return "No significant data found."
	}
	return b.String()
}

// rowSummary extracts the identifier, best amount, and count from one
// aggregation row.
func rowSummary(row bson.M, index int) string {
	var parts []string
	for _, field := range []string{"totalAmount", "amount", "total_amount", "debitAmount", "total_spending", "totalIncome"} {
		if v, ok := numericField(row, field); ok {
			parts = append(parts, fmt.Sprintf("₹%.2f", v))
			break
		}
	}

	identifier := ""
	for _, field := range []string{"_id", "category", "counterparty", "merchant", "month"} {
		if v, ok := row[field].(string); ok && v != "" {
			identifier = v
			if len(identifier) > 30 {
				identifier = identifier[:27] + "..."
			}
			break
		}
	}

	for _, field := range []string{"transactionCount", "transaction_count", "count"} {
		if v, ok := numericField(row, field); ok && v > 0 {
			parts = append(parts, fmt.Sprintf("%d txns", int(v)))
			break
		}
	}

	switch {
	case identifier != "" && len(parts) > 0:
		return fmt.Sprintf("%d. %s: %s", index, identifier, strings.Join(parts, ", "))
	case len(parts) > 0:
		return fmt.Sprintf("%d. %s", index, strings.Join(parts, ", "))
	default:
		return fmt.Sprintf("%d. [no key metrics]", index)
	}
}

// deterministicResponse renders a plain factual answer from the
// grounding context when no provider is reachable. Ugly but honest.
func deterministicResponse(results []datatypes.ExecutionResult, grounding *datatypes.GroundingContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Financial Analysis for %s\n\n", grounding.TimePeriod)
	fmt.Fprintf(&b, "Summary:\n")
	fmt.Fprintf(&b, "- Total spending: ₹%.2f\n", grounding.TotalSpending)
	if grounding.TotalIncome > 0 {
		fmt.Fprintf(&b, "- Total income: ₹%.2f\n", grounding.TotalIncome)
	}
	fmt.Fprintf(&b, "- Transactions: %d\n", grounding.TransactionCount)
	if grounding.TransactionCount > 0 && grounding.TotalSpending > 0 {
		fmt.Fprintf(&b, "- Average per transaction: ₹%.2f\n", grounding.TotalSpending/float64(grounding.TransactionCount))
	}

	if len(grounding.TopCategories) > 0 {
		b.WriteString("\nTop categories:\n")
		for _, c := range grounding.TopCategories {
			fmt.Fprintf(&b, "- %s: ₹%.2f\n", c.Name, c.Amount)
		}
	}
	if len(grounding.TopMerchants) > 0 {
		b.WriteString("\nTop merchants:\n")
		for _, m := range grounding.TopMerchants {
			fmt.Fprintf(&b, "- %s: ₹%.2f\n", m.Name, m.Amount)
		}
	}

	succeeded := 0
	for _, r := range results {
		if r.Success && r.Count > 0 {
			succeeded++
		}
	}
	fmt.Fprintf(&b, "\nSystem health: %s (%d data sources)\n", grounding.ExecutionHealth, succeeded)
	return b.String()
}
