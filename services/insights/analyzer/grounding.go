// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Grounding context construction. The core problem here is
// double-counting: a request fans out into overlapping sub-queries
// ("total spending" and "spending by category" both observe the same
// money), so totals are selected from the single most authoritative
// source instead of summed across sources.
package analyzer

import (
	"math"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
)

// Sub-query authority weights. Direct totals beat comparative
// queries, which beat breakdown sums.
type queryPattern struct {
	phrases []string
	weight  float64
}

var groundingPatterns = []queryPattern{
	{[]string{"total spending", "total spend", "total expense", "spending amount", "total cost"}, 1.0},
	{[]string{"total income", "total salary", "income amount", "earnings"}, 1.0},
	{[]string{"compared to", "vs", "versus", "compare", "comparison"}, 0.9},
	{[]string{"break down", "breakdown", "by category", "by merchant", "categories"}, 0.7},
}

var (
	incomeQueryWords   = []string{"income", "salary", "earned", "credit", "total income"}
	spendingQueryWords = []string{"spending", "expense", "expenses", "spent", "cost", "expenditure", "total expenses"}
)

type amountCandidate struct {
	amount     float64
	confidence float64
	field      string
}

type bestSource struct {
	amount      float64
	confidence  float64
	sourceQuery string
	isSalary    bool
}

// buildGroundingContext distills execution results into the single
// set of numbers the response generator is allowed to cite.
func buildGroundingContext(results []datatypes.ExecutionResult, summary datatypes.ExecutionSummary, window datatypes.TimeWindow, intent *datatypes.Intent) *datatypes.GroundingContext {
	var bestSpending, bestIncome *bestSource
	maxTransactions := 0

	for _, r := range results {
		if !r.Success || len(r.Rows) == 0 {
			continue
		}
		q := strings.ToLower(r.SubQuery)
		queryWeight := patternWeight(q)

		isIncome := containsAnyPhrase(q, incomeQueryWords)
		isSpending := containsAnyPhrase(q, spendingQueryWords)
		if isIncome && isSpending {
			// Mixed sub-query: resolve its primary side so income and
			// spending totals never cross-contaminate. Ambiguous
			// mixtures are excluded entirely.
			switch primaryQuerySide(q) {
			case "spending":
				isIncome = false
			case "income":
				isSpending = false
			default:
				continue
			}
		}

		if isSpending {
			for _, c := range extractAmountCandidates(r.Rows, spendingAmountFields, []string{"spend", "expense", "cost", "debit"}) {
				score := c.confidence * queryWeight
				if bestSpending == nil || score > bestSpending.confidence {
					bestSpending = &bestSource{amount: c.amount, confidence: score, sourceQuery: r.SubQuery}
				}
			}
		}
		if isIncome {
			salaryQuery := strings.Contains(q, "salary")
			for _, c := range extractAmountCandidates(r.Rows, incomeAmountFields, []string{"income", "salary", "credit", "earn"}) {
				if replaceIncomeSource(bestIncome, c, queryWeight, salaryQuery) {
					bestIncome = &bestSource{
						amount:      c.amount,
						confidence:  c.confidence * queryWeight,
						sourceQuery: r.SubQuery,
						isSalary:    salaryQuery,
					}
				}
			}
		}

		if n := extractTransactionCount(r.Rows); n > maxTransactions {
			maxTransactions = n
		}
	}

	categories, merchants := extractContextual(results)

	ctx := &datatypes.GroundingContext{
		TimePeriod:       window.Label,
		TransactionCount: maxTransactions,
		TopCategories:    topN(categories, 5),
		TopMerchants:     topN(merchants, 5),
		ExecutionHealth:  summary.Health,
		ConsistencyScore: 1.0,
		Extras: map[string]any{
			"start_date":         window.Start.UTC().Format(time.RFC3339),
			"end_date":           window.End.UTC().Format(time.RFC3339),
			"timezone":           businessTimezone,
			"query_success_rate": summary.SuccessPct / 100,
		},
	}
	if intent != nil {
		ctx.Extras["intent"] = intent.Intent
	}
	if bestSpending != nil {
		ctx.TotalSpending = math.Round(bestSpending.amount*100) / 100
		ctx.Extras["spending_source_query"] = bestSpending.sourceQuery
		ctx.ConsistencyScore = breakdownConsistency(results, ctx.TotalSpending)
	}
	if bestIncome != nil {
		ctx.TotalIncome = math.Round(bestIncome.amount*100) / 100
		ctx.Extras["income_source_query"] = bestIncome.sourceQuery
	}
	return ctx
}

func patternWeight(q string) float64 {
	for _, p := range groundingPatterns {
		if containsAnyPhrase(q, p.phrases) {
			return p.weight
		}
	}
	return 0.5
}

// replaceIncomeSource decides whether a new income candidate beats
// the current best. Salary-sourced figures always win over
// non-salary ones; within a tier, near-equal confidence falls back to
// the larger amount.
func replaceIncomeSource(current *bestSource, c amountCandidate, queryWeight float64, salaryQuery bool) bool {
	if current == nil {
		return true
	}
	switch {
	case salaryQuery && !current.isSalary:
		return true
	case current.isSalary && !salaryQuery:
		return false
	case salaryQuery && current.isSalary:
		return c.amount > current.amount
	default:
		score := c.confidence * queryWeight
		if math.Abs(score-current.confidence) < 0.1 {
			return c.amount > current.amount
		}
		return score > current.confidence
	}
}

// primaryQuerySide resolves which side a mixed income+spending
// sub-query is really about, or "ambiguous" when scoring ties.
func primaryQuerySide(q string) string {
	spendingScore := 0
	incomeScore := 0
	for _, w := range []string{"expense", "expenses", "spending", "spent", "cost", "expenditure"} {
		if strings.Contains(q, w) {
			spendingScore++
		}
	}
	for _, w := range []string{"income", "salary", "earned", "earnings", "credit"} {
		if strings.Contains(q, w) {
			incomeScore++
		}
	}

	if strings.Contains(q, "compare") && strings.Contains(q, "expenses") {
		spendingScore += 2
	}
	if strings.Contains(q, "fluctuations") {
		spendingScore++
	}
	if strings.HasPrefix(q, "what are my") && strings.Contains(q, "expenses") {
		spendingScore += 3
	}
	if strings.Contains(q, "monthly expenses") {
		spendingScore += 2
	}
	// Stability and risk wording needs income first: financial
	// stability is assessed against income.
	if containsAnyPhrase(q, []string{"financial stability", "risk", "assessment", "profiling", "stability", "correlate"}) {
		incomeScore += 3
	}
	if strings.Contains(q, "income and expenses") || strings.Contains(q, "income stability") ||
		(strings.Contains(q, "income") && strings.Contains(q, "spending")) {
		incomeScore += 2
	}
	if strings.Contains(q, "income stability") || strings.Contains(q, "monthly income") {
		incomeScore += 4
	}

	switch {
	case spendingScore > incomeScore:
		return "spending"
	case incomeScore > spendingScore:
		return "income"
	default:
		return "ambiguous"
	}
}

var (
	spendingAmountFields = []string{
		"totalSpending", "total_spending", "total_amount", "totalAmount",
		"debitAmount", "spending_total", "expense_total", "sum", "total",
	}
	incomeAmountFields = []string{
		"totalIncome", "total_income", "salary_amount", "income_amount",
		"totalAmount", "total_amount", "creditAmount", "sum", "total",
	}
	breakdownAmountFields = []string{
		"totalAmount", "total_amount", "amount", "debitAmount", "creditAmount",
		"income", "salary", "spending", "expense", "cost", "sum",
	}
	// Per-unit and ratio fields must never be mistaken for totals.
	skipAmountPatterns = []string{
		"average", "avg", "mean", "weekly", "daily", "monthly",
		"ratio", "rate", "percentage", "percent", "per",
	}
)

// extractAmountCandidates pulls plausible totals from result rows.
// Breakdown result sets (several distinct group keys) are summed into
// one aggregated candidate; otherwise direct total fields score 1.0
// and indicator-named fields 0.95.
func extractAmountCandidates(rows []bson.M, directFields, indicators []string) []amountCandidate {
	if len(rows) == 0 {
		return nil
	}

	if isBreakdownResult(rows) {
		var total float64
		count := 0
		for _, row := range rows {
			for _, field := range breakdownAmountFields {
				if v, ok := numericField(row, field); ok && v > 0 {
					total += v
					count++
					break
				}
			}
		}
		if total > 0 {
			return []amountCandidate{{amount: total, confidence: 0.95, field: "aggregated_breakdown"}}
		}
	}

	var candidates []amountCandidate
	for _, row := range rows {
		direct := map[string]bool{}
		for _, field := range directFields {
			if v, ok := numericField(row, field); ok && v > 0 {
				candidates = append(candidates, amountCandidate{amount: v, confidence: 1.0, field: field})
				direct[field] = true
			}
		}
		for key, value := range row {
			v, ok := toFloat(value)
			if !ok || v <= 0 || direct[key] {
				continue
			}
			keyLower := strings.ToLower(key)
			if containsAnyPhrase(keyLower, skipAmountPatterns) {
				continue
			}
			switch {
			case containsAnyPhrase(keyLower, indicators):
				candidates = append(candidates, amountCandidate{amount: v, confidence: 0.95, field: key})
			case strings.Contains(keyLower, "amount") || keyLower == "value":
				confidence := 0.6
				if id, _ := row["_id"].(string); id == "total" {
					confidence = 0.8
				}
				candidates = append(candidates, amountCandidate{amount: v, confidence: confidence, field: key})
			}
		}
	}
	return candidates
}

// isBreakdownResult reports whether rows look like a per-group
// breakdown: at least two distinct non-generic group keys, either
// with positive amounts or with name-like identifiers.
func isBreakdownResult(rows []bson.M) bool {
	if len(rows) < 2 {
		return false
	}
	seen := map[string]bool{}
	var total float64
	for _, row := range rows {
		id, _ := row["_id"].(string)
		if id == "" || id == "total" || id == "sum" || id == "aggregate" {
			continue
		}
		seen[id] = true
		for _, field := range []string{"totalAmount", "amount", "total_amount"} {
			if v, ok := numericField(row, field); ok && v > 0 {
				total += v
				break
			}
		}
	}
	if len(seen) < 2 {
		return false
	}
	if total > 0 {
		return true
	}
	for id := range seen {
		if len(id) > 3 && strings.ContainsFunc(id, func(r rune) bool {
			return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		}) {
			return true
		}
	}
	return false
}

func extractTransactionCount(rows []bson.M) int {
	maxCount := 0
	for _, row := range rows {
		for _, field := range []string{"transaction_count", "transactionCount", "txn_count", "count", "total_transactions"} {
			if v, ok := numericField(row, field); ok && int(v) > maxCount {
				maxCount = int(v)
			}
		}
	}
	return maxCount
}

// Generic identifiers that should never surface as a merchant or
// category name.
var genericIdentifiers = []string{"total", "unknown", "2024", "2025", ":"}

// extractContextual collects category and merchant amount maps across
// every successful result set.
func extractContextual(results []datatypes.ExecutionResult) (categories, merchants map[string]float64) {
	categories = map[string]float64{}
	merchants = map[string]float64{}

	for _, r := range results {
		if !r.Success {
			continue
		}
		for _, row := range r.Rows {
			if cat, ok := row["category"].(string); ok && cat != "" {
				categories[cat] += rowAmount(row)
			}
			for _, field := range []string{"counterparty", "merchant", "_id"} {
				name, ok := row[field].(string)
				if !ok || name == "" {
					continue
				}
				if containsAnyPhrase(strings.ToLower(name), genericIdentifiers) {
					continue
				}
				if field == "_id" {
					// A group key doubles as a category when it is
					// short and not date-shaped.
					if !strings.ContainsAny(name, ":-TZ") && len(name) < 50 {
						categories[name] += rowAmount(row)
					}
					continue
				}
				merchants[name] += rowAmount(row)
			}
		}
	}
	return categories, merchants
}

func rowAmount(row bson.M) float64 {
	for _, field := range []string{"amount", "total_amount", "totalAmount", "totalSpent"} {
		if v, ok := numericField(row, field); ok {
			return v
		}
	}
	return 0
}

func topN(amounts map[string]float64, n int) []datatypes.NamedAmount {
	out := make([]datatypes.NamedAmount, 0, len(amounts))
	for name, amount := range amounts {
		out = append(out, datatypes.NamedAmount{Name: name, Amount: math.Round(amount*100) / 100})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Name < out[j].Name
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// breakdownConsistency checks breakdown sub-query sums against the
// selected primary spending total. Full credit within a 5% variance,
// linear falloff past it.
func breakdownConsistency(results []datatypes.ExecutionResult, primaryTotal float64) float64 {
	if primaryTotal <= 0 {
		return 1.0
	}
	var scores []float64
	for _, r := range results {
		q := strings.ToLower(r.SubQuery)
		if !containsAnyPhrase(q, []string{"break down", "breakdown", "by category", "by merchant"}) {
			continue
		}
		var sum float64
		for _, row := range r.Rows {
			for _, field := range []string{"amount", "total_amount", "totalSpent"} {
				if v, ok := numericField(row, field); ok {
					sum += v
					break
				}
			}
		}
		if sum <= 0 {
			continue
		}
		variance := math.Abs(primaryTotal-sum) / primaryTotal
		scores = append(scores, math.Max(0, 1.0-variance/0.05))
	}
	if len(scores) == 0 {
		return 1.0
	}
	var total float64
	for _, s := range scores {
		total += s
	}
	return total / float64(len(scores))
}

func numericField(row bson.M, field string) (float64, bool) {
	v, ok := row[field]
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
