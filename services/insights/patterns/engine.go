// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package patterns discovers statistical patterns in a user's
// transaction history: data quality, salary source and progression,
// spending distribution, and monthly trends. A per-user learning
// mechanism accumulates merchant categorization knowledge across runs
// and persists it through a PatternStore.
package patterns

import (
	"context"
	"sort"
	"time"

	"github.com/AleutianAI/Finsight/pkg/logging"
	"github.com/AleutianAI/Finsight/services/insights/datatypes"
)

// SpendingInsights summarizes debit behavior over the analyzed set.
type SpendingInsights struct {
	Analyzed          bool                    `json:"spending_analyzed"`
	TotalSpending     float64                 `json:"total_spending,omitempty"`
	AverageMonthly    float64                 `json:"average_monthly_spending,omitempty"`
	MonthlyHistory    map[string]float64      `json:"monthly_history,omitempty"`
	CategoryBreakdown map[string]float64      `json:"category_breakdown,omitempty"`
	TopMerchants      []datatypes.NamedAmount `json:"top_merchants,omitempty"`
}

// TrendInsights tracks month-over-month income, spending and savings.
type TrendInsights struct {
	Analyzed           bool               `json:"trends_analyzed"`
	IncomeTrend        map[string]float64 `json:"income_trend,omitempty"`
	SpendingTrend      map[string]float64 `json:"spending_trend,omitempty"`
	SavingsTrend       map[string]float64 `json:"savings_trend,omitempty"`
	IncomeGrowthPct    float64            `json:"income_growth_rate"`
	SpendingGrowthPct  float64            `json:"spending_growth_rate"`
	AverageSavingsRate float64            `json:"average_savings_rate"`
}

// InsightsMetadata describes the analyzed data period.
type InsightsMetadata struct {
	ProcessedAt time.Time `json:"processing_timestamp"`
	StartDate   time.Time `json:"start_date,omitempty"`
	EndDate     time.Time `json:"end_date,omitempty"`
	TotalDays   int       `json:"total_days"`
	TotalMonths int       `json:"total_months"`
}

// Insights is the full discovery output for one user.
type Insights struct {
	DataQuality QualityReport    `json:"data_quality"`
	Salary      SalaryInsights   `json:"salary_insights"`
	Spending    SpendingInsights `json:"spending_insights"`
	Trends      TrendInsights    `json:"trend_insights"`
	Metadata    InsightsMetadata `json:"metadata"`
}

// Engine runs pattern discovery for a single user. It owns that
// user's learner; engines are never shared across users.
type Engine struct {
	userID  string
	learner *Learner
	logger  *logging.Logger
}

// NewEngine builds a per-user discovery engine, loading persisted
// learning state when a store is provided.
func NewEngine(ctx context.Context, userID string, store PatternStore, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		userID:  userID,
		learner: NewLearner(ctx, userID, store, logger),
		logger:  logger,
	}
}

// Learn records one categorization observation. An actualCategory
// differing from predictedCategory is treated as a correction.
func (e *Engine) Learn(merchant string, amount float64, predictedCategory, actualCategory string) {
	e.learner.Learn(merchant, amount, predictedCategory, actualCategory)
}

// LearnedCategory predicts a category from accumulated observations.
func (e *Engine) LearnedCategory(merchant string, amount float64) (string, float64) {
	return e.learner.LearnedCategory(merchant, amount)
}

// LearningStats reports the learner's accumulated state.
func (e *Engine) LearningStats() LearningStats {
	return e.learner.Stats()
}

// DiscoverInsights cleans the transaction set, detects salary and
// spending patterns, derives monthly trends, and flushes learned
// state. Persistence failures are logged, never fatal: insights from
// this run are still valid.
func (e *Engine) DiscoverInsights(ctx context.Context, txns []datatypes.Transaction) (*Insights, error) {
	e.logger.Info("starting insight discovery", "user_id", e.userID, "transactions", len(txns))

	clean, quality := analyzeQuality(txns)

	insights := &Insights{
		DataQuality: quality,
		Salary:      detectSalary(clean),
		Spending:    e.analyzeSpending(clean),
		Trends:      analyzeTrends(clean),
		Metadata:    dataPeriod(clean),
	}

	if err := e.learner.Flush(ctx); err != nil {
		e.logger.Warn("could not persist learned patterns", "user_id", e.userID, "error", err)
	}

	e.logger.Info("insight discovery completed",
		"user_id", e.userID,
		"quality_score", quality.QualityScore,
		"salary_detected", insights.Salary.Detected)
	return insights, nil
}

func (e *Engine) analyzeSpending(txns []datatypes.Transaction) SpendingInsights {
	cat := &categorizer{learner: e.learner}

	total := 0.0
	monthly := make(map[string]float64)
	byCategory := make(map[string]float64)
	byMerchant := make(map[string]float64)
	count := 0
	for _, t := range txns {
		if t.TransactionType != datatypes.TypeDebit {
			continue
		}
		count++
		total += t.Amount
		monthly[monthKey(t)] += t.Amount
		byCategory[cat.categorize(t.Counterparty, t.Amount)] += t.Amount
		byMerchant[merchantKey(t.Counterparty)] += t.Amount
	}
	if count == 0 {
		return SpendingInsights{}
	}

	avgMonthly := 0.0
	for _, v := range monthly {
		avgMonthly += v
	}
	avgMonthly /= float64(len(monthly))

	return SpendingInsights{
		Analyzed:          true,
		TotalSpending:     total,
		AverageMonthly:    avgMonthly,
		MonthlyHistory:    monthly,
		CategoryBreakdown: byCategory,
		TopMerchants:      topMerchants(byMerchant, 10),
	}
}

func analyzeTrends(txns []datatypes.Transaction) TrendInsights {
	if len(txns) == 0 {
		return TrendInsights{}
	}

	income := make(map[string]float64)
	spending := make(map[string]float64)
	for _, t := range txns {
		switch t.TransactionType {
		case datatypes.TypeCredit:
			income[monthKey(t)] += t.Amount
		case datatypes.TypeDebit:
			spending[monthKey(t)] += t.Amount
		}
	}

	months := make(map[string]struct{})
	for m := range income {
		months[m] = struct{}{}
	}
	for m := range spending {
		months[m] = struct{}{}
	}
	savings := make(map[string]float64, len(months))
	for m := range months {
		savings[m] = income[m] - spending[m]
	}

	incomeMean := meanOfMap(income)
	savingsRate := 0.0
	if incomeMean > 0 {
		savingsRate = meanOfMap(savings) / incomeMean * 100
	}

	return TrendInsights{
		Analyzed:           true,
		IncomeTrend:        income,
		SpendingTrend:      spending,
		SavingsTrend:       savings,
		IncomeGrowthPct:    growthRate(income),
		SpendingGrowthPct:  growthRate(spending),
		AverageSavingsRate: savingsRate,
	}
}

func dataPeriod(txns []datatypes.Transaction) InsightsMetadata {
	meta := InsightsMetadata{ProcessedAt: time.Now().UTC()}
	if len(txns) == 0 {
		return meta
	}

	start := txns[0].TransactionDate
	end := txns[0].TransactionDate
	months := make(map[string]struct{})
	for _, t := range txns {
		if t.TransactionDate.Before(start) {
			start = t.TransactionDate
		}
		if t.TransactionDate.After(end) {
			end = t.TransactionDate
		}
		months[monthKey(t)] = struct{}{}
	}
	meta.StartDate = start
	meta.EndDate = end
	meta.TotalDays = int(end.Sub(start).Hours() / 24)
	meta.TotalMonths = len(months)
	return meta
}

// growthRate is the first-to-last percentage change over the
// month-key-sorted series.
func growthRate(series map[string]float64) float64 {
	if len(series) < 2 {
		return 0
	}
	keys := make([]string, 0, len(series))
	for k := range series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	first := series[keys[0]]
	last := series[keys[len(keys)-1]]
	if first == 0 {
		return 0
	}
	return (last - first) / first * 100
}

func meanOfMap(series map[string]float64) float64 {
	if len(series) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range series {
		sum += v
	}
	return sum / float64(len(series))
}

func topMerchants(byMerchant map[string]float64, n int) []datatypes.NamedAmount {
	out := make([]datatypes.NamedAmount, 0, len(byMerchant))
	for name, amount := range byMerchant {
		out = append(out, datatypes.NamedAmount{Name: name, Amount: amount})
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
