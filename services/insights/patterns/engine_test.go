// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
)

func debitOn(year int, month time.Month, day int, amount float64, counterparty string) datatypes.Transaction {
	return datatypes.Transaction{
		UserID:          "user-1",
		Amount:          amount,
		TransactionType: datatypes.TypeDebit,
		Counterparty:    counterparty,
		TransactionDate: time.Date(year, month, day, 18, 0, 0, 0, time.UTC),
	}
}

func TestDiscoverInsightsEndToEnd(t *testing.T) {
	store := &fakePatternStore{}
	engine := NewEngine(context.Background(), "user-1", store, testLogger())

	txns := []datatypes.Transaction{
		creditOn(2025, time.May, 60000, "ACME TECHNOLOGIES PRIVATE LIMITED"),
		creditOn(2025, time.June, 60000, "ACME TECHNOLOGIES PRIVATE LIMITED"),
		creditOn(2025, time.July, 65000, "ACME TECHNOLOGIES PRIVATE LIMITED"),
		debitOn(2025, time.May, 3, 450, "dominos restaurant"),
		debitOn(2025, time.June, 9, 450, "dominos restaurant"),
		debitOn(2025, time.July, 15, 1200, "hdfc bank"),
		// Duplicate row the quality pass must drop.
		debitOn(2025, time.July, 15, 1200, "hdfc bank"),
	}

	insights, err := engine.DiscoverInsights(context.Background(), txns)
	require.NoError(t, err)

	assert.Equal(t, 1, insights.DataQuality.DuplicatesRemoved)
	assert.Equal(t, 6, insights.DataQuality.FinalCount)

	require.True(t, insights.Salary.Detected)
	assert.Equal(t, 65000.0, insights.Salary.CurrentSalary)

	require.True(t, insights.Spending.Analyzed)
	assert.InDelta(t, 2100.0, insights.Spending.TotalSpending, 1e-9)
	assert.InDelta(t, 700.0, insights.Spending.AverageMonthly, 1e-9)
	assert.InDelta(t, 900.0, insights.Spending.CategoryBreakdown[categoryFoodDining], 1e-9)
	assert.InDelta(t, 1200.0, insights.Spending.CategoryBreakdown[categoryFinancialServices], 1e-9)
	require.NotEmpty(t, insights.Spending.TopMerchants)
	assert.Equal(t, "hdfc bank", insights.Spending.TopMerchants[0].Name)

	require.True(t, insights.Trends.Analyzed)
	assert.InDelta(t, 60000-450, insights.Trends.SavingsTrend["2025-05"], 1e-9)
	assert.InDelta(t, 65000-1200, insights.Trends.SavingsTrend["2025-07"], 1e-9)

	assert.Equal(t, 3, insights.Metadata.TotalMonths)

	// Learned state was flushed.
	assert.Equal(t, 1, store.saves)
	require.NotNil(t, store.snap)
	assert.Contains(t, store.snap.Merchants, "dominos restaurant")
}

func TestDiscoverInsightsEmpty(t *testing.T) {
	engine := NewEngine(context.Background(), "user-1", nil, testLogger())

	insights, err := engine.DiscoverInsights(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, insights.Salary.Detected)
	assert.False(t, insights.Spending.Analyzed)
	assert.False(t, insights.Trends.Analyzed)
	assert.Equal(t, 100.0, insights.DataQuality.QualityScore)
}

func TestAnalyzeTrendsGrowthRates(t *testing.T) {
	txns := []datatypes.Transaction{
		creditOn(2025, time.January, 10000, "Globex Technologies"),
		creditOn(2025, time.February, 12000, "Globex Technologies"),
		debitOn(2025, time.January, 5, 4000, "rent"),
		debitOn(2025, time.February, 5, 5000, "rent"),
	}

	trends := analyzeTrends(txns)
	require.True(t, trends.Analyzed)
	assert.InDelta(t, 20.0, trends.IncomeGrowthPct, 1e-9)
	assert.InDelta(t, 25.0, trends.SpendingGrowthPct, 1e-9)
	assert.InDelta(t, 6000.0, trends.SavingsTrend["2025-01"], 1e-9)
	// Mean savings 6500 against mean income 11000.
	assert.InDelta(t, 6500.0/11000.0*100, trends.AverageSavingsRate, 1e-9)
}

func TestEngineLearningDelegation(t *testing.T) {
	engine := NewEngine(context.Background(), "user-1", nil, testLogger())

	engine.Learn("swiggy", 350, "food", "")
	category, confidence := engine.LearnedCategory("swiggy", 350)
	assert.Equal(t, "food", category)
	assert.Greater(t, confidence, 0.9)
	assert.Equal(t, 1, engine.LearningStats().TransactionsLearned)
}
