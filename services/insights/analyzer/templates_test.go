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
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
)

// testWindow is July 2025 in IST, expressed in UTC.
func testWindow() datatypes.TimeWindow {
	loc := time.FixedZone("IST", 5*3600+1800)
	start := time.Date(2025, time.July, 1, 0, 0, 0, 0, loc)
	end := start.AddDate(0, 1, 0)
	return datatypes.TimeWindow{
		Start:    start.UTC(),
		End:      end.UTC(),
		Label:    "July 2025",
		Explicit: true,
	}
}

func TestTemplateRouting(t *testing.T) {
	w := testWindow()
	tests := []struct {
		query    string
		wantDesc string
	}{
		{"my spending patterns this month", "patterns"},
		{"total income for july", "Total income"},
		{"income breakdown by source", "Income breakdown"},
		{"how much spent overall", "Total spending"},
		{"top categories this month", "Top 5 spending categories"},
		{"average daily spend", "Average daily spending"},
		{"compare my months", "month comparison"},
		{"percentage split of spending", "percentages"},
		{"biggest purchases", "largest transactions"},
		{"recurring merchants I pay", "Recurring merchants"},
		{"week by week view", "Weekly spending"},
		{"something unclassifiable", "trend over requested window"},
	}
	for _, tt := range tests {
		_, desc := templateForSubQuery("u1", tt.query, w)
		assert.Contains(t, strings.ToLower(desc), strings.ToLower(tt.wantDesc), tt.query)
	}
}

func TestTemplatesScopeToUserAndWindow(t *testing.T) {
	w := testWindow()
	queries := []string{
		"total spending", "total income", "top categories", "average daily",
		"compare months", "percentage", "largest", "recurring", "weekly",
		"patterns", "fallthrough",
	}
	for _, q := range queries {
		stages, _ := templateForSubQuery("u7", q, w)
		require.NotEmpty(t, stages, q)
		match, ok := stageMatch(stages[0])
		require.True(t, ok, q)
		assert.Equal(t, "u7", match["user_id"], q)

		dateFilter, ok := match["transaction_date"].(bson.M)
		require.True(t, ok, q)
		assert.Equal(t, w.Start, dateFilter["$gte"], q)
		assert.Equal(t, w.End, dateFilter["$lt"], q)
	}
}

func TestIncomeTemplatesMatchCreditsOnly(t *testing.T) {
	w := testWindow()
	for _, q := range []string{"total income", "income breakdown"} {
		stages, _ := templateForSubQuery("u1", q, w)
		match, _ := stageMatch(stages[0])
		assert.Equal(t, datatypes.TypeCredit, match["transaction_type"], q)
	}
}

func TestSpendingTemplatesNeverMatchCredits(t *testing.T) {
	w := testWindow()
	stages, _ := templateForSubQuery("u1", "total spending", w)
	match, _ := stageMatch(stages[0])
	assert.Equal(t, datatypes.TypeDebit, match["transaction_type"])
	assert.NotContains(t, match, "$or")
	assert.NotContains(t, match, "amount")
}

// Spending is only ever selected by transaction_type; no template may
// filter rows by amount sign, in any stage.
func TestTemplatesNeverFilterNegativeAmounts(t *testing.T) {
	w := testWindow()
	queries := []string{
		"total spending last month",
		"top categories",
		"average daily spending",
		"largest transactions",
		"recurring merchants",
		"weekly breakdown",
		"spending patterns",
		"compare my months",
		"percentage split of spending",
		"something unclassifiable",
	}
	for _, q := range queries {
		stages, _ := templateForSubQuery("u1", q, w)
		for _, s := range stages {
			if match, ok := s["$match"]; ok {
				serialized, err := json.Marshal(match)
				require.NoError(t, err)
				assert.False(t, filtersNegativeAmount(match),
					"%s: $match filters on amount sign: %s", q, serialized)
			}
		}
		require.NoError(t, validatePipeline(stages), q)
	}
}

func TestTopCategoriesLimit(t *testing.T) {
	stages, _ := templateForSubQuery("u1", "top categories", testWindow())
	assert.Equal(t, bson.M{"$limit": 5}, stages[len(stages)-1])
}

func TestLargestTransactionsLimitAndProjection(t *testing.T) {
	stages, _ := templateForSubQuery("u1", "largest transactions", testWindow())
	var hasLimit bool
	for _, s := range stages {
		if v, ok := s["$limit"]; ok {
			assert.Equal(t, 10, v)
			hasLimit = true
		}
	}
	assert.True(t, hasLimit)

	proj, ok := stages[len(stages)-1]["$project"].(bson.M)
	require.True(t, ok)
	assert.Contains(t, proj, "counterparty")
}

func TestRecurringMerchantsThreshold(t *testing.T) {
	stages, _ := templateForSubQuery("u1", "recurring merchants", testWindow())
	found := false
	for _, s := range stages[1:] {
		if match, ok := stageMatch(s); ok {
			assert.Equal(t, bson.M{"$gte": 2}, match["transaction_count"])
			found = true
		}
	}
	assert.True(t, found, "recurring filter stage missing")
}

func TestSpendingPatternsLookupUsesCollection(t *testing.T) {
	stages, _ := templateForSubQuery("u1", "spending patterns", testWindow())
	serialized, err := json.Marshal(stages)
	require.NoError(t, err)
	assert.Contains(t, string(serialized), datatypes.CollectionTransactions)
	assert.Contains(t, string(serialized), "$dayOfWeek")
}

func TestEmergencyPipelineShape(t *testing.T) {
	stages, desc := emergencyPipeline("u1", testWindow())
	require.Len(t, stages, 3)
	assert.Equal(t, bson.M{"$limit": 100}, stages[1])
	assert.NotEmpty(t, desc)

	match, ok := stageMatch(stages[0])
	require.True(t, ok)
	assert.Equal(t, "u1", match["user_id"])
}
