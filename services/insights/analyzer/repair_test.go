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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
)

func firstMatch(t *testing.T, stages []bson.M) bson.M {
	t.Helper()
	require.NotEmpty(t, stages)
	match, ok := stageMatch(stages[0])
	require.True(t, ok, "first stage must be $match")
	return match
}

func TestRepairOverridesWindowUnconditionally(t *testing.T) {
	w := testWindow()
	stages := []bson.M{
		{"$match": bson.M{
			"user_id":          "u1",
			"transaction_date": bson.M{"$gte": "2019-01-01", "$lt": "2019-02-01"},
		}},
	}
	repaired := repairPipeline(stages, "u1", w, nil)
	match := firstMatch(t, repaired)
	assert.Equal(t, bson.M{"$gte": w.Start, "$lt": w.End}, match["transaction_date"])
}

func TestRepairForcesUserID(t *testing.T) {
	w := testWindow()
	stages := []bson.M{
		{"$match": bson.M{"transaction_type": "debit"}},
	}
	repaired := repairPipeline(stages, "u42", w, nil)
	match := firstMatch(t, repaired)
	assert.Equal(t, "u42", match["user_id"])
}

func TestRepairInjectsMatchWhenMissing(t *testing.T) {
	w := testWindow()
	stages := []bson.M{
		{"$group": bson.M{"_id": nil, "total": bson.M{"$sum": "$amount"}}},
	}
	repaired := repairPipeline(stages, "u1", w, nil)
	match := firstMatch(t, repaired)
	assert.Equal(t, "u1", match["user_id"])
	assert.NoError(t, validatePipeline(repaired))
}

func TestRepairSpendIntentForcesDebit(t *testing.T) {
	w := testWindow()
	for _, intentName := range []string{"spending_analysis", "pattern_detection", "comparison"} {
		stages := []bson.M{
			{"$match": bson.M{
				"user_id": "u1",
				"$or":     []any{bson.M{"transaction_type": "debit"}, bson.M{"amount": bson.M{"$lt": 0}}},
			}},
		}
		repaired := repairPipeline(stages, "u1", w, &datatypes.Intent{Intent: intentName})
		match := firstMatch(t, repaired)
		assert.Equal(t, "debit", match["transaction_type"], intentName)
		assert.NotContains(t, match, "$or", intentName)
	}
}

func TestRepairNonSpendIntentKeepsType(t *testing.T) {
	w := testWindow()
	stages := []bson.M{
		{"$match": bson.M{"user_id": "u1", "transaction_type": "credit"}},
	}
	repaired := repairPipeline(stages, "u1", w, &datatypes.Intent{Intent: "income_analysis"})
	match := firstMatch(t, repaired)
	assert.Equal(t, "credit", match["transaction_type"])
}

func TestRepairInjectsDebitAmountStage(t *testing.T) {
	w := testWindow()
	stages := []bson.M{
		{"$match": bson.M{"user_id": "u1"}},
		{"$group": bson.M{"_id": nil, "total": bson.M{"$sum": "$debitAmount"}}},
	}
	repaired := repairPipeline(stages, "u1", w, nil)
	require.Len(t, repaired, 3)

	set, ok := repaired[1]["$set"].(bson.M)
	require.True(t, ok, "second stage must be the injected $set")
	cond, ok := set["debitAmount"].(bson.M)
	require.True(t, ok)
	operands, ok := cond["$cond"].([]any)
	require.True(t, ok)
	assert.Len(t, operands, 3)
}

func TestRepairKeepsExistingDebitAmount(t *testing.T) {
	w := testWindow()
	stages := []bson.M{
		{"$match": bson.M{"user_id": "u1"}},
		{"$set": bson.M{"debitAmount": bson.M{"$abs": "$amount"}}},
	}
	repaired := repairPipeline(stages, "u1", w, nil)
	assert.Len(t, repaired, 2)
}

func TestRepairOnlyFirstMatchTouched(t *testing.T) {
	w := testWindow()
	stages := []bson.M{
		{"$match": bson.M{"user_id": "u1"}},
		{"$match": bson.M{"transaction_count": bson.M{"$gte": 2}}},
	}
	repaired := repairPipeline(stages, "u1", w, nil)
	// Second $match untouched: no window injected.
	last := repaired[len(repaired)-1]
	match, ok := stageMatch(last)
	require.True(t, ok)
	assert.NotContains(t, match, "transaction_date")
}

func TestAutoCorrectSpendingToDebit(t *testing.T) {
	stages := []bson.M{
		{"$match": bson.M{"user_id": "u1", "transaction_type": "credit"}},
	}
	corrected := autoCorrectTransactionType(stages, "What were my total spending amounts last month?")
	match := firstMatch(t, corrected)
	assert.Equal(t, "debit", match["transaction_type"])
}

func TestAutoCorrectIncomeToCredit(t *testing.T) {
	stages := []bson.M{
		{"$match": bson.M{"user_id": "u1", "transaction_type": "debit"}},
	}
	corrected := autoCorrectTransactionType(stages, "Show my total income sources")
	match := firstMatch(t, corrected)
	assert.Equal(t, "credit", match["transaction_type"])
}

func TestAutoCorrectSalaryAddsCategory(t *testing.T) {
	stages := []bson.M{
		{"$match": bson.M{"user_id": "u1", "transaction_type": "debit"}},
	}
	corrected := autoCorrectTransactionType(stages, "What is my monthly salary?")
	match := firstMatch(t, corrected)
	assert.Equal(t, "credit", match["transaction_type"])
	assert.Equal(t, "salary", match["category"])
}

func TestAutoCorrectSkipsMixedCalculations(t *testing.T) {
	for _, q := range []string{
		"What percentage of my income was spent on food?",
		"Compare income vs spending",
		"ratio of spending to income",
	} {
		stages := []bson.M{
			{"$match": bson.M{"user_id": "u1", "transaction_type": "credit"}},
		}
		corrected := autoCorrectTransactionType(stages, q)
		match := firstMatch(t, corrected)
		assert.Equal(t, "credit", match["transaction_type"], q)
	}
}

func TestAutoCorrectNoSignalKeepsDecision(t *testing.T) {
	stages := []bson.M{
		{"$match": bson.M{"user_id": "u1", "transaction_type": "credit"}},
	}
	corrected := autoCorrectTransactionType(stages, "Summarize my transactions")
	match := firstMatch(t, corrected)
	assert.Equal(t, "credit", match["transaction_type"])
}
