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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func validStages() []bson.M {
	return []bson.M{
		{"$match": bson.M{
			"user_id":          "u1",
			"transaction_date": bson.M{"$gte": time.Now().AddDate(0, -1, 0), "$lt": time.Now()},
		}},
		{"$group": bson.M{"_id": nil, "total": bson.M{"$sum": "$amount"}}},
	}
}

func TestValidatePipelineAccepts(t *testing.T) {
	require.NoError(t, validatePipeline(validStages()))
}

func TestValidatePipelineRejectsEmpty(t *testing.T) {
	assert.ErrorIs(t, validatePipeline(nil), errEmptyPipeline)
	assert.ErrorIs(t, validatePipeline([]bson.M{}), errEmptyPipeline)
}

func TestValidatePipelineRejectsForbiddenOperators(t *testing.T) {
	for _, op := range []string{"$where", "$function", "$accumulator", "$out", "$merge"} {
		stages := validStages()
		stages = append(stages, bson.M{op: "anything"})
		err := validatePipeline(stages)
		require.Error(t, err, op)
		assert.Contains(t, err.Error(), "forbidden")
	}
}

func TestValidatePipelineForbiddenIsCaseInsensitive(t *testing.T) {
	stages := validStages()
	stages = append(stages, bson.M{"$set": bson.M{"d": bson.M{"$dateFromString": bson.M{"dateString": "2024-01-01"}}}})
	err := validatePipeline(stages)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forbidden")
}

func TestValidatePipelineRejectsNegativeAmountFilters(t *testing.T) {
	t.Run("plain form in first match", func(t *testing.T) {
		stages := validStages()
		match := stages[0]["$match"].(bson.M)
		match["amount"] = bson.M{"$lt": 0}
		err := validatePipeline(stages)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "negative amounts")
	})

	t.Run("or branch in later match", func(t *testing.T) {
		stages := validStages()
		stages = append(stages, bson.M{"$match": bson.M{
			"$or": []bson.M{
				{"transaction_type": "debit"},
				{"amount": bson.M{"$lt": 0}},
			},
		}})
		err := validatePipeline(stages)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "negative amounts")
	})

	t.Run("expr form", func(t *testing.T) {
		stages := validStages()
		match := stages[0]["$match"].(bson.M)
		match["$expr"] = bson.M{"$lt": []any{"$amount", 0}}
		err := validatePipeline(stages)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "negative amounts")
	})

	t.Run("lte with negative bound", func(t *testing.T) {
		stages := validStages()
		match := stages[0]["$match"].(bson.M)
		match["amount"] = bson.M{"$lte": -1.0}
		require.Error(t, validatePipeline(stages))
	})

	t.Run("positive amount bounds stay legal", func(t *testing.T) {
		stages := validStages()
		match := stages[0]["$match"].(bson.M)
		match["amount"] = bson.M{"$gt": 1000}
		require.NoError(t, validatePipeline(stages))

		stages = validStages()
		match = stages[0]["$match"].(bson.M)
		match["amount"] = bson.M{"$lt": 500}
		require.NoError(t, validatePipeline(stages))
	})
}

func TestValidatePipelineCondArity(t *testing.T) {
	tests := []struct {
		name string
		cond any
		ok   bool
	}{
		{"three operands", []any{bson.M{"$eq": []any{"$t", "debit"}}, "$amount", 0}, true},
		{"two operands", []any{bson.M{"$eq": []any{"$t", "debit"}}, "$amount"}, false},
		{"four operands", []any{"a", "b", "c", "d"}, false},
		{"document form ignored", bson.M{"if": "a", "then": "b", "else": "c"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stages := validStages()
			stages = append(stages, bson.M{"$set": bson.M{"x": bson.M{"$cond": tt.cond}}})
			err := validatePipeline(stages)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "$cond")
			}
		})
	}
}

func TestValidatePipelineNestedCond(t *testing.T) {
	// A malformed $cond nested inside a well-formed one must fail.
	stages := validStages()
	stages = append(stages, bson.M{"$set": bson.M{"x": bson.M{
		"$cond": []any{
			bson.M{"$eq": []any{"$a", 1}},
			bson.M{"$cond": []any{"only", "two"}},
			0,
		},
	}}})
	require.Error(t, validatePipeline(stages))
}

func TestValidatePipelineFirstStageMustBeMatch(t *testing.T) {
	stages := []bson.M{
		{"$group": bson.M{"_id": nil}},
	}
	err := validatePipeline(stages)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "$match")
}

func TestValidatePipelineMatchNeedsUserID(t *testing.T) {
	stages := []bson.M{
		{"$match": bson.M{"transaction_type": "debit"}},
	}
	err := validatePipeline(stages)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_id")
}

func TestValidatePipelineUserIDInExpr(t *testing.T) {
	stages := []bson.M{
		{"$match": bson.M{"$expr": bson.M{"$eq": []any{"$user_id", "u1"}}}},
	}
	assert.NoError(t, validatePipeline(stages))
}

func TestValidatePipelineTemplatesAllPass(t *testing.T) {
	w := testWindow()
	queries := []string{
		"total spending last month",
		"total income breakdown",
		"top categories",
		"average daily spend",
		"compare june vs july",
		"percentage by category",
		"largest transactions",
		"recurring merchants",
		"weekly breakdown",
		"spending patterns",
		"anything else",
	}
	for _, q := range queries {
		stages, _ := templateForSubQuery("u1", q, w)
		assert.NoError(t, validatePipeline(stages), q)
	}

	stages, _ := emergencyPipeline("u1", w)
	assert.NoError(t, validatePipeline(stages))
}
