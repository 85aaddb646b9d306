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
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
)

// Intents for which spending semantics are enforced on the first
// $match: transaction_type is forced to "debit" and any amount<0 $or
// branch the model invented is stripped.
var spendIntents = map[string]bool{
	"spending_analysis": true,
	"pattern_detection": true,
	"comparison":        true,
}

// Phrase lists for transaction-type auto-correction. Matching runs on
// the lowercased sub-query; spending phrases win over income phrases
// so "percentage of income was spent" corrects to debit.
var (
	spendingPhrases = []string{
		"spent", "spending", "expense", "expenses", "cost", "costs",
		"major expenses", "total spending", "spending amounts",
		"percentage of income was spent", "percentage of my total income was spent",
		"how much spent", "spending breakdown", "expense categories",
		"total expenses", "total spending amounts",
	}
	incomePhrases = []string{
		"total income", "salary income", "total salary", "earned",
		"income sources", "income amounts", "salary amounts",
		"income breakdown", "salary breakdown",
	}
	// Multi-type calculations the model must resolve itself; forcing
	// a single transaction_type would break the arithmetic.
	mixedTypePhrases = []string{
		"percentage of", "ratio of", "compare", "vs", "versus",
		"proportion of", "fraction of",
	}
)

// repairPipeline rewrites an LLM pipeline in place to guarantee the
// invariants validation will later check:
//
//   - the first stage is a $match scoped to the user and the resolved
//     time window (the window is overwritten unconditionally; models
//     routinely hallucinate dates)
//   - spending-like intents match debit transactions only
//   - a debitAmount $set stage exists after the first $match
//
// The caller's user ID wins over whatever the model emitted.
func repairPipeline(stages []bson.M, userID string, window datatypes.TimeWindow, intent *datatypes.Intent) []bson.M {
	spendIntent := intent != nil && spendIntents[intent.Intent]

	repaired := make([]bson.M, 0, len(stages)+2)
	seenMatch := false
	hasDebitAmount := false

	for _, stage := range stages {
		if stage == nil {
			continue
		}

		if match, ok := stageMatch(stage); ok && !seenMatch {
			seenMatch = true
			if _, hasUser := match["user_id"]; !hasUser || userID != "" {
				match["user_id"] = userIDFilter(userID)
			}
			match["transaction_date"] = bson.M{"$gte": window.Start, "$lt": window.End}
			if spendIntent {
				match["transaction_type"] = "debit"
				delete(match, "$or")
			}
			stage = bson.M{"$match": match}
		}

		if set, ok := stage["$set"].(bson.M); ok {
			if _, ok := set["debitAmount"]; ok {
				hasDebitAmount = true
			}
		}
		repaired = append(repaired, stage)
	}

	if len(repaired) == 0 || !isMatchStage(repaired[0]) {
		forced := bson.M{
			"user_id":          userIDFilter(userID),
			"transaction_date": bson.M{"$gte": window.Start, "$lt": window.End},
		}
		if spendIntent {
			forced["transaction_type"] = "debit"
		}
		repaired = append([]bson.M{{"$match": forced}}, repaired...)
	}

	if !hasDebitAmount {
		debitStage := bson.M{
			"$set": bson.M{
				"debitAmount": bson.M{
					"$cond": []any{
						bson.M{"$eq": []any{"$transaction_type", "debit"}},
						bson.M{"$abs": "$amount"},
						0,
					},
				},
			},
		}
		if isMatchStage(repaired[0]) {
			rest := append([]bson.M{debitStage}, repaired[1:]...)
			repaired = append(repaired[:1:1], rest...)
		} else {
			repaired = append([]bson.M{debitStage}, repaired...)
		}
	}

	return repaired
}

// autoCorrectTransactionType fixes the model's most common mistake:
// matching credits for a spending question or debits for an income
// question. Correction is skipped for mixed-type calculations and
// whenever the sub-query gives no clear signal; only the first $match
// is touched. Salary questions additionally pin category to "salary".
func autoCorrectTransactionType(stages []bson.M, subQuery string) []bson.M {
	if len(stages) == 0 {
		return stages
	}
	q := strings.ToLower(subQuery)

	if containsAnyPhrase(q, mixedTypePhrases) {
		return stages
	}

	var want string
	salaryQuery := false
	switch {
	case containsAnyPhrase(q, spendingPhrases):
		want = "debit"
	case containsAnyPhrase(q, incomePhrases):
		want = "credit"
		salaryQuery = strings.Contains(q, "salary")
	case strings.Contains(q, "salary") && !containsAnyPhrase(q, []string{"spent", "spending", "expense", "cost"}):
		want = "credit"
		salaryQuery = true
	default:
		return stages
	}

	for _, stage := range stages {
		match, ok := stageMatch(stage)
		if !ok {
			continue
		}
		if current, _ := match["transaction_type"].(string); current != want {
			match["transaction_type"] = want
			if salaryQuery && want == "credit" {
				match["category"] = "salary"
			}
			stage["$match"] = match
		}
		break
	}
	return stages
}

func userIDFilter(userID string) any {
	if userID == "" {
		return bson.M{"$exists": true}
	}
	return userID
}

func isMatchStage(stage bson.M) bool {
	_, ok := stage["$match"]
	return ok
}

// stageMatch returns the $match document of a stage, normalizing the
// map type JSON decoding may have produced.
func stageMatch(stage bson.M) (bson.M, bool) {
	raw, ok := stage["$match"]
	if !ok {
		return nil, false
	}
	switch m := raw.(type) {
	case bson.M:
		return m, true
	case map[string]any:
		return bson.M(m), true
	}
	return nil, false
}

func containsAnyPhrase(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
