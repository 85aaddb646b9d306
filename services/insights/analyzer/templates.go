// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Template tier of the pipeline compiler. Every template is a
// hand-verified aggregation parameterized only by user, window, and
// timezone, so the template path cannot produce an invalid pipeline.
package analyzer

import (
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
)

// templateForSubQuery routes a sub-query to the best matching
// template by keyword. Routing precedence follows reliability of the
// signal: pattern/trend words first, then income words (so "total
// income" never falls through to the spending templates), then the
// spending family, with the windowed monthly trend as the catch-all.
func templateForSubQuery(userID, subQuery string, w datatypes.TimeWindow) ([]bson.M, string) {
	q := strings.ToLower(subQuery)

	switch {
	case containsAnyPhrase(q, []string{"pattern", "patterns", "trend", "trends", "habit", "habits"}):
		return templateSpendingPatterns(userID, w)
	case containsAnyPhrase(q, []string{"income", "salary", "earned", "credit", "total income"}):
		if containsAnyPhrase(q, []string{"breakdown", "source", "monthly", "trend"}) {
			return templateIncomeBreakdown(userID, w)
		}
		return templateTotalIncome(userID, w)
	case containsAnyPhrase(q, []string{"total spending", "total amount", "how much spent"}):
		return templateTotalSpending(userID, w)
	case containsAnyPhrase(q, []string{"categories", "category breakdown", "top categories", "major expenses"}):
		return templateTopCategories(userID, w)
	case containsAnyPhrase(q, []string{"daily", "per day", "average daily"}):
		return templateAverageDailySpending(userID, w)
	case containsAnyPhrase(q, []string{"comparison", "vs", "versus", "compare"}):
		return templateMonthComparison(userID, w)
	case containsAnyPhrase(q, []string{"percentage", "percent", "breakdown by category"}):
		return templateCategoryPercentages(userID, w)
	case containsAnyPhrase(q, []string{"largest", "biggest", "top transactions", "highest"}):
		return templateLargestTransactions(userID, w)
	case containsAnyPhrase(q, []string{"recurring", "frequent", "regular", "merchants"}):
		return templateRecurringMerchants(userID, w)
	case containsAnyPhrase(q, []string{"weekly", "week by week", "per week"}):
		return templateWeeklyBreakdown(userID, w)
	default:
		return templateMonthlyTrend(userID, w)
	}
}

// emergencyPipeline is the tier-three fallback: a raw capped sample
// of the user's window that cannot fail for structural reasons.
func emergencyPipeline(userID string, w datatypes.TimeWindow) ([]bson.M, string) {
	return []bson.M{
		{"$match": bson.M{
			"user_id":          userID,
			"transaction_date": dateRange(w),
		}},
		{"$limit": 100},
		{"$project": bson.M{
			"_id":              0,
			"amount":           1,
			"transaction_type": 1,
			"category":         1,
			"counterparty":     1,
			"transaction_date": 1,
			"summary":          1,
		}},
	}, "Emergency raw transaction sample"
}

// =============================================================================
// Shared stage builders
// =============================================================================

func dateRange(w datatypes.TimeWindow) bson.M {
	return bson.M{"$gte": w.Start, "$lt": w.End}
}

// spendingMatch matches the user's debits in the window. Spending is
// selected by transaction_type only; amounts are stored positive and
// are never filtered by sign.
func spendingMatch(userID string, w datatypes.TimeWindow) bson.M {
	return bson.M{"$match": bson.M{
		"user_id":          userID,
		"transaction_date": dateRange(w),
		"transaction_type": datatypes.TypeDebit,
	}}
}

func creditMatch(userID string, w datatypes.TimeWindow) bson.M {
	return bson.M{"$match": bson.M{
		"user_id":          userID,
		"transaction_date": dateRange(w),
		"transaction_type": datatypes.TypeCredit,
	}}
}

// debitAmountSet normalizes spending to a positive debitAmount field.
// spendingMatch has already narrowed the rows to debits.
func debitAmountSet() bson.M {
	return bson.M{"$set": bson.M{
		"debitAmount": bson.M{"$abs": "$amount"},
	}}
}

func dateTrunc(unit string) bson.M {
	return bson.M{"$dateTrunc": bson.M{
		"date":     "$transaction_date",
		"unit":     unit,
		"timezone": businessTimezone,
	}}
}

// =============================================================================
// Income templates
// =============================================================================

func templateTotalIncome(userID string, w datatypes.TimeWindow) ([]bson.M, string) {
	return []bson.M{
		creditMatch(userID, w),
		{"$set": bson.M{
			"creditAmount": bson.M{
				"$cond": []any{
					bson.M{"$eq": []any{"$transaction_type", datatypes.TypeCredit}},
					"$amount",
					0,
				},
			},
		}},
		{"$group": bson.M{
			"_id":              nil,
			"totalIncome":      bson.M{"$sum": "$creditAmount"},
			"totalAmount":      bson.M{"$sum": "$amount"},
			"transactionCount": bson.M{"$sum": 1},
			"avgAmount":        bson.M{"$avg": "$amount"},
		}},
		{"$project": bson.M{
			"_id":              0,
			"totalIncome":      1,
			"totalAmount":      1,
			"transactionCount": 1,
			"avgAmount":        bson.M{"$round": []any{"$avgAmount", 2}},
		}},
	}, "Total income from all credit transactions"
}

func templateIncomeBreakdown(userID string, w datatypes.TimeWindow) ([]bson.M, string) {
	return []bson.M{
		creditMatch(userID, w),
		{"$set": bson.M{
			"creditAmount": bson.M{
				"$cond": []any{
					bson.M{"$eq": []any{"$transaction_type", datatypes.TypeCredit}},
					"$amount",
					0,
				},
			},
			"incomeSource": bson.M{
				"$cond": []any{
					bson.M{"$eq": []any{"$category", "salary"}},
					"salary",
					bson.M{"$cond": []any{
						bson.M{"$in": []any{"$category", []any{"investment", "dividend", "interest"}}},
						"investment",
						"other",
					}},
				},
			},
		}},
		{"$group": bson.M{
			"_id":              "$incomeSource",
			"totalAmount":      bson.M{"$sum": "$creditAmount"},
			"amount":           bson.M{"$sum": "$amount"},
			"transactionCount": bson.M{"$sum": 1},
			"avgAmount":        bson.M{"$avg": "$amount"},
		}},
		{"$sort": bson.M{"totalAmount": -1}},
		{"$project": bson.M{
			"_id":              1,
			"source":           "$_id",
			"totalAmount":      1,
			"amount":           1,
			"transactionCount": 1,
			"avgAmount":        bson.M{"$round": []any{"$avgAmount", 2}},
		}},
	}, "Income breakdown by source (salary, investment, other)"
}

// =============================================================================
// Spending templates
// =============================================================================

func templateTotalSpending(userID string, w datatypes.TimeWindow) ([]bson.M, string) {
	return []bson.M{
		spendingMatch(userID, w),
		debitAmountSet(),
		{"$group": bson.M{
			"_id":               nil,
			"total_spending":    bson.M{"$sum": "$debitAmount"},
			"transaction_count": bson.M{"$sum": 1},
			"avg_amount":        bson.M{"$avg": "$debitAmount"},
		}},
		{"$project": bson.M{"_id": 0}},
	}, fmt.Sprintf("Total spending analysis for %s", userID)
}

func templateTopCategories(userID string, w datatypes.TimeWindow) ([]bson.M, string) {
	return []bson.M{
		spendingMatch(userID, w),
		debitAmountSet(),
		{"$group": bson.M{
			"_id":               "$category",
			"total_amount":      bson.M{"$sum": "$debitAmount"},
			"transaction_count": bson.M{"$sum": 1},
			"avg_amount":        bson.M{"$avg": "$debitAmount"},
		}},
		{"$sort": bson.M{"total_amount": -1}},
		{"$limit": 5},
	}, fmt.Sprintf("Top 5 spending categories for %s", userID)
}

func templateAverageDailySpending(userID string, w datatypes.TimeWindow) ([]bson.M, string) {
	return []bson.M{
		spendingMatch(userID, w),
		debitAmountSet(),
		{"$set": bson.M{"day": dateTrunc("day")}},
		{"$group": bson.M{
			"_id":         "$day",
			"daily_total": bson.M{"$sum": "$debitAmount"},
		}},
		{"$group": bson.M{
			"_id":       nil,
			"daily_avg": bson.M{"$avg": "$daily_total"},
			"days":      bson.M{"$sum": 1},
		}},
		{"$project": bson.M{"_id": 0}},
	}, fmt.Sprintf("Average daily spending for %s", userID)
}

// templateMonthComparison buckets whatever months intersect the
// window; the response layer reads the month array rather than
// assuming any particular pair.
func templateMonthComparison(userID string, w datatypes.TimeWindow) ([]bson.M, string) {
	return []bson.M{
		{"$match": bson.M{
			"user_id":          userID,
			"transaction_date": dateRange(w),
			"transaction_type": datatypes.TypeDebit,
		}},
		{"$set": bson.M{
			"debitAmount": bson.M{"$abs": "$amount"},
			"month_ist":   dateTrunc("month"),
		}},
		{"$group": bson.M{
			"_id":   "$month_ist",
			"total": bson.M{"$sum": "$debitAmount"},
			"txn":   bson.M{"$sum": 1},
		}},
		{"$sort": bson.M{"_id": 1}},
		{"$group": bson.M{
			"_id": nil,
			"months": bson.M{"$push": bson.M{
				"month": "$_id",
				"total": "$total",
				"txn":   "$txn",
			}},
		}},
		{"$project": bson.M{
			"_id":    0,
			"months": 1,
			"comparison_summary": bson.M{
				"$cond": []any{
					bson.M{"$gt": []any{bson.M{"$size": "$months"}, 1}},
					"Multi-month comparison available",
					"Single month data",
				},
			},
		}},
	}, fmt.Sprintf("Dynamic month comparison in %s for %s", businessTimezone, userID)
}

func templateCategoryPercentages(userID string, w datatypes.TimeWindow) ([]bson.M, string) {
	return []bson.M{
		spendingMatch(userID, w),
		debitAmountSet(),
		{"$facet": bson.M{
			"byCategory": []bson.M{
				{"$group": bson.M{"_id": "$category", "cat_total": bson.M{"$sum": "$debitAmount"}}},
				{"$sort": bson.M{"cat_total": -1}},
			},
			"overall": []bson.M{
				{"$group": bson.M{"_id": nil, "overall_total": bson.M{"$sum": "$debitAmount"}}},
			},
		}},
		{"$unwind": "$overall"},
		{"$project": bson.M{
			"items": bson.M{
				"$map": bson.M{
					"input": "$byCategory",
					"as":    "c",
					"in": bson.M{
						"category": "$$c._id",
						"amount":   "$$c.cat_total",
						"percentage": bson.M{
							"$cond": []any{
								bson.M{"$gt": []any{"$overall.overall_total", 0}},
								bson.M{"$multiply": []any{
									bson.M{"$divide": []any{"$$c.cat_total", "$overall.overall_total"}},
									100,
								}},
								0,
							},
						},
					},
				},
			},
		}},
		{"$unwind": "$items"},
		{"$replaceRoot": bson.M{"newRoot": "$items"}},
	}, fmt.Sprintf("Category spending percentages for %s", userID)
}

func templateLargestTransactions(userID string, w datatypes.TimeWindow) ([]bson.M, string) {
	return []bson.M{
		spendingMatch(userID, w),
		debitAmountSet(),
		{"$sort": bson.M{"debitAmount": -1}},
		{"$limit": 10},
		{"$project": bson.M{
			"_id":              0,
			"amount":           "$debitAmount",
			"counterparty":     1,
			"category":         1,
			"transaction_date": 1,
			"summary":          1,
		}},
	}, fmt.Sprintf("Top 10 largest transactions for %s", userID)
}

func templateRecurringMerchants(userID string, w datatypes.TimeWindow) ([]bson.M, string) {
	return []bson.M{
		spendingMatch(userID, w),
		debitAmountSet(),
		{"$group": bson.M{
			"_id":               "$counterparty",
			"total_amount":      bson.M{"$sum": "$debitAmount"},
			"transaction_count": bson.M{"$sum": 1},
			"avg_amount":        bson.M{"$avg": "$debitAmount"},
			"transactions": bson.M{"$push": bson.M{
				"amount":   "$debitAmount",
				"date":     "$transaction_date",
				"category": "$category",
			}},
		}},
		{"$match": bson.M{"transaction_count": bson.M{"$gte": 2}}},
		{"$sort": bson.M{"total_amount": -1}},
		{"$limit": 15},
	}, fmt.Sprintf("Recurring merchants analysis for %s", userID)
}

func templateWeeklyBreakdown(userID string, w datatypes.TimeWindow) ([]bson.M, string) {
	return []bson.M{
		spendingMatch(userID, w),
		debitAmountSet(),
		{"$set": bson.M{"week": dateTrunc("week")}},
		{"$group": bson.M{
			"_id":               "$week",
			"weekly_total":      bson.M{"$sum": "$debitAmount"},
			"transaction_count": bson.M{"$sum": 1},
			"avg_transaction":   bson.M{"$avg": "$debitAmount"},
		}},
		{"$sort": bson.M{"_id": 1}},
		{"$project": bson.M{
			"_id":               0,
			"week_start":        "$_id",
			"total_spending":    "$weekly_total",
			"transaction_count": 1,
			"avg_transaction":   bson.M{"$round": []any{"$avg_transaction", 2}},
		}},
	}, fmt.Sprintf("Weekly spending breakdown for %s", userID)
}

// templateSpendingPatterns produces daily totals with summary stats
// plus an IST weekday split computed via a self $lookup (1=Sun ...
// 7=Sat per $dayOfWeek).
func templateSpendingPatterns(userID string, w datatypes.TimeWindow) ([]bson.M, string) {
	return []bson.M{
		{"$match": bson.M{
			"user_id":          userID,
			"transaction_date": dateRange(w),
			"transaction_type": datatypes.TypeDebit,
		}},
		{"$set": bson.M{
			"debitAmount": bson.M{"$abs": "$amount"},
			"day_ist":     dateTrunc("day"),
			"weekday_ist": bson.M{"$dayOfWeek": bson.M{
				"date":     "$transaction_date",
				"timezone": businessTimezone,
			}},
		}},
		{"$group": bson.M{
			"_id":         "$day_ist",
			"daily_total": bson.M{"$sum": "$debitAmount"},
			"txn_count":   bson.M{"$sum": 1},
		}},
		{"$sort": bson.M{"_id": 1}},
		{"$group": bson.M{
			"_id": nil,
			"daily": bson.M{"$push": bson.M{
				"day":       "$_id",
				"total":     "$daily_total",
				"txn_count": "$txn_count",
			}},
			"avg_daily": bson.M{"$avg": "$daily_total"},
			"max_daily": bson.M{"$max": "$daily_total"},
			"min_daily": bson.M{"$min": "$daily_total"},
		}},
		{"$set": bson.M{"avg_daily": bson.M{"$round": []any{"$avg_daily", 2}}}},
		{"$lookup": bson.M{
			"from": datatypes.CollectionTransactions,
			"let":  bson.M{"start": w.Start, "end": w.End, "uid": userID},
			"pipeline": []bson.M{
				{"$match": bson.M{
					"$expr": bson.M{"$and": []bson.M{
						{"$eq": []any{"$user_id", "$$uid"}},
						{"$eq": []any{"$transaction_type", datatypes.TypeDebit}},
						{"$gte": []any{"$transaction_date", "$$start"}},
						{"$lt": []any{"$transaction_date", "$$end"}},
					}},
				}},
				{"$set": bson.M{
					"weekday_ist": bson.M{"$dayOfWeek": bson.M{
						"date":     "$transaction_date",
						"timezone": businessTimezone,
					}},
					"debitAmount": bson.M{"$abs": "$amount"},
				}},
				{"$group": bson.M{
					"_id":           "$weekday_ist",
					"weekday_total": bson.M{"$sum": "$debitAmount"},
					"weekday_txn":   bson.M{"$sum": 1},
				}},
				{"$sort": bson.M{"_id": 1}},
			},
			"as": "weekday_breakdown",
		}},
		{"$project": bson.M{
			"_id":               0,
			"daily":             1,
			"avg_daily":         1,
			"max_daily":         1,
			"min_daily":         1,
			"weekday_breakdown": 1,
		}},
	}, fmt.Sprintf("Daily and weekday spending patterns for %s", userID)
}

func templateMonthlyTrend(userID string, w datatypes.TimeWindow) ([]bson.M, string) {
	return []bson.M{
		{"$match": bson.M{
			"user_id":          userID,
			"transaction_date": dateRange(w),
			"transaction_type": datatypes.TypeDebit,
		}},
		{"$set": bson.M{
			"debitAmount": bson.M{"$abs": "$amount"},
			"month":       dateTrunc("month"),
		}},
		{"$group": bson.M{
			"_id":               "$month",
			"monthly_total":     bson.M{"$sum": "$debitAmount"},
			"transaction_count": bson.M{"$sum": 1},
			"avg_transaction":   bson.M{"$avg": "$debitAmount"},
		}},
		{"$sort": bson.M{"_id": 1}},
		{"$project": bson.M{
			"_id": 0,
			"month": bson.M{"$dateToString": bson.M{
				"date":     "$_id",
				"format":   "%Y-%m",
				"timezone": businessTimezone,
			}},
			"total_spending":    "$monthly_total",
			"transaction_count": 1,
			"avg_transaction":   bson.M{"$round": []any{"$avg_transaction", 2}},
		}},
	}, fmt.Sprintf("Spending trend over requested window for %s", userID)
}
