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

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
)

// Keyword lists for the deterministic query-type classifier. First
// matching family in precedence order wins; precedence runs from the
// most consequential analysis (credit) down to general inquiry.
var (
	creditKeywords = []string{
		"credit card", "loan", "mortgage", "creditworthiness", "borrow",
		"debt", "financial health", "can i afford", "eligib",
		"lend", "lending", "repay", "repayment", "pay back", "emi",
		"interest", "credit assessment", "credit score",
	}
	riskKeywords = []string{
		"risk", "volatility", "emergency", "stress", "overdraft",
		"gambling", "bounce", "penalty", "predictable", "sudden",
		"spike", "broke pattern",
	}
	behavioralKeywords = []string{
		"spending habits", "habit", "behavior", "behaviour", "pattern",
		"usually", "typical", "impulsive", "time of day",
		"anchor merchants", "lifestyle", "milestone",
	}
	trendKeywords = []string{
		"trend", "over time", "growth", "increase", "decrease",
		"progression", "trajectory", "month to month", "year over year",
	}
	comparativeKeywords = []string{
		"compare", " vs ", "versus", "difference", "against",
	}
)

// ClassifyQueryType maps a query to the closed six-type taxonomy.
//
// The function is total: every input yields a type, with
// general_inquiry as the floor. The upstream intent hint can force
// the credit and risk families when the LLM saw something keyword
// scanning misses.
func ClassifyQueryType(query string, intent *datatypes.Intent) datatypes.QueryType {
	queryLower := strings.ToLower(query)

	containsAny := func(keywords []string) bool {
		for _, k := range keywords {
			if strings.Contains(queryLower, k) {
				return true
			}
		}
		return false
	}

	if containsAny(creditKeywords) {
		return datatypes.QueryCreditAssessment
	}
	if intent != nil {
		switch intent.Intent {
		case "creditworthiness", "credit_assessment":
			return datatypes.QueryCreditAssessment
		case "risk_assessment", "risk_analysis", "risk_profiling":
			return datatypes.QueryRiskAnalysis
		}
	}
	if containsAny(riskKeywords) {
		return datatypes.QueryRiskAnalysis
	}
	if containsAny(behavioralKeywords) {
		return datatypes.QueryBehavioralAnalysis
	}
	if containsAny(trendKeywords) {
		return datatypes.QueryTrendAnalysis
	}
	if containsAny(comparativeKeywords) {
		return datatypes.QueryComparative
	}
	return datatypes.QueryGeneralInquiry
}
