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
	"fmt"
	"strings"

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
)

// maxPlausibleAmount guards aggregates against corrupted rows. A
// single amount in the billions makes every total meaningless, so
// such rows are dropped, not trusted.
const maxPlausibleAmount = 1e9

// QualityReport describes what the cleaning pass found and changed.
type QualityReport struct {
	InitialCount      int      `json:"initial_transaction_count"`
	FinalCount        int      `json:"final_transaction_count"`
	DuplicatesRemoved int      `json:"duplicates_removed"`
	QualityScore      float64  `json:"data_quality_score"`
	Issues            []string `json:"issues_found"`
	CleaningApplied   bool     `json:"cleaning_applied"`
}

// analyzeQuality deduplicates and normalizes a transaction set before
// pattern analysis. Rows with unusable dates or amounts are dropped
// with a recorded issue rather than silently kept: one corrupted row
// can poison every downstream aggregate.
func analyzeQuality(txns []datatypes.Transaction) ([]datatypes.Transaction, QualityReport) {
	report := QualityReport{InitialCount: len(txns)}
	if len(txns) == 0 {
		report.QualityScore = 100
		return nil, report
	}

	seen := make(map[string]struct{}, len(txns))
	clean := make([]datatypes.Transaction, 0, len(txns))
	dateIssues := 0
	amountIssues := 0

	for _, txn := range txns {
		txn.Counterparty = strings.TrimSpace(txn.Counterparty)
		txn.TransactionType = strings.ToLower(txn.TransactionType)
		switch txn.Currency {
		case "IN0", "IN":
			txn.Currency = "INR"
		}

		if txn.TransactionDate.IsZero() {
			dateIssues++
			continue
		}
		if txn.Amount <= 0 || txn.Amount > maxPlausibleAmount {
			amountIssues++
			continue
		}

		key := fmt.Sprintf("%d|%.2f|%s", txn.TransactionDate.Unix(), txn.Amount, strings.ToLower(txn.Counterparty))
		if _, dup := seen[key]; dup {
			report.DuplicatesRemoved++
			continue
		}
		seen[key] = struct{}{}
		clean = append(clean, txn)
	}

	if report.DuplicatesRemoved > 0 {
		report.Issues = append(report.Issues,
			fmt.Sprintf("Removed %d duplicate transactions", report.DuplicatesRemoved))
	}
	if dateIssues > 0 {
		report.Issues = append(report.Issues,
			fmt.Sprintf("Removed %d transactions with invalid dates", dateIssues))
	}
	if amountIssues > 0 {
		report.Issues = append(report.Issues,
			fmt.Sprintf("Removed %d transactions with invalid amounts", amountIssues))
	}

	removed := report.DuplicatesRemoved + dateIssues + amountIssues
	score := 100 - float64(removed)/float64(report.InitialCount)*100
	if score < 0 {
		score = 0
	}
	report.QualityScore = score
	report.FinalCount = len(clean)
	report.CleaningApplied = len(report.Issues) > 0
	return clean, report
}
