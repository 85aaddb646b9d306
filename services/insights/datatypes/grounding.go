// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// GroundingContext is the deduplicated numeric summary extracted from
// execution results. It is the only source of figures the response
// generator may quote, and it is returned verbatim in the API
// response so clients can verify the numbers.
type GroundingContext struct {
	TotalIncome      float64        `json:"total_income"`
	TotalSpending    float64        `json:"total_spending"`
	TransactionCount int            `json:"transaction_count"`
	TopCategories    []NamedAmount  `json:"top_categories,omitempty"`
	TopMerchants     []NamedAmount  `json:"top_merchants,omitempty"`
	TimePeriod       string         `json:"time_period"`
	ConsistencyScore float64        `json:"consistency_score"`
	ExecutionHealth  string         `json:"execution_health,omitempty"`
	Extras           map[string]any `json:"extras,omitempty"`
}

// NamedAmount is a labeled monetary bucket (category or counterparty).
type NamedAmount struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
	Count  int     `json:"count,omitempty"`
}
