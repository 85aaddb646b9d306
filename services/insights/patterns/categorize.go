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

import "strings"

// Spending categories produced by the multi-signal categorizer.
const (
	categoryDigitalPayments   = "Digital Payments"
	categoryFoodDining        = "Food & Dining"
	categoryShopping          = "Shopping"
	categoryUtilities         = "Utilities"
	categoryMajorExpenses     = "Major Expenses"
	categoryBusinessServices  = "Business Services"
	categoryFinancialServices = "Financial Services"
	categoryTransportation    = "Transportation"
	categoryDigitalServices   = "Digital Services"
	categoryRecurring         = "Recurring Services"
	categoryMajorPurchases    = "Major Purchases"
	categoryRegularSpending   = "Regular Spending"
)

// categorizer combines amount-band, token-semantic and frequency
// signals, with the learner consulted first: a learned category above
// the override confidence beats every heuristic.
type categorizer struct {
	learner *Learner
}

func (c *categorizer) categorize(merchant string, amount float64) string {
	key := merchantKey(merchant)

	if c.learner != nil {
		if learned, confidence := c.learner.LearnedCategory(key, amount); confidence > learnedOverrideConfidence {
			c.learner.Learn(key, amount, learned, "")
			return learned
		}
	}

	category := combineSignals(
		amountBandCategory(amount),
		semanticCategory(key),
		frequencyCategory(amount),
		amount,
	)
	if c.learner != nil {
		c.learner.Learn(key, amount, category, "")
	}
	return category
}

func amountBandCategory(amount float64) string {
	switch {
	case amount < 50:
		return categoryDigitalPayments
	case amount < 500:
		return categoryFoodDining
	case amount < 2000:
		return categoryShopping
	case amount < 10000:
		return categoryUtilities
	default:
		return categoryMajorExpenses
	}
}

var semanticTokenCategories = []struct {
	tokens   []string
	category string
}{
	{[]string{"foods", "restaurant", "cafe", "kitchen", "food"}, categoryFoodDining},
	{[]string{"bank", "atm", "mutual", "fund", "securities", "trading"}, categoryFinancialServices},
	{[]string{"bus", "metro", "taxi", "transport", "travel"}, categoryTransportation},
	{[]string{"digital", "online", "app", "tech", "soft"}, categoryDigitalServices},
}

func semanticCategory(merchant string) string {
	tokens := strings.Fields(merchant)

	for _, tok := range tokens {
		if len(tok) > 8 {
			for _, suffix := range []string{"technologies", "pvt", "ltd", "limited"} {
				if strings.HasSuffix(tok, suffix) {
					return categoryBusinessServices
				}
			}
		}
	}

	for _, group := range semanticTokenCategories {
		for _, tok := range tokens {
			for _, match := range group.tokens {
				if tok == match {
					return group.category
				}
			}
		}
	}

	if len(merchant) > 15 {
		return categoryBusinessServices
	}
	return categoryOthers
}

func frequencyCategory(amount float64) string {
	switch {
	case amount >= 50 && amount <= 1000:
		return categoryRecurring
	case amount > 5000:
		return categoryMajorPurchases
	default:
		return categoryRegularSpending
	}
}

// combineSignals prefers a specific semantic match, trusts amount
// bands for large amounts, frequency bands for tiny ones, and
// otherwise takes the first specific signal.
func combineSignals(amountCat, semanticCat, frequencyCat string, amount float64) string {
	if semanticCat != categoryOthers && semanticCat != categoryBusinessServices {
		return semanticCat
	}
	if amount > 10000 {
		return amountCat
	}
	if amount < 100 {
		if frequencyCat != categoryRegularSpending {
			return frequencyCat
		}
		return amountCat
	}
	for _, signal := range []string{amountCat, semanticCat, frequencyCat} {
		if signal != categoryOthers && signal != categoryRegularSpending && signal != categoryBusinessServices {
			return signal
		}
	}
	return categoryOthers
}
