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

import "time"

// Transaction is a single parsed financial transaction as stored in
// the transactions collection. Counterparty is the employer or
// merchant name extracted from the source message.
type Transaction struct {
	ID              string    `json:"id,omitempty" bson:"_id,omitempty"`
	UserID          string    `json:"user_id" bson:"user_id"`
	Amount          float64   `json:"amount" bson:"amount"`
	TransactionType string    `json:"transaction_type" bson:"transaction_type"`
	Category        string    `json:"category,omitempty" bson:"category,omitempty"`
	Counterparty    string    `json:"counterparty,omitempty" bson:"counterparty,omitempty"`
	TransactionDate time.Time `json:"transaction_date" bson:"transaction_date"`
	Currency        string    `json:"currency,omitempty" bson:"currency,omitempty"`
	Description     string    `json:"description,omitempty" bson:"description,omitempty"`
}

// Transaction type values. Anything else is normalized or dropped by
// the data quality pass.
const (
	TypeCredit = "credit"
	TypeDebit  = "debit"
)

// CollectionTransactions is the Mongo collection transactions live
// in. Exported because generated pipelines reference it in $lookup
// stages.
const CollectionTransactions = "user_financial_transactions"
