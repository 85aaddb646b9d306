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
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// Operators that must never reach the database. Matched as substrings
// of the lowercased serialized pipeline, so $dateFromString is caught
// in any casing.
var forbiddenOperators = []string{
	"$where", "$function", "$accumulator", "$out", "$merge", "$datefromstring",
}

var errEmptyPipeline = errors.New("pipeline must be a non-empty stage list")

// validatePipeline is the zero-tolerance gate every LLM-generated
// pipeline passes before execution. Template and emergency pipelines
// are constructed to satisfy it; LLM output frequently is not, and a
// validation failure here demotes the sub-query to the template tier.
func validatePipeline(stages []bson.M) error {
	if len(stages) == 0 {
		return errEmptyPipeline
	}

	if errs := condArityErrors(stages); len(errs) > 0 {
		return fmt.Errorf("$cond validation failed: %s", strings.Join(errs, "; "))
	}

	serialized, err := json.Marshal(stages)
	if err == nil {
		lower := strings.ToLower(string(serialized))
		for _, op := range forbiddenOperators {
			if strings.Contains(lower, op) {
				return fmt.Errorf("pipeline contains forbidden operator %s", op)
			}
		}
	}
	// A serialization failure alone does not condemn the pipeline;
	// structural checks below still apply.

	for _, stage := range stages {
		if match, ok := stage["$match"]; ok && filtersNegativeAmount(match) {
			return errors.New("$match must not filter on negative amounts; spending selects transaction_type debit")
		}
	}

	first := stages[0]
	match, ok := first["$match"]
	if !ok {
		return errors.New("first stage must be $match")
	}
	matchObj, ok := match.(bson.M)
	if !ok {
		if m, isMap := match.(map[string]any); isMap {
			matchObj = bson.M(m)
		} else {
			return errors.New("first $match stage is not a document")
		}
	}
	if !containsUserIDFilter(matchObj) {
		return errors.New("first $match must filter on user_id")
	}
	return nil
}

// filtersNegativeAmount reports whether a $match document selects
// rows by a non-positive amount, in either the plain
// {"amount": {"$lt": 0}} form or the $expr {"$lt": ["$amount", 0]}
// form. Amounts are stored positive; sign-based spending filters are
// always wrong.
func filtersNegativeAmount(node any) bool {
	switch v := node.(type) {
	case bson.M:
		for key, value := range v {
			if key == "amount" {
				if doc, ok := asDocument(value); ok {
					for op, operand := range doc {
						if (op == "$lt" || op == "$lte") && isNonPositiveNumber(operand) {
							return true
						}
					}
				}
			}
			if key == "$lt" || key == "$lte" {
				if operands, ok := asArray(value); ok && len(operands) == 2 {
					if field, isStr := operands[0].(string); isStr && field == "$amount" && isNonPositiveNumber(operands[1]) {
						return true
					}
				}
			}
			if filtersNegativeAmount(value) {
				return true
			}
		}
	case map[string]any:
		return filtersNegativeAmount(bson.M(v))
	case bson.A:
		for _, item := range v {
			if filtersNegativeAmount(item) {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if filtersNegativeAmount(item) {
				return true
			}
		}
	case []bson.M:
		for _, item := range v {
			if filtersNegativeAmount(item) {
				return true
			}
		}
	}
	return false
}

func asDocument(value any) (bson.M, bool) {
	switch v := value.(type) {
	case bson.M:
		return v, true
	case map[string]any:
		return bson.M(v), true
	}
	return nil, false
}

func isNonPositiveNumber(value any) bool {
	switch v := value.(type) {
	case int:
		return v <= 0
	case int32:
		return v <= 0
	case int64:
		return v <= 0
	case float32:
		return v <= 0
	case float64:
		return v <= 0
	}
	return false
}

// containsUserIDFilter accepts both the plain {"user_id": ...} form
// and $expr comparisons that reference the field.
func containsUserIDFilter(match bson.M) bool {
	if _, ok := match["user_id"]; ok {
		return true
	}
	serialized, err := json.Marshal(match)
	if err != nil {
		return false
	}
	return strings.Contains(string(serialized), "user_id")
}

// condArityErrors walks the decoded pipeline and checks that every
// array-form $cond carries exactly three operands. The document form
// ({"if": ..., "then": ..., "else": ...}) is structurally safe and is
// left alone.
func condArityErrors(node any) []string {
	var errs []string
	switch v := node.(type) {
	case bson.M:
		for key, value := range v {
			if key == "$cond" {
				if operands, ok := asArray(value); ok {
					if len(operands) != 3 {
						errs = append(errs, fmt.Sprintf("$cond has %d operands, expected exactly 3", len(operands)))
					}
					for _, operand := range operands {
						errs = append(errs, condArityErrors(operand)...)
					}
					continue
				}
			}
			errs = append(errs, condArityErrors(value)...)
		}
	case map[string]any:
		errs = append(errs, condArityErrors(bson.M(v))...)
	case bson.A:
		for _, item := range v {
			errs = append(errs, condArityErrors(item)...)
		}
	case []any:
		for _, item := range v {
			errs = append(errs, condArityErrors(item)...)
		}
	case []bson.M:
		for _, item := range v {
			errs = append(errs, condArityErrors(item)...)
		}
	}
	return errs
}

func asArray(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case bson.A:
		return v, true
	}
	return nil, false
}
