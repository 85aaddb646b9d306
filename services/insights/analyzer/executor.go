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
	"context"
	"math"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/Finsight/pkg/logging"
	"github.com/AleutianAI/Finsight/services/insights/datatypes"
	"github.com/AleutianAI/Finsight/services/insights/observability"
)

// defaultConcurrency bounds parallel aggregations per request.
const defaultConcurrency = 5

// PipelineRunner executes one aggregation pipeline. Satisfied by the
// Mongo-backed store.
type PipelineRunner interface {
	Aggregate(ctx context.Context, stages []bson.M) ([]bson.M, error)
}

// Executor runs compiled pipelines in parallel. A pipeline failure
// yields a failed ExecutionResult; it never aborts the sibling
// pipelines or the request.
type Executor struct {
	runner      PipelineRunner
	concurrency int
	logger      *logging.Logger
}

func NewExecutor(runner PipelineRunner, logger *logging.Logger) *Executor {
	return &Executor{
		runner:      runner,
		concurrency: defaultConcurrency,
		logger:      logger,
	}
}

// Execute runs every pipeline and returns per-pipeline results in the
// input order plus a health summary.
func (e *Executor) Execute(ctx context.Context, pipelines []datatypes.CompiledPipeline) ([]datatypes.ExecutionResult, datatypes.ExecutionSummary) {
	results := make([]datatypes.ExecutionResult, len(pipelines))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, p := range pipelines {
		g.Go(func() error {
			results[i] = e.executeOne(gctx, p)
			return nil
		})
	}
	// Workers never return errors; Wait only orders the writes.
	_ = g.Wait()

	return results, summarize(results)
}

func (e *Executor) executeOne(ctx context.Context, p datatypes.CompiledPipeline) datatypes.ExecutionResult {
	result := datatypes.ExecutionResult{
		SubQuery:    p.SubQuery,
		Source:      p.Source,
		Confidence:  p.Confidence,
		Description: p.Description,
	}
	if len(p.Stages) == 0 {
		result.Error = "empty pipeline"
		result.Confidence = datatypes.ConfidenceLow
		return result
	}

	started := time.Now()
	rows, err := e.runner.Aggregate(ctx, p.Stages)
	result.DurationMS = float64(time.Since(started).Microseconds()) / 1000
	if m := observability.DefaultMetrics; m != nil {
		m.RecordPipeline(string(p.Source), err == nil, result.DurationMS/1000)
	}

	if err != nil {
		e.logger.Error("pipeline execution failed",
			"sub_query", p.SubQuery, "source", string(p.Source), "error", err.Error())
		result.Error = err.Error()
		result.Confidence = datatypes.ConfidenceLow
		return result
	}

	cleaned := cleanResults(rows)
	result.Rows = cleaned
	result.Count = len(cleaned)
	result.Success = true
	result.QualityScore = dataQualityScore(cleaned)
	e.logger.Debug("pipeline executed",
		"sub_query", p.SubQuery, "rows", result.Count, "duration_ms", result.DurationMS)
	return result
}

func summarize(results []datatypes.ExecutionResult) datatypes.ExecutionSummary {
	summary := datatypes.ExecutionSummary{Total: len(results)}
	for _, r := range results {
		if r.Success {
			summary.Succeeded++
		} else {
			summary.Failed++
		}
	}
	if summary.Total > 0 {
		summary.SuccessPct = float64(summary.Succeeded) / float64(summary.Total) * 100
	}
	switch {
	case summary.Total > 0 && summary.SuccessPct > 90:
		summary.Health = "excellent"
	case summary.SuccessPct > 70:
		summary.Health = "good"
	default:
		summary.Health = "degraded"
	}
	return summary
}

// Keys treated as monetary and rounded to two decimals during
// cleaning.
var monetaryKeys = map[string]bool{
	"amount":         true,
	"total":          true,
	"avg":            true,
	"total_spending": true,
	"monthly_total":  true,
	"weekly_total":   true,
	"daily_total":    true,
	"total_amount":   true,
}

// cleanResults normalizes raw aggregation output for JSON transport:
// _id values become strings ("total" for the nil group key), monetary
// fields are rounded, dates become RFC 3339 strings, and nil array
// entries are dropped.
func cleanResults(rows []bson.M) []bson.M {
	cleaned := make([]bson.M, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		out := bson.M{}
		for key, value := range row {
			if key == "_id" {
				out["_id"] = normalizeGroupID(value)
				continue
			}
			out[key] = cleanValue(key, value)
		}
		cleaned = append(cleaned, out)
	}
	return cleaned
}

func normalizeGroupID(value any) string {
	switch v := value.(type) {
	case nil:
		return "total"
	case string:
		return v
	case primitive.ObjectID:
		return v.Hex()
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case primitive.DateTime:
		return v.Time().UTC().Format(time.RFC3339)
	case bson.M, bson.D, map[string]any:
		// Composite group keys flatten to their string form; the
		// grounding layer only needs a stable identifier.
		b, err := bson.MarshalExtJSON(v, false, false)
		if err != nil {
			return "composite"
		}
		return string(b)
	default:
		return stringify(v)
	}
}

func cleanValue(key string, value any) any {
	switch v := value.(type) {
	case float64:
		if monetaryKeys[key] {
			return math.Round(v*100) / 100
		}
		return v
	case float32:
		return cleanValue(key, float64(v))
	case string:
		return strings.TrimSpace(v)
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	case primitive.DateTime:
		return v.Time().UTC().Format(time.RFC3339)
	case bson.A:
		return cleanArray(key, v)
	case []any:
		return cleanArray(key, v)
	case bson.M:
		out := bson.M{}
		for k, item := range v {
			out[k] = cleanValue(k, item)
		}
		return out
	default:
		return v
	}
}

func cleanArray(key string, items []any) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, cleanValue(key, item))
	}
	return out
}

// dataQualityScore scores field completeness across rows: non-empty
// values count fully, zero numerics count half (a zero total is real
// data, just weak signal). Rounded to three decimals.
func dataQualityScore(rows []bson.M) float64 {
	if len(rows) == 0 {
		return 0
	}
	var total, valid float64
	for _, row := range rows {
		for _, value := range row {
			total++
			switch v := value.(type) {
			case nil:
				// empty
			case float64:
				if v != 0 {
					valid++
				} else {
					valid += 0.5
				}
			case int:
				if v != 0 {
					valid++
				} else {
					valid += 0.5
				}
			case int32:
				if v != 0 {
					valid++
				} else {
					valid += 0.5
				}
			case int64:
				if v != 0 {
					valid++
				} else {
					valid += 0.5
				}
			case string:
				if strings.TrimSpace(v) != "" {
					valid++
				}
			case []any:
				if len(v) > 0 {
					valid++
				}
			case bson.A:
				if len(v) > 0 {
					valid++
				}
			default:
				valid++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return math.Round(valid/total*1000) / 1000
}

func stringify(v any) string {
	b, err := bson.MarshalExtJSON(bson.M{"v": v}, false, false)
	if err != nil {
		return "unknown"
	}
	s := string(b)
	s = strings.TrimPrefix(s, `{"v":`)
	s = strings.TrimSuffix(s, "}")
	return strings.Trim(s, `"`)
}
