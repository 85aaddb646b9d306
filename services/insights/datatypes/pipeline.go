// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Aggregation pipeline types shared by the compiler, validator, and
// executor. Stages are kept as bson.M so LLM-generated JSON, template
// literals, and the Mongo driver all speak the same representation.
package datatypes

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// =============================================================================
// Query Taxonomy
// =============================================================================

// QueryType is the closed classification taxonomy for user queries.
// Classification is total: every query maps to exactly one of these.
type QueryType string

const (
	QueryCreditAssessment   QueryType = "credit_assessment"
	QueryRiskAnalysis       QueryType = "risk_analysis"
	QueryBehavioralAnalysis QueryType = "behavioral_analysis"
	QueryTrendAnalysis      QueryType = "trend_analysis"
	QueryComparative        QueryType = "comparative_analysis"
	QueryGeneralInquiry     QueryType = "general_inquiry"
)

// Intent is the upstream LLM intent classification of the raw query.
// It is a hint for the deterministic QueryType classifier and drives
// sub-query fallback selection; FocusAreas are free-form.
type Intent struct {
	Intent     string   `json:"intent"`
	FocusAreas []string `json:"focus_areas,omitempty"`
	Confidence float64  `json:"confidence,omitempty"`
}

// =============================================================================
// Time Windows
// =============================================================================

// TimeWindow is a resolved analysis period.
//
// Start and End are UTC instants; resolution happens in the business
// timezone (Asia/Kolkata) and the boundaries are converted. Explicit
// marks a window parsed from the query text, which is authoritative
// and never widened by adaptive probing.
type TimeWindow struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Label    string    `json:"label"`
	Explicit bool      `json:"explicit"`
}

// Days returns the window span in whole days, rounded up.
func (w TimeWindow) Days() int {
	d := w.End.Sub(w.Start)
	days := int(d.Hours() / 24)
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}

// =============================================================================
// Compiled Pipelines
// =============================================================================

// PipelineSource identifies which compilation tier produced a pipeline.
type PipelineSource string

const (
	SourceLLM       PipelineSource = "llm"
	SourceTemplate  PipelineSource = "template"
	SourceEmergency PipelineSource = "emergency"
)

// Confidence level attached to a compiled pipeline, by tier.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// CompiledPipeline is an executable aggregation pipeline for one
// sub-query, tagged with its provenance.
type CompiledPipeline struct {
	SubQuery    string         `json:"sub_query"`
	Stages      []bson.M       `json:"aggregation_pipeline"`
	Source      PipelineSource `json:"source"`
	Confidence  string         `json:"confidence"`
	Description string         `json:"description,omitempty"`
}

// ExecutionResult is one pipeline's outcome after execution and
// result cleaning. A failed pipeline still yields a result with
// Success=false and Error set; failures never propagate to siblings.
type ExecutionResult struct {
	SubQuery     string         `json:"sub_query"`
	Rows         []bson.M       `json:"results"`
	Count        int            `json:"count"`
	Success      bool           `json:"execution_success"`
	Error        string         `json:"error,omitempty"`
	Source       PipelineSource `json:"source"`
	Confidence   string         `json:"confidence"`
	Description  string         `json:"description,omitempty"`
	DurationMS   float64        `json:"duration_ms"`
	QualityScore float64        `json:"data_quality_score"`
}

// ExecutionSummary aggregates per-pipeline outcomes for one request.
// Health is "excellent" (>=90% success), "good" (>=70%), or
// "degraded".
type ExecutionSummary struct {
	Total      int     `json:"total"`
	Succeeded  int     `json:"succeeded"`
	Failed     int     `json:"failed"`
	SuccessPct float64 `json:"success_pct"`
	Health     string  `json:"health"`
}
