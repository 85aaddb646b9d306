// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the insights
// service: chat request counters and latency, per-tier pipeline
// execution outcomes, LLM call outcomes, and cache hit rates.
//
// All metric operations are thread-safe via Prometheus's internal
// locking. Metrics are exposed on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "finsight"

const insightsSubsystem = "insights"

// InsightsMetrics holds all Prometheus metrics for chat analysis.
// Initialize once at startup via InitMetrics.
type InsightsMetrics struct {
	// RequestsTotal counts chat requests by status.
	// Labels: status (success, error, no_data)
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures end-to-end chat latency.
	RequestDurationSeconds prometheus.Histogram

	// PipelinesTotal counts executed pipelines by compile source and
	// outcome. Labels: source (llm, template, emergency), status
	// (success, error)
	PipelinesTotal *prometheus.CounterVec

	// PipelineDurationSeconds measures individual pipeline execution
	// time. Labels: source
	PipelineDurationSeconds *prometheus.HistogramVec

	// LLMCallsTotal counts model calls by purpose and outcome.
	// Labels: purpose (intent, subqueries, pipeline, response),
	// status (success, error)
	LLMCallsTotal *prometheus.CounterVec

	// CacheEventsTotal counts cache interactions.
	// Labels: prefix (subq, pipe), event (hit, miss, set)
	CacheEventsTotal *prometheus.CounterVec

	// ActiveRequests tracks in-flight chat requests.
	ActiveRequests prometheus.Gauge
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *InsightsMetrics

// InitMetrics creates and registers all metrics on the default
// registry. Call once at startup; a second call panics on duplicate
// registration.
func InitMetrics() *InsightsMetrics {
	DefaultMetrics = &InsightsMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "requests_total",
				Help:      "Total chat analysis requests by status",
			},
			[]string{"status"},
		),

		RequestDurationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "request_duration_seconds",
				Help:      "End-to-end chat request latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),

		PipelinesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "pipelines_total",
				Help:      "Executed aggregation pipelines by compile source and status",
			},
			[]string{"source", "status"},
		),

		PipelineDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "pipeline_duration_seconds",
				Help:      "Individual pipeline execution time in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"source"},
		),

		LLMCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "llm_calls_total",
				Help:      "Model calls by purpose and status",
			},
			[]string{"purpose", "status"},
		),

		CacheEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "cache_events_total",
				Help:      "Cache hits, misses and writes by key prefix",
			},
			[]string{"prefix", "event"},
		),

		ActiveRequests: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: insightsSubsystem,
				Name:      "active_requests",
				Help:      "Currently in-flight chat requests",
			},
		),
	}

	return DefaultMetrics
}

// RecordRequest records a completed chat request.
func (m *InsightsMetrics) RecordRequest(status string, seconds float64) {
	m.RequestsTotal.WithLabelValues(status).Inc()
	m.RequestDurationSeconds.Observe(seconds)
}

// RecordPipeline records one pipeline execution.
func (m *InsightsMetrics) RecordPipeline(source string, success bool, seconds float64) {
	status := "success"
	if !success {
		status = "error"
	}
	m.PipelinesTotal.WithLabelValues(source, status).Inc()
	m.PipelineDurationSeconds.WithLabelValues(source).Observe(seconds)
}

// RecordLLMCall records one model call outcome.
func (m *InsightsMetrics) RecordLLMCall(purpose string, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.LLMCallsTotal.WithLabelValues(purpose, status).Inc()
}

// RecordCacheEvent records a cache hit, miss or set.
func (m *InsightsMetrics) RecordCacheEvent(prefix, event string) {
	m.CacheEventsTotal.WithLabelValues(prefix, event).Inc()
}

// RequestStarted increments the in-flight gauge.
func (m *InsightsMetrics) RequestStarted() {
	m.ActiveRequests.Inc()
}

// RequestEnded decrements the in-flight gauge.
func (m *InsightsMetrics) RequestEnded() {
	m.ActiveRequests.Dec()
}
