// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the insights service.
//
// This file contains the request and response types for the chat
// endpoint. Analysis-internal types (pipelines, windows, grounding)
// live in their own files in this package.
package datatypes

// ChatRequest is the payload for POST /v1/chat.
//
// UserID and Query are required; Context carries optional free-text
// conversation context the caller wants factored into the analysis.
type ChatRequest struct {
	UserID  string `json:"user_id" binding:"required"`
	Query   string `json:"query" binding:"required"`
	Context string `json:"context,omitempty"`
}

// ChatResponse is the full analysis result returned to the caller.
//
// Response is the natural-language answer. SubQueries and
// GroundingContext expose the intermediate analysis so clients can
// render supporting detail. ProcessingTime is wall-clock seconds.
type ChatResponse struct {
	UserID           string            `json:"user_id"`
	Query            string            `json:"query"`
	Response         string            `json:"response"`
	SubQueries       []string          `json:"sub_queries"`
	DataPoints       int               `json:"data_points"`
	ProcessingTime   float64           `json:"processing_time"`
	Timestamp        string            `json:"timestamp"`
	GroundingContext *GroundingContext `json:"grounding_context,omitempty"`
}

// HealthResponse reports service and dependency status.
type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Mongo     string            `json:"mongo"`
	Providers map[string]bool   `json:"providers"`
	Details   map[string]string `json:"details,omitempty"`
}
