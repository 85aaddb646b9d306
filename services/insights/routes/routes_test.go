// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Finsight/pkg/cache"
	"github.com/AleutianAI/Finsight/services/insights/datatypes"
	"github.com/AleutianAI/Finsight/services/llm"
)

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// mockAnalyzer is a minimal stand-in for the analyzer.
type mockAnalyzer struct{}

func (m *mockAnalyzer) AnalyzeQuery(_ context.Context, req datatypes.ChatRequest) (*datatypes.ChatResponse, error) {
	return &datatypes.ChatResponse{UserID: req.UserID, Query: req.Query, Response: "mock response"}, nil
}

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	manager, err := llm.NewManager(slog.Default(), false)
	require.NoError(t, err)

	responseCache, err := cache.New(cache.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = responseCache.Close() })

	router := gin.New()
	// Nil store: storage-backed routes stay unregistered, health degrades.
	SetupRoutes(router, &mockAnalyzer{}, nil, nil, manager, responseCache)
	return router
}

func get(router *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestSetupRoutes_CoreRoutes(t *testing.T) {
	router := testRouter(t)

	t.Run("health reports degraded without storage", func(t *testing.T) {
		w := get(router, "/health")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "degraded")
	})

	t.Run("metrics endpoint serves", func(t *testing.T) {
		w := get(router, "/metrics")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("chat route is registered", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/v1/chat", nil)
		router.ServeHTTP(w, req)
		// Registered route rejects the empty body rather than 404ing.
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("cache admin routes are registered", func(t *testing.T) {
		w := get(router, "/v1/cache/stats")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("ai admin routes are registered", func(t *testing.T) {
		w := get(router, "/v1/ai/providers")
		assert.Equal(t, http.StatusOK, w.Code)
		w = get(router, "/v1/ai/priority")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("insights route is not registered without storage", func(t *testing.T) {
		w := get(router, "/v1/insights/user-1")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("unknown route 404s", func(t *testing.T) {
		w := get(router, "/v1/nope")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
