// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
	"github.com/AleutianAI/Finsight/services/insights/patterns"
)

type stubLister struct {
	txns []datatypes.Transaction
	err  error
}

func (s *stubLister) RecentTransactions(context.Context, string, int64) ([]datatypes.Transaction, error) {
	return s.txns, s.err
}

type memoryPatternStore struct {
	snap  *patterns.PatternSnapshot
	saves int
}

func (s *memoryPatternStore) LoadPatterns(context.Context, string) (*patterns.PatternSnapshot, error) {
	return s.snap, nil
}

func (s *memoryPatternStore) SavePatterns(_ context.Context, snap *patterns.PatternSnapshot) error {
	s.snap = snap
	s.saves++
	return nil
}

func getInsights(t *testing.T, lister TransactionLister, store patterns.PatternStore, userID string) *httptest.ResponseRecorder {
	t.Helper()
	router := gin.New()
	router.GET("/v1/insights/:user_id", HandleInsights(lister, store))

	w := httptest.NewRecorder()
	req, err := http.NewRequest("GET", "/v1/insights/"+userID, nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)
	return w
}

func TestHandleInsights_Success(t *testing.T) {
	date := time.Date(2025, 7, 15, 10, 0, 0, 0, time.UTC)
	lister := &stubLister{txns: []datatypes.Transaction{
		{UserID: "user-1", TransactionDate: date, Amount: 60000, TransactionType: datatypes.TypeCredit, Counterparty: "Acme Corp Pvt Ltd", Currency: "INR"},
		{UserID: "user-1", TransactionDate: date.AddDate(0, 0, 1), Amount: 450, TransactionType: datatypes.TypeDebit, Counterparty: "Dominos Restaurant", Currency: "INR"},
	}}
	store := &memoryPatternStore{}

	w := getInsights(t, lister, store, "user-1")

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		UserID   string            `json:"user_id"`
		Insights patterns.Insights `json:"insights"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "user-1", body.UserID)
	assert.Equal(t, 2, body.Insights.DataQuality.FinalCount)
	assert.InDelta(t, 450, body.Insights.Spending.TotalSpending, 0.001)
	assert.Equal(t, 1, store.saves, "discovery persists learned patterns")
}

func TestHandleInsights_StoreError(t *testing.T) {
	lister := &stubLister{err: errors.New("server selection timeout")}

	w := getInsights(t, lister, &memoryPatternStore{}, "user-1")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "failed to load transaction history")
}

func TestHandleInsights_NoHistory(t *testing.T) {
	w := getInsights(t, &stubLister{}, &memoryPatternStore{}, "user-1")

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Insights patterns.Insights `json:"insights"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 0, body.Insights.DataQuality.FinalCount)
	assert.False(t, body.Insights.Spending.Analyzed)
}
