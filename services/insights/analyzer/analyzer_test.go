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
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/AleutianAI/Finsight/pkg/cache"
	"github.com/AleutianAI/Finsight/services/insights/datatypes"
	"github.com/AleutianAI/Finsight/services/llm"
)

// fakeStore satisfies Store with canned aggregation rows.
type fakeStore struct {
	rows    []bson.M
	hasUser bool
	count   int64
}

func (f *fakeStore) Aggregate(_ context.Context, _ []bson.M) ([]bson.M, error) {
	return f.rows, nil
}

func (f *fakeStore) CountInWindow(_ context.Context, _ string, _, _ time.Time) (int64, error) {
	return f.count, nil
}

func (f *fakeStore) HasUser(_ context.Context, _ string) (bool, error) {
	return f.hasUser, nil
}

// fakeChat routes on the system prompt so one stub serves all three
// LLM call sites.
type fakeChat struct {
	pipelineJSON  string
	pipelineCalls atomic.Int32
	fail          bool
}

func (f *fakeChat) Chat(_ context.Context, messages []llm.Message, _ llm.GenerationParams) (string, error) {
	if f.fail {
		return "", llm.ErrAllProvidersFailed
	}
	system := messages[0].Content
	switch {
	case strings.Contains(system, "Classify financial queries"):
		return `{"intent": "spending_analysis", "focus_areas": ["food"], "confidence": 0.9}`, nil
	case strings.Contains(system, "Decompose financial questions"):
		return `["Total spending last month", "Top spending categories last month", "Largest individual transactions last month"]`, nil
	case strings.Contains(system, "MongoDB aggregation expert"):
		f.pipelineCalls.Add(1)
		return f.pipelineJSON, nil
	default:
		return "You spent ₹5,000.00 last month, mostly on food.", nil
	}
}

func validPipelineJSON() string {
	return `{
		"match_conditions": {"user_id": "u1"},
		"aggregation_pipeline": [
			{"$match": {"user_id": "u1", "transaction_type": "debit"}},
			{"$group": {"_id": null, "total_spending": {"$sum": {"$abs": "$amount"}}, "transaction_count": {"$sum": 1}}}
		],
		"description": "Total debit spending"
	}`
}

func memCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(cache.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCompileOneUsesLLMTier(t *testing.T) {
	chat := &fakeChat{pipelineJSON: validPipelineJSON()}
	a := New(&fakeStore{hasUser: true}, chat, nil, testLogger())

	p := a.compileOne(context.Background(), "u1", "total spending last month", testWindow(), &datatypes.Intent{Intent: "spending_analysis"})
	assert.Equal(t, datatypes.SourceLLM, p.Source)
	assert.Equal(t, datatypes.ConfidenceHigh, p.Confidence)
	assert.NoError(t, validatePipeline(p.Stages))

	// Repair must have bound the resolved window.
	match, ok := stageMatch(p.Stages[0])
	require.True(t, ok)
	dateFilter, ok := match["transaction_date"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, testWindow().Start, dateFilter["$gte"])
}

func TestCompileOneFallsBackToTemplateOnGarbage(t *testing.T) {
	chat := &fakeChat{pipelineJSON: "I cannot help with that."}
	a := New(&fakeStore{hasUser: true}, chat, nil, testLogger())

	p := a.compileOne(context.Background(), "u1", "total spending last month", testWindow(), nil)
	assert.Equal(t, datatypes.SourceTemplate, p.Source)
	assert.NoError(t, validatePipeline(p.Stages))
}

func TestCompileOneFallsBackOnInvalidPipeline(t *testing.T) {
	// $out is forbidden; validation demotes to the template tier.
	chat := &fakeChat{pipelineJSON: `{
		"aggregation_pipeline": [
			{"$match": {"user_id": "u1"}},
			{"$out": "stolen_data"}
		]
	}`}
	a := New(&fakeStore{hasUser: true}, chat, nil, testLogger())

	p := a.compileOne(context.Background(), "u1", "total spending", testWindow(), nil)
	assert.Equal(t, datatypes.SourceTemplate, p.Source)
}

func TestCompileOneWithoutProvider(t *testing.T) {
	a := New(&fakeStore{hasUser: true}, nil, nil, testLogger())
	p := a.compileOne(context.Background(), "u1", "total spending", testWindow(), nil)
	assert.Equal(t, datatypes.SourceTemplate, p.Source)
	assert.Equal(t, datatypes.ConfidenceHigh, p.Confidence)
}

func TestCompileOneCachesPipelines(t *testing.T) {
	chat := &fakeChat{pipelineJSON: validPipelineJSON()}
	a := New(&fakeStore{hasUser: true}, chat, memCache(t), testLogger())

	intent := &datatypes.Intent{Intent: "spending_analysis"}
	first := a.compileOne(context.Background(), "u1", "total spending last month", testWindow(), intent)
	second := a.compileOne(context.Background(), "u1", "total spending last month", testWindow(), intent)

	assert.Equal(t, int32(1), chat.pipelineCalls.Load(), "second compile must hit the cache")
	assert.Equal(t, first.Source, second.Source)
	assert.NoError(t, validatePipeline(second.Stages))

	// Cached stages must carry real datetimes after repair.
	match, ok := stageMatch(second.Stages[0])
	require.True(t, ok)
	dateFilter, ok := match["transaction_date"].(bson.M)
	require.True(t, ok)
	_, isTime := dateFilter["$gte"].(time.Time)
	assert.True(t, isTime, "cached window bound must be a time.Time")
}

func TestAnalyzeQueryEndToEnd(t *testing.T) {
	store := &fakeStore{
		hasUser: true,
		count:   25,
		rows:    []bson.M{{"_id": nil, "total_spending": 5000.0, "transaction_count": 25}},
	}
	chat := &fakeChat{pipelineJSON: validPipelineJSON()}
	a := New(store, chat, memCache(t), testLogger())

	resp, err := a.AnalyzeQuery(context.Background(), datatypes.ChatRequest{
		UserID: "u1",
		Query:  "How much did I spend last month?",
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", resp.UserID)
	assert.NotEmpty(t, resp.Response)
	assert.Len(t, resp.SubQueries, 3)
	assert.Equal(t, 3, resp.DataPoints)
	require.NotNil(t, resp.GroundingContext)
	assert.Equal(t, 5000.0, resp.GroundingContext.TotalSpending)
	assert.NotEmpty(t, resp.Timestamp)
}

func TestAnalyzeQueryNoData(t *testing.T) {
	a := New(&fakeStore{hasUser: false}, nil, nil, testLogger())
	resp, err := a.AnalyzeQuery(context.Background(), datatypes.ChatRequest{UserID: "ghost", Query: "anything"})
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "don't have any transaction data")
	assert.Empty(t, resp.SubQueries)
	assert.Nil(t, resp.GroundingContext)
}

func TestAnalyzeQueryAllLLMFailuresStillAnswers(t *testing.T) {
	store := &fakeStore{
		hasUser: true,
		count:   10,
		rows:    []bson.M{{"_id": nil, "total_spending": 750.0, "transaction_count": 10}},
	}
	a := New(store, &fakeChat{fail: true}, nil, testLogger())

	resp, err := a.AnalyzeQuery(context.Background(), datatypes.ChatRequest{
		UserID: "u1",
		Query:  "what did I spend in july 2025",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Response)
	assert.NotEmpty(t, resp.SubQueries, "fallback sub-queries must kick in")
	assert.Contains(t, resp.Response, "750.00")
}
