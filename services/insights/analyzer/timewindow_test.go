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
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
)

// fakeCounter returns canned counts keyed by probe span in days.
type fakeCounter struct {
	counts map[int]int64
	err    error
	probes []int
}

func (f *fakeCounter) CountInWindow(_ context.Context, _ string, start, end time.Time) (int64, error) {
	days := int(end.Sub(start).Hours() / 24)
	f.probes = append(f.probes, days)
	if f.err != nil {
		return 0, f.err
	}
	return f.counts[days], nil
}

func newTestResolver(t *testing.T, store TransactionCounter) *TimeWindowResolver {
	t.Helper()
	r := NewTimeWindowResolver(store, nil)
	// Fixed reference: 2025-08-15 12:00 IST.
	r.now = func() time.Time {
		return time.Date(2025, time.August, 15, 12, 0, 0, 0, r.loc)
	}
	return r
}

func TestResolveExplicitMonth(t *testing.T) {
	r := newTestResolver(t, nil)
	tests := []struct {
		query string
		label string
	}{
		{"how much did I spend in july 2024", "July 2024"},
		{"spending for 2024 july", "July 2024"},
		{"expenses in 07/2024", "July 2024"},
		{"what about jan 2025", "January 2025"},
	}
	for _, tt := range tests {
		w := r.Resolve(context.Background(), tt.query, "u1", datatypes.QueryGeneralInquiry)
		assert.Equal(t, tt.label, w.Label, tt.query)
		assert.True(t, w.Explicit, tt.query)
	}
}

func TestResolveExplicitMonthIsISTCalendarMonth(t *testing.T) {
	r := newTestResolver(t, nil)
	w := r.Resolve(context.Background(), "spending in July 2024", "u1", datatypes.QueryGeneralInquiry)

	// July 1 00:00 IST is June 30 18:30 UTC.
	require.Equal(t, time.Date(2024, time.June, 30, 18, 30, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.July, w.End.In(r.loc).Month())
	assert.True(t, w.End.After(w.Start))
}

func TestResolveExplicitYear(t *testing.T) {
	r := newTestResolver(t, nil)
	for _, q := range []string{
		"complete year 2024 spending",
		"my expenses during 2024",
		"how did I do in 2024",
	} {
		w := r.Resolve(context.Background(), q, "u1", datatypes.QueryGeneralInquiry)
		assert.Equal(t, "Complete Year 2024", w.Label, q)
		assert.True(t, w.Explicit, q)
		assert.Equal(t, 2024, w.Start.In(r.loc).Year())
	}
}

func TestResolveLastMonth(t *testing.T) {
	r := newTestResolver(t, nil)
	w := r.Resolve(context.Background(), "how much did I spend last month", "u1", datatypes.QueryGeneralInquiry)
	assert.Equal(t, "July 2025", w.Label)
	assert.True(t, w.Explicit)
	assert.Equal(t, time.July, w.Start.In(r.loc).Month())
	assert.Equal(t, time.August, w.End.In(r.loc).Month())
}

func TestResolveRollingPhrases(t *testing.T) {
	r := newTestResolver(t, nil)
	tests := []struct {
		query string
		label string
		days  int
	}{
		{"spending over the past 3 months", "Past 3 Months", 90},
		{"income for the last 6 months", "Past 6 Months", 180},
		{"my annual spending", "Past Year", 365},
	}
	for _, tt := range tests {
		w := r.Resolve(context.Background(), tt.query, "u1", datatypes.QueryGeneralInquiry)
		assert.Equal(t, tt.label, w.Label, tt.query)
		assert.Equal(t, tt.days, w.Days(), tt.query)
	}
}

func TestResolveCreditDefaultsToCalendarYear(t *testing.T) {
	r := newTestResolver(t, nil)
	w := r.Resolve(context.Background(), "can I afford a loan", "u1", datatypes.QueryCreditAssessment)
	assert.Equal(t, "Complete Year 2025 (Credit Assessment)", w.Label)
	assert.False(t, w.Explicit)
}

func TestResolveCreditContextYearOverride(t *testing.T) {
	r := newTestResolver(t, nil)
	w := r.Resolve(context.Background(), "assess my creditworthiness based on 2023", "u1", datatypes.QueryCreditAssessment)
	assert.Equal(t, "Complete Year 2023 (Credit Assessment)", w.Label)

	// Implausible years keep the current year.
	w = r.Resolve(context.Background(), "assess my creditworthiness based on 2090", "u1", datatypes.QueryCreditAssessment)
	assert.Equal(t, "Complete Year 2025 (Credit Assessment)", w.Label)
}

func TestResolveBehavioralDefault(t *testing.T) {
	r := newTestResolver(t, nil)
	w := r.Resolve(context.Background(), "describe my money personality", "u1", datatypes.QueryBehavioralAnalysis)
	assert.Equal(t, "Past 3 Months (Behavioral Pattern Recognition)", w.Label)

	// Anchored three calendar months back from the fixed reference
	// time, with the forward half capped to now.
	nowIST := time.Date(2025, time.August, 15, 12, 0, 0, 0, r.loc)
	assert.Equal(t, nowIST.AddDate(0, -3, 0).UTC(), w.Start)
	assert.Equal(t, nowIST.UTC(), w.End)
	assert.False(t, w.End.After(nowIST.UTC()))
}

func TestAdaptiveWindowPicksFirstWithData(t *testing.T) {
	store := &fakeCounter{counts: map[int]int64{90: 12, 180: 40}}
	r := newTestResolver(t, store)

	w := r.Resolve(context.Background(), "show me my transactions", "u1", datatypes.QueryGeneralInquiry)
	assert.Equal(t, "Last 3 Months", w.Label)
	// 30-day probe ran first and found nothing.
	assert.Equal(t, []int{30, 90}, store.probes)
}

func TestAdaptiveWindowRespectsMinimumDays(t *testing.T) {
	store := &fakeCounter{counts: map[int]int64{30: 5, 90: 10, 180: 20}}
	r := newTestResolver(t, store)

	w := r.Resolve(context.Background(), "give me a summary", "u1", datatypes.QueryTrendAnalysis)
	// Trend analysis never probes below 180 days.
	assert.Equal(t, "Last 6 Months", w.Label)
	assert.Equal(t, []int{180}, store.probes)
}

func TestAdaptiveWindowFallbackOnErrors(t *testing.T) {
	store := &fakeCounter{err: errors.New("mongo down")}
	r := newTestResolver(t, store)

	w := r.Resolve(context.Background(), "summarize my finances", "u1", datatypes.QueryGeneralInquiry)
	assert.Equal(t, "Last 6 Months (fallback)", w.Label)
}

func TestAdaptiveWindowNilStore(t *testing.T) {
	r := newTestResolver(t, nil)
	w := r.Resolve(context.Background(), "summarize my finances", "u1", datatypes.QueryGeneralInquiry)
	assert.Equal(t, "Last 6 Months (fallback)", w.Label)
}

func TestExplicitWindowBeatsTypeDefault(t *testing.T) {
	r := newTestResolver(t, nil)
	// Explicit month wins even for credit assessment.
	w := r.Resolve(context.Background(), "could I get a loan based on july 2025", "u1", datatypes.QueryCreditAssessment)
	assert.Equal(t, "July 2025", w.Label)
	assert.True(t, w.Explicit)
}
