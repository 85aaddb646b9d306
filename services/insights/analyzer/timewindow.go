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
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
)

// businessTimezone is the timezone all user-facing periods are
// interpreted in. Transactions originate from Indian bank SMS, so
// "June" means June in IST regardless of where the service runs.
const businessTimezone = "Asia/Kolkata"

// monthNumbers maps month names and their common abbreviations.
var monthNumbers = map[string]time.Month{
	"january": time.January, "jan": time.January,
	"february": time.February, "feb": time.February,
	"march": time.March, "mar": time.March,
	"april": time.April, "apr": time.April,
	"may":  time.May,
	"june": time.June, "jun": time.June,
	"july": time.July, "jul": time.July,
	"august": time.August, "aug": time.August,
	"september": time.September, "sep": time.September, "sept": time.September,
	"october": time.October, "oct": time.October,
	"november": time.November, "nov": time.November,
	"december": time.December, "dec": time.December,
}

var (
	monthAlternation = func() string {
		names := make([]string, 0, len(monthNumbers))
		for name := range monthNumbers {
			names = append(names, name)
		}
		return strings.Join(names, "|")
	}()

	// "july 2024", "july-2024"
	monthYearRe = regexp.MustCompile(`\b(` + monthAlternation + `)[\s-]+(\d{4})\b`)
	// "2024 july", "2024-july"
	yearMonthRe = regexp.MustCompile(`\b(\d{4})[\s-]+(` + monthAlternation + `)\b`)
	// "07/2024", "7-2024"
	numericMonthRe = regexp.MustCompile(`\b(\d{1,2})[/-](\d{4})\b`)
	// "complete year 2024", "in 2024", ...
	yearOnlyRes = []*regexp.Regexp{
		regexp.MustCompile(`complete year (\d{4})`),
		regexp.MustCompile(`entire year (\d{4})`),
		regexp.MustCompile(`full year (\d{4})`),
		regexp.MustCompile(`year (\d{4})`),
		regexp.MustCompile(`in (\d{4})`),
		regexp.MustCompile(`during (\d{4})`),
	}
	// bare year used only as context for type-default windows
	contextYearRe = regexp.MustCompile(`\b(20\d{2})\b`)
)

// TransactionCounter is the slice of the store the resolver probes.
type TransactionCounter interface {
	CountInWindow(ctx context.Context, userID string, start, end time.Time) (int64, error)
}

// TimeWindowResolver turns a free-text query into a concrete UTC
// analysis window.
//
// # Description
//
// Resolution runs in three tiers:
//
//  1. Explicit periods named in the query ("July 2024", "last
//     month", "past 6 months", "complete year 2023"). These are
//     authoritative and never widened.
//  2. Query-type defaults: credit assessment gets the full calendar
//     year, behavioral analysis a window anchored three calendar
//     months back and capped at the present.
//  3. Adaptive probing: candidate windows of 30/90/180/365/1825 days
//     are tried oldest-boundary-first until one contains data, with
//     a per-type minimum span so risk and trend analyses never run
//     on a sliver of data. Probe errors count as "no data".
//
// All boundaries are computed in IST and returned as UTC instants.
type TimeWindowResolver struct {
	store  TransactionCounter
	loc    *time.Location
	now    func() time.Time
	logger *slog.Logger
}

// NewTimeWindowResolver builds a resolver. The store may be nil, in
// which case adaptive probing degrades to the 180-day fallback.
func NewTimeWindowResolver(store TransactionCounter, logger *slog.Logger) *TimeWindowResolver {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := time.LoadLocation(businessTimezone)
	if err != nil {
		// IST has no DST, a fixed zone is an exact substitute.
		loc = time.FixedZone("IST", 5*3600+1800)
	}
	return &TimeWindowResolver{
		store:  store,
		loc:    loc,
		now:    time.Now,
		logger: logger,
	}
}

// Resolve picks the analysis window for the query.
func (r *TimeWindowResolver) Resolve(ctx context.Context, query, userID string, queryType datatypes.QueryType) datatypes.TimeWindow {
	queryLower := strings.ToLower(query)
	nowIST := r.now().In(r.loc)

	if w, ok := r.explicitMonth(queryLower); ok {
		r.logger.Info("time window: explicit month", "label", w.Label)
		return w
	}
	if w, ok := r.explicitYear(queryLower); ok {
		r.logger.Info("time window: explicit year", "label", w.Label)
		return w
	}
	if w, ok := r.relativePeriod(queryLower, nowIST); ok {
		r.logger.Info("time window: relative period", "label", w.Label)
		return w
	}

	switch queryType {
	case datatypes.QueryCreditAssessment:
		return r.creditYearWindow(queryLower, nowIST)
	case datatypes.QueryBehavioralAnalysis:
		w := r.behavioralWindow(nowIST)
		r.logger.Info("time window: behavioral default", "label", w.Label)
		return w
	}

	return r.adaptiveWindow(ctx, userID, nowIST, queryType)
}

// explicitMonth matches "July 2024", "2024 July", and "07/2024".
func (r *TimeWindowResolver) explicitMonth(queryLower string) (datatypes.TimeWindow, bool) {
	var year int
	var month time.Month

	if m := monthYearRe.FindStringSubmatch(queryLower); m != nil {
		month = monthNumbers[m[1]]
		year, _ = strconv.Atoi(m[2])
	} else if m := yearMonthRe.FindStringSubmatch(queryLower); m != nil {
		year, _ = strconv.Atoi(m[1])
		month = monthNumbers[m[2]]
	} else if m := numericMonthRe.FindStringSubmatch(queryLower); m != nil {
		n, _ := strconv.Atoi(m[1])
		if n < 1 || n > 12 {
			return datatypes.TimeWindow{}, false
		}
		month = time.Month(n)
		year, _ = strconv.Atoi(m[2])
	} else {
		return datatypes.TimeWindow{}, false
	}

	return r.monthWindow(year, month), true
}

// monthWindow spans the IST calendar month.
func (r *TimeWindowResolver) monthWindow(year int, month time.Month) datatypes.TimeWindow {
	start := time.Date(year, month, 1, 0, 0, 0, 0, r.loc)
	end := start.AddDate(0, 1, 0).Add(-time.Millisecond)
	return datatypes.TimeWindow{
		Start:    start.UTC(),
		End:      end.UTC(),
		Label:    fmt.Sprintf("%s %d", month.String(), year),
		Explicit: true,
	}
}

// explicitYear matches "complete year 2024" and its variants.
func (r *TimeWindowResolver) explicitYear(queryLower string) (datatypes.TimeWindow, bool) {
	for _, re := range yearOnlyRes {
		m := re.FindStringSubmatch(queryLower)
		if m == nil {
			continue
		}
		year, _ := strconv.Atoi(m[1])
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, r.loc)
		end := time.Date(year, time.December, 31, 23, 59, 59, 0, r.loc)
		return datatypes.TimeWindow{
			Start:    start.UTC(),
			End:      end.UTC(),
			Label:    fmt.Sprintf("Complete Year %d", year),
			Explicit: true,
		}, true
	}
	return datatypes.TimeWindow{}, false
}

// relativePeriod matches "last month" and rolling N-month phrasings.
func (r *TimeWindowResolver) relativePeriod(queryLower string, nowIST time.Time) (datatypes.TimeWindow, bool) {
	if strings.Contains(queryLower, "last month") {
		thisMonthStart := time.Date(nowIST.Year(), nowIST.Month(), 1, 0, 0, 0, 0, r.loc)
		lastMonthStart := thisMonthStart.AddDate(0, -1, 0)
		return datatypes.TimeWindow{
			Start:    lastMonthStart.UTC(),
			End:      thisMonthStart.UTC(),
			Label:    fmt.Sprintf("%s %d", lastMonthStart.Month().String(), lastMonthStart.Year()),
			Explicit: true,
		}, true
	}

	type rolling struct {
		phrases []string
		days    int
		label   string
	}
	periods := []rolling{
		{[]string{"past year", "last year", "past 12 months", "last 12 months", "over the year", "yearly", "annual"}, 365, "Past Year"},
		{[]string{"past 6 months", "last 6 months", "six months", "half year"}, 180, "Past 6 Months"},
		{[]string{"past 3 months", "last 3 months", "three months", "quarter"}, 90, "Past 3 Months"},
	}
	for _, p := range periods {
		for _, phrase := range p.phrases {
			if strings.Contains(queryLower, phrase) {
				w := r.rollingWindow(nowIST, p.days, p.label)
				w.Explicit = true
				return w, true
			}
		}
	}
	return datatypes.TimeWindow{}, false
}

// creditYearWindow gives credit assessments the full calendar year.
// A plausible year in the query text overrides the current one.
func (r *TimeWindowResolver) creditYearWindow(queryLower string, nowIST time.Time) datatypes.TimeWindow {
	targetYear := nowIST.Year()
	if m := contextYearRe.FindStringSubmatch(queryLower); m != nil {
		y, _ := strconv.Atoi(m[1])
		if y >= 2020 && y <= nowIST.Year()+5 {
			targetYear = y
		}
	}
	start := time.Date(targetYear, time.January, 1, 0, 0, 0, 0, r.loc)
	end := time.Date(targetYear, time.December, 31, 23, 59, 59, 999000000, r.loc)
	w := datatypes.TimeWindow{
		Start: start.UTC(),
		End:   end.UTC(),
		Label: fmt.Sprintf("Complete Year %d (Credit Assessment)", targetYear),
	}
	r.logger.Info("time window: credit assessment year", "year", targetYear)
	return w
}

// behavioralWindow anchors a six-month span at now: three calendar
// months back and three forward, with the forward half capped to the
// present so the window never asks for data that does not exist yet.
func (r *TimeWindowResolver) behavioralWindow(nowIST time.Time) datatypes.TimeWindow {
	start := nowIST.AddDate(0, -3, 0)
	end := nowIST.AddDate(0, 3, 0)
	if end.After(nowIST) {
		end = nowIST
	}
	return datatypes.TimeWindow{
		Start: start.UTC(),
		End:   end.UTC(),
		Label: "Past 3 Months (Behavioral Pattern Recognition)",
	}
}

// minimumDaysFor keeps analyses that need history from running on a
// window too small to be meaningful.
func minimumDaysFor(queryType datatypes.QueryType) int {
	switch queryType {
	case datatypes.QueryRiskAnalysis, datatypes.QueryCreditAssessment, datatypes.QueryTrendAnalysis:
		return 180
	case datatypes.QueryBehavioralAnalysis:
		return 90
	default:
		return 30
	}
}

// adaptiveWindow probes progressively wider windows until one holds
// data. Store errors are treated as empty windows, never surfaced.
func (r *TimeWindowResolver) adaptiveWindow(ctx context.Context, userID string, nowIST time.Time, queryType datatypes.QueryType) datatypes.TimeWindow {
	minDays := minimumDaysFor(queryType)

	type candidate struct {
		days  int
		label string
	}
	base := []candidate{
		{30, "Last 30 Days"},
		{90, "Last 3 Months"},
		{180, "Last 6 Months"},
		{365, "Past Year"},
		{1825, "All Available Data"},
	}

	end := nowIST.UTC()
	if r.store != nil && userID != "" {
		for _, c := range base {
			if c.days < minDays {
				continue
			}
			start := nowIST.AddDate(0, 0, -c.days).UTC()
			count, err := r.store.CountInWindow(ctx, userID, start, end)
			if err != nil {
				r.logger.Warn("time window probe failed", "days", c.days, "error", err.Error())
				continue
			}
			if count > 0 {
				r.logger.Info("time window: adaptive", "label", c.label, "min_days", minDays)
				return datatypes.TimeWindow{Start: start, End: end, Label: c.label}
			}
		}
	}

	w := r.rollingWindow(nowIST, 180, "Last 6 Months (fallback)")
	r.logger.Warn("time window: using fallback", "label", w.Label)
	return w
}

// rollingWindow spans the trailing N days ending now.
func (r *TimeWindowResolver) rollingWindow(nowIST time.Time, days int, label string) datatypes.TimeWindow {
	return datatypes.TimeWindow{
		Start: nowIST.AddDate(0, 0, -days).UTC(),
		End:   nowIST.UTC(),
		Label: label,
	}
}
