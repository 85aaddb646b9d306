// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package patterns

import (
	"math"
	"sort"
	"strings"

	"github.com/AleutianAI/Finsight/services/insights/datatypes"
)

// Salary scoring is additive over independent signals and relative to
// the user's OWN income distribution: thresholds are percentiles of
// their credits, never fixed currency amounts, so the engine works the
// same for a student and an executive.
const (
	salaryMinIndicators  = 3
	salaryIndicatorScale = 8.0
)

var businessSuffixes = []string{
	"technologies", "pvt", "ltd", "limited", "corp", "inc", "company",
}

var professionalWords = []string{"services", "solutions", "systems"}

var institutionWords = []string{"government", "ministry", "department", "authority"}

// investmentPlatforms are never salary sources no matter how regular
// or large the credits look. A hard zero, not a penalty.
var investmentPlatforms = []string{
	"zerodha", "broking", "securities", "mutual", "fund", "trading",
	"groww", "upstox", "angel", "icici direct", "hdfc securities",
	"kotak securities", "axis direct", "sharekhan", "motilal oswal",
}

// SalaryChange is one significant jump between consecutive payments.
type SalaryChange struct {
	FromAmount float64 `json:"from_amount"`
	ToAmount   float64 `json:"to_amount"`
	ChangePct  float64 `json:"change_percentage"`
	Date       string  `json:"date"`
}

// SalaryProgression tracks raise/cut history for a salary source.
type SalaryProgression struct {
	HasProgression bool           `json:"has_progression"`
	Changes        []SalaryChange `json:"changes"`
	TotalGrowthPct float64        `json:"total_growth"`
}

// SalaryInsights is the salary detection verdict for one user.
type SalaryInsights struct {
	Detected         bool               `json:"salary_detected"`
	Source           string             `json:"source,omitempty"`
	CurrentSalary    float64            `json:"current_salary,omitempty"`
	AverageSalary    float64            `json:"average_salary,omitempty"`
	Confidence       float64            `json:"confidence,omitempty"`
	Progression      SalaryProgression  `json:"salary_progression"`
	MonthlyHistory   map[string]float64 `json:"monthly_history,omitempty"`
	TransactionCount int                `json:"transaction_count,omitempty"`
}

type salaryCandidate struct {
	merchant    string
	current     float64
	average     float64
	count       int
	confidence  float64
	progression SalaryProgression
	txns        []datatypes.Transaction
}

// detectSalary scores every credit counterparty for salary-ness and
// returns the best candidate above the minimum indicator threshold.
// Current salary is the most recent individual transaction amount,
// not a monthly sum: salary can arrive split within one month.
func detectSalary(txns []datatypes.Transaction) SalaryInsights {
	credits := make([]datatypes.Transaction, 0, len(txns))
	allAmounts := make([]float64, 0, len(txns))
	for _, t := range txns {
		if t.TransactionType == datatypes.TypeCredit {
			credits = append(credits, t)
			allAmounts = append(allAmounts, t.Amount)
		}
	}
	if len(credits) == 0 {
		return SalaryInsights{}
	}

	incomeMedian := percentile(allAmounts, 0.5)
	incomeMean := mean(allAmounts)
	income75th := percentile(allAmounts, 0.75)
	income90th := percentile(allAmounts, 0.9)
	incomeVolatility := 0.0
	if incomeMean > 0 {
		incomeVolatility = sampleStd(allAmounts) / incomeMean
	}
	minThreshold := math.Min(incomeMedian*0.1, incomeMean/10)

	groups := make(map[string][]datatypes.Transaction)
	for _, t := range credits {
		groups[merchantKey(t.Counterparty)] = append(groups[merchantKey(t.Counterparty)], t)
	}

	var best *salaryCandidate
	for merchant, group := range groups {
		candidate := scoreSalaryCandidate(merchant, group, salaryDistribution{
			minThreshold: minThreshold,
			p75:          income75th,
			p90:          income90th,
			volatility:   incomeVolatility,
		})
		if candidate == nil {
			continue
		}
		if best == nil || candidate.confidence > best.confidence {
			best = candidate
		}
	}
	if best == nil {
		return SalaryInsights{}
	}

	monthly := make(map[string]float64)
	for _, t := range best.txns {
		monthly[monthKey(t)] += t.Amount
	}
	avgMonthly := 0.0
	for _, v := range monthly {
		avgMonthly += v
	}
	avgMonthly /= float64(len(monthly))

	return SalaryInsights{
		Detected:         true,
		Source:           best.merchant,
		CurrentSalary:    best.current,
		AverageSalary:    avgMonthly,
		Confidence:       best.confidence,
		Progression:      best.progression,
		MonthlyHistory:   monthly,
		TransactionCount: best.count,
	}
}

type salaryDistribution struct {
	minThreshold float64
	p75          float64
	p90          float64
	volatility   float64
}

func scoreSalaryCandidate(merchant string, group []datatypes.Transaction, dist salaryDistribution) *salaryCandidate {
	indicators := 0

	for _, suffix := range businessSuffixes {
		if strings.HasSuffix(merchant, suffix) {
			indicators += 3
			break
		}
	}
	if len(merchant) > 10 && containsAnyWord(merchant, professionalWords) {
		indicators += 2
	}
	if containsAnyWord(merchant, institutionWords) {
		indicators += 3
	}
	if containsAnyWord(merchant, investmentPlatforms) {
		return nil
	}

	amounts := make([]float64, len(group))
	for i, t := range group {
		amounts[i] = t.Amount
	}
	avg := mean(amounts)
	if avg < dist.minThreshold {
		return nil
	}

	switch {
	case avg >= dist.p90:
		indicators += 3
	case avg >= dist.p75:
		indicators++
	}

	if len(amounts) > 1 && avg > 0 && sampleStd(amounts)/avg < 0.1 {
		indicators += 2
	}

	if len(amounts) > 1 {
		sorted := append([]float64(nil), amounts...)
		sort.Float64s(sorted)
		progressionThreshold := 1.05 + dist.volatility*0.1
		if sorted[len(sorted)-1] > sorted[0]*progressionThreshold {
			indicators++
		}
	}

	months := make(map[string]int)
	for _, t := range group {
		months[monthKey(t)]++
	}
	perMonth := float64(len(group)) / float64(len(months))
	if perMonth <= 2 {
		indicators += 2
	}

	if indicators < salaryMinIndicators {
		return nil
	}

	byDate := append([]datatypes.Transaction(nil), group...)
	sort.Slice(byDate, func(i, j int) bool {
		return byDate[i].TransactionDate.Before(byDate[j].TransactionDate)
	})

	return &salaryCandidate{
		merchant:    merchant,
		current:     byDate[len(byDate)-1].Amount,
		average:     avg,
		count:       len(group),
		confidence:  math.Min(float64(indicators)/salaryIndicatorScale, 1),
		progression: detectProgression(byDate),
		txns:        byDate,
	}
}

// detectProgression flags amount jumps above 5% between consecutive
// date-ordered payments.
func detectProgression(byDate []datatypes.Transaction) SalaryProgression {
	if len(byDate) <= 1 {
		return SalaryProgression{}
	}

	var changes []SalaryChange
	for i := 1; i < len(byDate); i++ {
		prev := byDate[i-1].Amount
		curr := byDate[i].Amount
		if curr != prev && math.Abs(curr-prev) > prev*0.05 {
			changes = append(changes, SalaryChange{
				FromAmount: prev,
				ToAmount:   curr,
				ChangePct:  (curr - prev) / prev * 100,
				Date:       byDate[i].TransactionDate.Format("2006-01-02"),
			})
		}
	}

	first := byDate[0].Amount
	last := byDate[len(byDate)-1].Amount
	growth := 0.0
	if first > 0 {
		growth = (last - first) / first * 100
	}
	return SalaryProgression{
		HasProgression: len(changes) > 0,
		Changes:        changes,
		TotalGrowthPct: growth,
	}
}

func monthKey(t datatypes.Transaction) string {
	return t.TransactionDate.Format("2006-01")
}

func containsAnyWord(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStd is the n-1 standard deviation.
func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		sum += (v - m) * (v - m)
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// percentile uses linear interpolation between order statistics.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
