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
	"context"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/Finsight/pkg/logging"
)

// categoryOthers is the catch-all category returned when nothing has
// been learned about a merchant.
const categoryOthers = "Others"

// learnedOverrideConfidence is the confidence above which a learned
// category overrides the general multi-signal categorizer.
const learnedOverrideConfidence = 0.7

// AmountStats is a bounded running summary of observed amounts. It
// replaces a stored amount list so a merchant seen a million times
// costs the same to persist as one seen twice.
type AmountStats struct {
	Count int     `bson:"count" json:"count"`
	Min   float64 `bson:"min" json:"min"`
	Max   float64 `bson:"max" json:"max"`
	Avg   float64 `bson:"avg" json:"avg"`
}

func (s *AmountStats) observe(amount float64) {
	if s.Count == 0 {
		s.Min = amount
		s.Max = amount
		s.Avg = amount
		s.Count = 1
		return
	}
	if amount < s.Min {
		s.Min = amount
	}
	if amount > s.Max {
		s.Max = amount
	}
	s.Avg = (s.Avg*float64(s.Count) + amount) / float64(s.Count+1)
	s.Count++
}

// MerchantPattern is everything learned about a single merchant key:
// how often it appears, which categories it has been assigned, and the
// amount summary.
type MerchantPattern struct {
	Stats      AmountStats    `bson:"amounts" json:"amounts"`
	Categories map[string]int `bson:"categories" json:"categories"`
	Frequency  int            `bson:"frequency" json:"frequency"`
}

// PatternSnapshot is the persisted form of one user's learned state.
type PatternSnapshot struct {
	UserID      string                      `bson:"user_id" json:"user_id"`
	Merchants   map[string]MerchantPattern  `bson:"merchant_patterns" json:"merchant_patterns"`
	Categories  map[string]AmountStats      `bson:"amount_patterns" json:"amount_patterns"`
	Corrections map[string]map[string]string `bson:"user_corrections" json:"user_corrections"`
	Confidence  map[string]float64          `bson:"confidence_scores" json:"confidence_scores"`
	UpdatedAt   time.Time                   `bson:"last_updated" json:"last_updated"`
}

// PatternStore persists learned patterns per user. Load returns
// (nil, nil) when the user has no stored patterns yet.
type PatternStore interface {
	LoadPatterns(ctx context.Context, userID string) (*PatternSnapshot, error)
	SavePatterns(ctx context.Context, snap *PatternSnapshot) error
}

// LearningStats summarizes a learner's accumulated state.
type LearningStats struct {
	UserID              string `json:"user_id"`
	LearnedMerchants    int    `json:"learned_merchants"`
	LearnedCategories   int    `json:"learned_categories"`
	UserCorrections     int    `json:"user_corrections"`
	TransactionsLearned int    `json:"total_transactions_learned"`
}

// Learner accumulates per-merchant categorization knowledge for one
// user. State is strictly per-user: learners are never shared or
// merged across users. Persistence is last-writer-wins via Flush.
type Learner struct {
	mu          sync.Mutex
	userID      string
	merchants   map[string]*MerchantPattern
	categories  map[string]*AmountStats
	corrections map[string]map[string]string
	confidence  map[string]float64
	store       PatternStore
	logger      *logging.Logger
}

// NewLearner builds a learner for one user, loading any persisted
// patterns. A nil store means in-memory only; a load failure starts
// fresh rather than failing the request.
func NewLearner(ctx context.Context, userID string, store PatternStore, logger *logging.Logger) *Learner {
	if logger == nil {
		logger = logging.Default()
	}
	l := &Learner{
		userID:      userID,
		merchants:   make(map[string]*MerchantPattern),
		categories:  make(map[string]*AmountStats),
		corrections: make(map[string]map[string]string),
		confidence:  make(map[string]float64),
		store:       store,
		logger:      logger,
	}
	if store == nil {
		return l
	}
	snap, err := store.LoadPatterns(ctx, userID)
	if err != nil {
		logger.Warn("could not load learned patterns, starting fresh", "user_id", userID, "error", err)
		return l
	}
	if snap != nil {
		l.restore(snap)
		logger.Info("loaded learned patterns",
			"user_id", userID,
			"merchants", len(l.merchants),
			"corrections", len(l.corrections))
	}
	return l
}

func (l *Learner) restore(snap *PatternSnapshot) {
	for k, v := range snap.Merchants {
		p := v
		if p.Categories == nil {
			p.Categories = make(map[string]int)
		}
		l.merchants[k] = &p
	}
	for k, v := range snap.Categories {
		s := v
		l.categories[k] = &s
	}
	for k, v := range snap.Corrections {
		l.corrections[k] = v
	}
	for k, v := range snap.Confidence {
		l.confidence[k] = v
	}
}

func merchantKey(merchant string) string {
	return strings.ToLower(strings.TrimSpace(merchant))
}

// Learn records one (merchant, amount, category) observation. When
// actualCategory differs from predictedCategory the observation is a
// correction: confidence shifts toward the actual category and away
// from the wrong prediction.
func (l *Learner) Learn(merchant string, amount float64, predictedCategory, actualCategory string) {
	key := merchantKey(merchant)
	if key == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pattern, ok := l.merchants[key]
	if !ok {
		pattern = &MerchantPattern{Categories: make(map[string]int)}
		l.merchants[key] = pattern
	}
	pattern.Stats.observe(amount)
	pattern.Categories[predictedCategory]++
	pattern.Frequency++

	stats, ok := l.categories[predictedCategory]
	if !ok {
		stats = &AmountStats{}
		l.categories[predictedCategory] = stats
	}
	stats.observe(amount)

	if actualCategory != "" && actualCategory != predictedCategory {
		if l.corrections[key] == nil {
			l.corrections[key] = make(map[string]string)
		}
		l.corrections[key][predictedCategory] = actualCategory
		l.confidence[key+"_"+actualCategory] += 0.1
		l.confidence[key+"_"+predictedCategory] -= 0.05
	}
}

// LearnedCategory predicts a category for a merchant and amount from
// accumulated observations. Confidence blends category dominance in
// the merchant's histogram with how close the amount sits to the
// merchant's historical average. Unknown merchants fall back to a
// token-overlap search over all known merchants.
func (l *Learner) LearnedCategory(merchant string, amount float64) (string, float64) {
	key := merchantKey(merchant)

	l.mu.Lock()
	defer l.mu.Unlock()

	if pattern, ok := l.merchants[key]; ok && len(pattern.Categories) > 0 {
		best, total := dominantCategory(pattern.Categories)
		confidence := float64(pattern.Categories[best]) / float64(total)
		if avg := pattern.Stats.Avg; avg > 0 {
			denom := avg
			if amount > denom {
				denom = amount
			}
			similarity := 1 - abs(amount-avg)/denom
			confidence = (confidence + similarity) / 2
		}
		if confidence > 1 {
			confidence = 1
		}
		return best, confidence
	}

	if category, score := l.similarMerchantCategory(key); score > 0.5 {
		return category, score
	}
	return categoryOthers, 0
}

// similarMerchantCategory is a Jaccard token-overlap search across
// known merchants. Only overlaps above 0.3 are considered a match at
// all; the caller applies its own acceptance threshold.
func (l *Learner) similarMerchantCategory(key string) (string, float64) {
	tokens := tokenSet(key)
	if len(tokens) == 0 {
		return categoryOthers, 0
	}

	bestCategory := categoryOthers
	bestScore := 0.0
	for known, pattern := range l.merchants {
		knownTokens := tokenSet(known)
		if len(knownTokens) == 0 || len(pattern.Categories) == 0 {
			continue
		}
		score := jaccard(tokens, knownTokens)
		if score > bestScore && score > 0.3 {
			bestScore = score
			bestCategory, _ = dominantCategory(pattern.Categories)
		}
	}
	return bestCategory, bestScore
}

// Flush persists the current state. A nil store is a no-op.
func (l *Learner) Flush(ctx context.Context) error {
	if l.store == nil {
		return nil
	}
	l.mu.Lock()
	snap := l.snapshotLocked()
	l.mu.Unlock()
	return l.store.SavePatterns(ctx, snap)
}

func (l *Learner) snapshotLocked() *PatternSnapshot {
	snap := &PatternSnapshot{
		UserID:      l.userID,
		Merchants:   make(map[string]MerchantPattern, len(l.merchants)),
		Categories:  make(map[string]AmountStats, len(l.categories)),
		Corrections: make(map[string]map[string]string, len(l.corrections)),
		Confidence:  make(map[string]float64, len(l.confidence)),
		UpdatedAt:   time.Now().UTC(),
	}
	for k, v := range l.merchants {
		p := *v
		p.Categories = make(map[string]int, len(v.Categories))
		for c, n := range v.Categories {
			p.Categories[c] = n
		}
		snap.Merchants[k] = p
	}
	for k, v := range l.categories {
		snap.Categories[k] = *v
	}
	for k, v := range l.corrections {
		m := make(map[string]string, len(v))
		for p, a := range v {
			m[p] = a
		}
		snap.Corrections[k] = m
	}
	for k, v := range l.confidence {
		snap.Confidence[k] = v
	}
	return snap
}

// Stats reports the learner's accumulated state.
func (l *Learner) Stats() LearningStats {
	l.mu.Lock()
	defer l.mu.Unlock()

	learned := 0
	for _, p := range l.merchants {
		learned += p.Frequency
	}
	return LearningStats{
		UserID:              l.userID,
		LearnedMerchants:    len(l.merchants),
		LearnedCategories:   len(l.categories),
		UserCorrections:     len(l.corrections),
		TransactionsLearned: learned,
	}
}

func dominantCategory(categories map[string]int) (string, int) {
	best := ""
	bestCount := -1
	total := 0
	for category, count := range categories {
		total += count
		if count > bestCount || (count == bestCount && category < best) {
			best = category
			bestCount = count
		}
	}
	return best, total
}

func tokenSet(s string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		tokens[tok] = struct{}{}
	}
	return tokens
}

func jaccard(a, b map[string]struct{}) float64 {
	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
