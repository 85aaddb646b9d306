// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/AleutianAI/Finsight/pkg/logging"
	"github.com/AleutianAI/Finsight/services/insights/patterns"
)

// PatternStore persists one learned-pattern document per user with
// last-writer-wins upserts. Occasional lost counter updates under
// concurrent writes are acceptable for this data.
type PatternStore struct {
	patterns  *mongo.Collection
	opTimeout time.Duration
	logger    *logging.Logger
}

// NewPatternStore wraps an already-connected client.
func NewPatternStore(client *mongo.Client, cfg Config, logger *logging.Logger) *PatternStore {
	cfg.withDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	return &PatternStore{
		patterns:  client.Database(cfg.Database).Collection(collectionPatterns),
		opTimeout: cfg.OpTimeout,
		logger:    logger,
	}
}

// EnsureIndexes creates the unique user_id index. Call once at
// startup.
func (p *PatternStore) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	_, err := p.patterns.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.M{"user_id": 1},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.M{"last_updated": 1}},
	})
	if err != nil {
		return fmt.Errorf("creating pattern indexes: %w", err)
	}
	return nil
}

// LoadPatterns returns (nil, nil) when the user has no stored
// patterns yet.
func (p *PatternStore) LoadPatterns(ctx context.Context, userID string) (*patterns.PatternSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	var snap patterns.PatternSnapshot
	err := p.patterns.FindOne(ctx, bson.M{"user_id": userID}).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading patterns for %s: %w", userID, err)
	}
	return &snap, nil
}

// SavePatterns upserts the full snapshot for its user.
func (p *PatternStore) SavePatterns(ctx context.Context, snap *patterns.PatternSnapshot) error {
	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	_, err := p.patterns.ReplaceOne(ctx,
		bson.M{"user_id": snap.UserID},
		snap,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("saving patterns for %s: %w", snap.UserID, err)
	}
	p.logger.Debug("saved learned patterns",
		"user_id", snap.UserID,
		"merchants", len(snap.Merchants))
	return nil
}

// CleanupOldPatterns removes pattern documents not updated within the
// retention window. Returns the number deleted.
func (p *PatternStore) CleanupOldPatterns(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opTimeout)
	defer cancel()

	cutoff := time.Now().UTC().Add(-olderThan)
	result, err := p.patterns.DeleteMany(ctx, bson.M{
		"last_updated": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("cleaning up old patterns: %w", err)
	}
	if result.DeletedCount > 0 {
		p.logger.Info("removed stale pattern documents", "deleted", result.DeletedCount)
	}
	return result.DeletedCount, nil
}
