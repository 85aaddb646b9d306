// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package storage is the Mongo-backed persistence layer: transaction
// aggregation for the analyzer and learned-pattern documents for the
// pattern engine.
package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/AleutianAI/Finsight/pkg/logging"
	"github.com/AleutianAI/Finsight/services/insights/datatypes"
)

const (
	// DefaultDatabase is the production database name.
	DefaultDatabase = "pluto_money"

	// collectionPatterns holds one learned-pattern document per user.
	collectionPatterns = "user_learned_patterns"

	defaultOpTimeout = 30 * time.Second
)

// Config describes the Mongo connection.
type Config struct {
	// URI is the connection string, e.g. mongodb://localhost:27017.
	URI string

	// Database defaults to DefaultDatabase when empty.
	Database string

	// ConnectTimeout bounds the initial connect+ping.
	// Default: 10s
	ConnectTimeout time.Duration

	// OpTimeout bounds individual storage operations.
	// Default: 30s
	OpTimeout time.Duration
}

func (c *Config) withDefaults() {
	if c.Database == "" {
		c.Database = DefaultDatabase
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = defaultOpTimeout
	}
}

// Connect opens a pooled client and verifies it with a ping.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, error) {
	cfg.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	return client, nil
}

// Store runs aggregation pipelines and point lookups against the
// transactions collection. It satisfies the analyzer's Store
// interface.
type Store struct {
	transactions *mongo.Collection
	opTimeout    time.Duration
	logger       *logging.Logger
}

// NewStore wraps an already-connected client.
func NewStore(client *mongo.Client, cfg Config, logger *logging.Logger) *Store {
	cfg.withDefaults()
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		transactions: client.Database(cfg.Database).Collection(datatypes.CollectionTransactions),
		opTimeout:    cfg.OpTimeout,
		logger:       logger,
	}
}

// Aggregate executes one pipeline and drains the cursor.
func (s *Store) Aggregate(ctx context.Context, stages []bson.M) ([]bson.M, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	pipeline := make([]interface{}, len(stages))
	for i, stage := range stages {
		pipeline[i] = stage
	}

	cursor, err := s.transactions.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("running aggregation: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []bson.M
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("draining aggregation cursor: %w", err)
	}
	return rows, nil
}

// CountInWindow counts a user's transactions inside [start, end).
func (s *Store) CountInWindow(ctx context.Context, userID string, start, end time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	count, err := s.transactions.CountDocuments(ctx, bson.M{
		"user_id":          userID,
		"transaction_date": bson.M{"$gte": start, "$lt": end},
	})
	if err != nil {
		return 0, fmt.Errorf("counting transactions: %w", err)
	}
	return count, nil
}

// HasUser reports whether any transaction exists for the user.
func (s *Store) HasUser(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	count, err := s.transactions.CountDocuments(ctx,
		bson.M{"user_id": userID},
		options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("checking user transactions: %w", err)
	}
	return count > 0, nil
}

// RecentTransactions returns the user's newest transactions, most
// recent first. The pattern engine feeds these to discovery.
func (s *Store) RecentTransactions(ctx context.Context, userID string, limit int64) ([]datatypes.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.M{"transaction_date": -1})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	cursor, err := s.transactions.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("finding transactions: %w", err)
	}
	defer cursor.Close(ctx)

	var txns []datatypes.Transaction
	if err := cursor.All(ctx, &txns); err != nil {
		return nil, fmt.Errorf("draining transaction cursor: %w", err)
	}
	return txns, nil
}

// Ping verifies the connection for health checks.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.transactions.Database().Client().Ping(ctx, readpref.Primary())
}
