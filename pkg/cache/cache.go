// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache provides the TTL response cache for analysis
// intermediates (sub-query lists and compiled pipelines).
//
// The cache is backed by BadgerDB with its native per-entry TTL,
// normally in in-memory mode: entries are cheap to regenerate, so
// losing them on restart is acceptable, while Badger keeps reads at
// ~100µs under concurrent load. A persistent path can be configured
// for deployments that want warm caches across restarts.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// TTLs by entry kind. Sub-query lists churn with phrasing; compiled
// pipelines are stable for a given query+intent and live longer.
const (
	TTLSubQueries = 1800 * time.Second
	TTLPipelines  = 7200 * time.Second
)

// Key prefixes for the two cached entry kinds.
const (
	PrefixSubQueries = "subq"
	PrefixPipelines  = "pipe"
)

// Config holds configuration for the response cache.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// This is the default deployment mode.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Only meaningful for persistent caches.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns the standard in-memory configuration.
func DefaultConfig() Config {
	return Config{InMemory: true}
}

// Stats is a point-in-time snapshot of cache activity. Entries is
// counted by key iteration and excludes expired-but-uncollected keys
// Badger has already hidden from reads.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Sets    int64 `json:"sets"`
	Entries int   `json:"entries"`
}

// Cache is a TTL key-value cache over BadgerDB.
//
// All methods are safe for concurrent use; counters are atomics and
// BadgerDB handles its own transaction isolation.
type Cache struct {
	db     *badger.DB
	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// New opens the cache with the given configuration.
//
// The caller must Close() the returned cache to release the
// underlying database.
func New(cfg Config) (*Cache, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent cache")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	return &Cache{db: db}, nil
}

// Key builds a versioned cache key for a user's query.
//
// The hash folds in the detected intent so re-classified queries
// don't collide; the _v2 suffix versions the value encoding so a
// schema change never reads stale-format entries.
func Key(userID, prefix, query, intent string) string {
	sum := md5.Sum([]byte(query + intent))
	return fmt.Sprintf("%s_%s_%s_IST_v2", userID, prefix, hex.EncodeToString(sum[:])[:12])
}

// Get loads the value under key into v (JSON decode).
//
// Returns false with a nil error on a miss or an expired entry;
// decode failures are misses too, the entry is simply regenerated.
func (c *Cache) Get(key string, v any) (bool, error) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		c.misses.Add(1)
		return false, nil
	}
	if err != nil {
		c.misses.Add(1)
		return false, fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		c.misses.Add(1)
		return false, nil
	}
	c.hits.Add(1)
	return true, nil
}

// Set stores v under key (JSON encode) with the given TTL.
func (c *Cache) Set(key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), raw).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	c.sets.Add(1)
	return nil
}

// Clear drops every entry and resets the counters.
func (c *Cache) Clear() error {
	if err := c.db.DropAll(); err != nil {
		return fmt.Errorf("cache clear: %w", err)
	}
	c.hits.Store(0)
	c.misses.Store(0)
	c.sets.Store(0)
	return nil
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	entries := 0
	_ = c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			entries++
		}
		return nil
	})
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Sets:    c.sets.Load(),
		Entries: entries,
	}
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}
