// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// Provider names known to the manager. Registration order is the
// default priority.
const (
	ProviderOpenAI = "openai"
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
)

// knownProviders is the fixed registry. A priority list may only
// reference these names.
var knownProviders = []string{ProviderOpenAI, ProviderGroq, ProviderGemini}

var (
	// ErrAllProvidersFailed means every credentialed provider in the
	// priority list failed or was rate-limit saturated. Callers fall
	// back to deterministic behavior on this error.
	ErrAllProvidersFailed = errors.New("all llm providers failed")

	// ErrUnknownProvider means a name outside the fixed registry.
	ErrUnknownProvider = errors.New("unknown llm provider")

	// ErrProviderUnavailable means the provider has no credentials.
	ErrProviderUnavailable = errors.New("llm provider unavailable")
)

// Manager coordinates multiple LLM providers with priority-ordered
// failover.
//
// # Description
//
// The manager walks its priority list on every Chat call: the first
// credentialed provider whose rate limiter admits the request is
// tried; on error the walk continues. Only when every provider has
// been exhausted does Chat return ErrAllProvidersFailed.
//
// # Thread Safety
//
// Manager is safe for concurrent use. Priority mutations take the
// write lock; Chat reads a snapshot under the read lock and never
// holds the lock across a network call.
type Manager struct {
	mu       sync.RWMutex
	clients  map[string]LLMClient
	priority []string
	active   string
	limiters map[string]*rate.Limiter
	logger   *slog.Logger
}

// NewManager builds a Manager, constructing every known provider
// from the environment. Providers with missing credentials are
// recorded as unavailable rather than failing construction; the
// manager itself only errors when no provider at all is available
// and requireProvider is true.
func NewManager(logger *slog.Logger, requireProvider bool) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		clients:  make(map[string]LLMClient),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger,
	}

	constructors := map[string]func() (LLMClient, error){
		ProviderOpenAI: func() (LLMClient, error) { return NewOpenAIClient() },
		ProviderGroq:   func() (LLMClient, error) { return NewGroqClient() },
		ProviderGemini: func() (LLMClient, error) { return NewGeminiClient() },
	}

	for _, name := range knownProviders {
		client, err := constructors[name]()
		if err != nil {
			logger.Warn("llm provider unavailable", "provider", name, "reason", err.Error())
			continue
		}
		m.clients[name] = client
		m.priority = append(m.priority, name)
		// 2 rps sustained with a small burst keeps any single provider
		// under free-tier limits during pipeline compilation fan-out.
		m.limiters[name] = rate.NewLimiter(rate.Limit(2), 4)
	}

	if len(m.priority) > 0 {
		m.active = m.priority[0]
		logger.Info("llm manager ready", "active", m.active, "available", len(m.priority))
	} else if requireProvider {
		return nil, fmt.Errorf("no llm provider credentials found")
	} else {
		logger.Warn("no llm providers available, deterministic fallbacks only")
	}
	return m, nil
}

// Chat walks the priority list and returns the first successful
// completion. Implements LLMClient so the manager can be injected
// anywhere a single provider could.
func (m *Manager) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	m.mu.RLock()
	order := make([]string, len(m.priority))
	copy(order, m.priority)
	m.mu.RUnlock()

	if len(order) == 0 {
		return "", ErrAllProvidersFailed
	}

	var lastErr error
	for _, name := range order {
		m.mu.RLock()
		client := m.clients[name]
		limiter := m.limiters[name]
		m.mu.RUnlock()
		if client == nil {
			continue
		}
		if limiter != nil && !limiter.Allow() {
			// Saturated provider: skip rather than queue, the next in
			// priority is likely idle.
			m.logger.Debug("llm provider rate-limited, skipping", "provider", name)
			lastErr = fmt.Errorf("provider %s rate-limited", name)
			continue
		}

		result, err := client.Chat(ctx, messages, params)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		m.logger.Warn("llm provider failed, trying next", "provider", name, "error", err.Error())
		lastErr = err
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: %v", ErrAllProvidersFailed, lastErr)
	}
	return "", ErrAllProvidersFailed
}

// Active returns the provider currently at the head of the priority
// list, or "" when none is available.
func (m *Manager) Active() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.active
}

// Priority returns a copy of the current priority order.
func (m *Manager) Priority() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.priority))
	copy(out, m.priority)
	return out
}

// Providers reports every known provider and whether it is
// credentialed, regardless of priority.
func (m *Manager) Providers() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]bool, len(knownProviders))
	for _, name := range knownProviders {
		_, ok := m.clients[name]
		out[name] = ok
	}
	return out
}

// SetPriority replaces the priority order.
//
// Unknown names are rejected outright. Names without credentials are
// dropped from the stored order; at least one credentialed provider
// must survive. The first surviving provider becomes active.
func (m *Manager) SetPriority(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("priority list must not be empty")
	}
	valid := make(map[string]bool, len(knownProviders))
	for _, k := range knownProviders {
		valid[k] = true
	}
	for _, n := range names {
		if !valid[n] {
			return fmt.Errorf("%w: %q", ErrUnknownProvider, n)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var kept []string
	seen := make(map[string]bool)
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		if _, ok := m.clients[n]; ok {
			kept = append(kept, n)
		}
	}
	if len(kept) == 0 {
		return fmt.Errorf("%w: no provider in %v has credentials", ErrProviderUnavailable, names)
	}

	m.priority = kept
	m.active = kept[0]
	m.logger.Info("llm priority updated", "priority", kept, "active", m.active)
	return nil
}

// Switch moves the named provider to the head of the priority list.
func (m *Manager) Switch(name string) error {
	valid := false
	for _, k := range knownProviders {
		if k == name {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.clients[name]; !ok {
		return fmt.Errorf("%w: %q", ErrProviderUnavailable, name)
	}

	reordered := []string{name}
	for _, n := range m.priority {
		if n != name {
			reordered = append(reordered, n)
		}
	}
	m.priority = reordered
	m.active = name
	m.logger.Info("llm provider switched", "active", name)
	return nil
}

// register installs a client under a name. Test hook; production
// construction goes through NewManager.
func (m *Manager) register(name string, client LLMClient, limiter *rate.Limiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[name] = client
	m.limiters[name] = limiter
	for _, n := range m.priority {
		if n == name {
			return
		}
	}
	m.priority = append(m.priority, name)
	if m.active == "" {
		m.active = name
	}
}
