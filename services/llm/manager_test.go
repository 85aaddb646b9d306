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
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// fakeClient is a scriptable LLMClient for manager tests.
type fakeClient struct {
	reply string
	err   error
	calls int
}

func (f *fakeClient) Chat(ctx context.Context, messages []Message, params GenerationParams) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func newTestManager() *Manager {
	return &Manager{
		clients:  make(map[string]LLMClient),
		limiters: make(map[string]*rate.Limiter),
		logger:   slog.Default(),
	}
}

func TestManager_Chat_UsesFirstProvider(t *testing.T) {
	m := newTestManager()
	first := &fakeClient{reply: "from-openai"}
	second := &fakeClient{reply: "from-groq"}
	m.register(ProviderOpenAI, first, nil)
	m.register(ProviderGroq, second, nil)

	out, err := m.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "from-openai", out)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls)
}

func TestManager_Chat_FailsOverInPriorityOrder(t *testing.T) {
	m := newTestManager()
	first := &fakeClient{err: errors.New("quota exceeded")}
	second := &fakeClient{reply: "from-groq"}
	m.register(ProviderOpenAI, first, nil)
	m.register(ProviderGroq, second, nil)

	out, err := m.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "from-groq", out)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestManager_Chat_AllProvidersFailed(t *testing.T) {
	m := newTestManager()
	m.register(ProviderOpenAI, &fakeClient{err: errors.New("boom")}, nil)
	m.register(ProviderGroq, &fakeClient{err: errors.New("also boom")}, nil)

	_, err := m.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, GenerationParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestManager_Chat_NoProviders(t *testing.T) {
	m := newTestManager()
	_, err := m.Chat(context.Background(), nil, GenerationParams{})
	assert.ErrorIs(t, err, ErrAllProvidersFailed)
}

func TestManager_Chat_RateLimitSkipsToNext(t *testing.T) {
	m := newTestManager()
	first := &fakeClient{reply: "never"}
	second := &fakeClient{reply: "from-groq"}
	// A zero-rate limiter with zero burst never admits a request.
	m.register(ProviderOpenAI, first, rate.NewLimiter(0, 0))
	m.register(ProviderGroq, second, nil)

	out, err := m.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, GenerationParams{})
	require.NoError(t, err)
	assert.Equal(t, "from-groq", out)
	assert.Equal(t, 0, first.calls)
}

func TestManager_Chat_ContextCancelledStopsWalk(t *testing.T) {
	m := newTestManager()
	ctx, cancel := context.WithCancel(context.Background())
	m.register(ProviderOpenAI, &fakeClient{err: errors.New("slow failure")}, nil)
	second := &fakeClient{reply: "unreachable"}
	m.register(ProviderGroq, second, nil)
	cancel()

	_, err := m.Chat(ctx, []Message{{Role: RoleUser, Content: "hi"}}, GenerationParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, second.calls)
}

func TestManager_SetPriority_RejectsUnknownName(t *testing.T) {
	m := newTestManager()
	m.register(ProviderOpenAI, &fakeClient{}, nil)

	err := m.SetPriority([]string{"bedrock"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestManager_SetPriority_DropsUncredentialed(t *testing.T) {
	m := newTestManager()
	m.register(ProviderGroq, &fakeClient{}, nil)

	// openai is a known name but has no client registered.
	err := m.SetPriority([]string{ProviderOpenAI, ProviderGroq})
	require.NoError(t, err)
	assert.Equal(t, []string{ProviderGroq}, m.Priority())
	assert.Equal(t, ProviderGroq, m.Active())
}

func TestManager_SetPriority_NoCredentialedProvider(t *testing.T) {
	m := newTestManager()
	m.register(ProviderGroq, &fakeClient{}, nil)

	err := m.SetPriority([]string{ProviderGemini})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	// Prior state untouched.
	assert.Equal(t, []string{ProviderGroq}, m.Priority())
}

func TestManager_SetPriority_Empty(t *testing.T) {
	m := newTestManager()
	err := m.SetPriority(nil)
	assert.Error(t, err)
}

func TestManager_Switch(t *testing.T) {
	m := newTestManager()
	m.register(ProviderOpenAI, &fakeClient{}, nil)
	m.register(ProviderGroq, &fakeClient{}, nil)

	require.NoError(t, m.Switch(ProviderGroq))
	assert.Equal(t, ProviderGroq, m.Active())
	assert.Equal(t, []string{ProviderGroq, ProviderOpenAI}, m.Priority())
}

func TestManager_Switch_Unavailable(t *testing.T) {
	m := newTestManager()
	m.register(ProviderOpenAI, &fakeClient{}, nil)

	err := m.Switch(ProviderGemini)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestManager_Switch_Unknown(t *testing.T) {
	m := newTestManager()
	err := m.Switch("bedrock")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestManager_Providers_ReportsAvailability(t *testing.T) {
	m := newTestManager()
	m.register(ProviderGroq, &fakeClient{}, nil)

	got := m.Providers()
	assert.True(t, got[ProviderGroq])
	assert.False(t, got[ProviderOpenAI])
	assert.False(t, got[ProviderGemini])
}
