// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagesentry/pagesentry/services/llm"
	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
	"github.com/pagesentry/pagesentry/services/scanner/modes"
	"github.com/pagesentry/pagesentry/services/scanner/storage"
)

// scriptedSession answers prompts from a fixed reply list; the last
// reply repeats. Per-call delays honor context cancellation.
type scriptedSession struct {
	mu      sync.Mutex
	replies []string
	delays  []time.Duration
	err     error
	calls   int
}

func (s *scriptedSession) Prompt(ctx context.Context, input string) (string, error) {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.mu.Unlock()

	if idx < len(s.delays) && s.delays[idx] > 0 {
		select {
		case <-time.After(s.delays[idx]):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	if len(s.replies) == 0 {
		return "SAFE", nil
	}
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	return s.replies[idx], nil
}

func (s *scriptedSession) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type scriptedProvider struct {
	session *scriptedSession
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) NewSession(ctx context.Context, cfg llm.SessionConfig) (llm.Session, error) {
	return p.session, nil
}

func testConfig() Config {
	return Config{
		OverallTimeout:   5 * time.Second,
		MinContentLength: 10,
	}
}

// newQuickScanEngine wires a real registry in quickscan mode against a
// scripted model session and an in-memory store.
func newQuickScanEngine(t *testing.T, cfg Config, session *scriptedSession) (*Engine, *storage.Store) {
	t.Helper()
	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := modes.NewRegistry(&scriptedProvider{session: session}, nil, modes.CloudConfig{}, nil)
	require.NoError(t, registry.SetMode(context.Background(), modes.ModeQuickScan))

	eng, err := New(cfg, registry, store, nil, nil)
	require.NoError(t, err)
	return eng, store
}

const scanContent = "This page offers discounted outdoor gear and free shipping on orders over fifty dollars."

func analyzeReq(tabID int, url string) datatypes.AnalyzeRequest {
	return datatypes.AnalyzeRequest{TabID: tabID, URL: url, Content: scanContent}
}

func TestAnalyze_CacheIdempotence(t *testing.T) {
	session := &scriptedSession{replies: []string{"SAFE"}}
	eng, _ := newQuickScanEngine(t, testConfig(), session)

	req := analyzeReq(1, "https://shop.example.com")
	first := eng.Analyze(context.Background(), req)
	second := eng.Analyze(context.Background(), req)

	assert.Equal(t, 1, session.callCount(), "identical request is served from cache")
	assert.Equal(t, first, second)
	assert.Equal(t, datatypes.MethodAI, first.Method)
}

func TestAnalyze_SkippedShortCircuit(t *testing.T) {
	session := &scriptedSession{}
	eng, store := newQuickScanEngine(t, testConfig(), session)

	req := analyzeReq(2, "https://mail.example.com/inbox")
	req.Skipped = true
	v := eng.Analyze(context.Background(), req)

	assert.Equal(t, datatypes.MethodSkipped, v.Method)
	assert.Equal(t, "SKIPPED", v.Judgment)
	assert.False(t, v.IsMalicious)
	assert.Zero(t, session.callCount())

	st, err := store.LoadStatus(2)
	require.NoError(t, err)
	assert.Equal(t, datatypes.MethodSkipped, st.Result.Method)
}

func TestAnalyze_ContentFloor(t *testing.T) {
	session := &scriptedSession{}
	eng, _ := newQuickScanEngine(t, testConfig(), session)

	v := eng.Analyze(context.Background(), datatypes.AnalyzeRequest{
		TabID: 3, URL: "https://example.com", Content: "tiny",
	})

	assert.Equal(t, datatypes.MethodSkipped, v.Method)
	assert.Equal(t, len("tiny"), v.ContentLength)
	assert.Zero(t, session.callCount())
}

func TestAnalyze_ExtensionSchemeIgnored(t *testing.T) {
	session := &scriptedSession{}
	eng, _ := newQuickScanEngine(t, testConfig(), session)

	req := analyzeReq(4, "chrome-extension://abcdef/popup.html")
	v := eng.Analyze(context.Background(), req)

	assert.Equal(t, datatypes.MethodIgnored, v.Method)
	assert.Equal(t, "IGNORED", v.Judgment)
	assert.Zero(t, session.callCount())
}

func TestAnalyze_OwnHostIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.OwnHost = "scanner.example.com"
	session := &scriptedSession{}
	eng, _ := newQuickScanEngine(t, cfg, session)

	v := eng.Analyze(context.Background(), analyzeReq(5, "https://Scanner.Example.Com/status"))
	assert.Equal(t, datatypes.MethodIgnored, v.Method)
	assert.Zero(t, session.callCount())
}

func TestAnalyze_IgnoreRuleShortCircuit(t *testing.T) {
	session := &scriptedSession{}
	eng, _ := newQuickScanEngine(t, testConfig(), session)

	require.NoError(t, eng.AddRule(datatypes.IgnoreRule{
		Pattern: "trusted.example.com",
		Type:    datatypes.RuleTypeDomain,
	}))

	v := eng.Analyze(context.Background(), analyzeReq(6, "https://www.trusted.example.com/page"))
	assert.Equal(t, datatypes.MethodIgnored, v.Method)
	assert.Contains(t, v.Analysis, "trusted.example.com")
	assert.Zero(t, session.callCount())
}

func TestAnalyze_TimeoutAtBudget(t *testing.T) {
	cfg := testConfig()
	cfg.OverallTimeout = 50 * time.Millisecond
	session := &scriptedSession{delays: []time.Duration{time.Second}}
	eng, store := newQuickScanEngine(t, cfg, session)

	v := eng.Analyze(context.Background(), analyzeReq(7, "https://slow.example.com"))

	assert.Equal(t, datatypes.MethodTimeout, v.Method)
	assert.Equal(t, "TIMEOUT", v.Judgment)
	assert.False(t, v.IsMalicious)

	st, err := store.LoadStatus(7)
	require.NoError(t, err)
	assert.Equal(t, datatypes.MethodTimeout, st.Result.Method, "timeout is persisted so the UI sees it")
}

func TestAnalyze_SupersedeCancelsFirst(t *testing.T) {
	session := &scriptedSession{
		replies: []string{"SAFE", "SAFE"},
		delays:  []time.Duration{2 * time.Second},
	}
	eng, store := newQuickScanEngine(t, testConfig(), session)

	firstDone := make(chan datatypes.Verdict, 1)
	go func() {
		firstDone <- eng.Analyze(context.Background(), analyzeReq(8, "https://first.example.com"))
	}()

	// Let the first scan reach its model call before superseding it.
	require.Eventually(t, func() bool { return session.callCount() == 1 },
		time.Second, 5*time.Millisecond)

	second := eng.Analyze(context.Background(), analyzeReq(8, "https://second.example.com"))
	assert.Equal(t, datatypes.MethodAI, second.Method)

	first := <-firstDone
	assert.NotEqual(t, datatypes.MethodAI, first.Method, "preempted scan does not complete normally")

	st, err := store.LoadStatus(8)
	require.NoError(t, err)
	assert.Equal(t, "https://second.example.com", st.URL, "only the superseding scan writes status")
}

func TestAnalyze_ErrorVerdictsNotCached(t *testing.T) {
	session := &scriptedSession{err: errors.New("model crashed")}
	eng, _ := newQuickScanEngine(t, testConfig(), session)

	req := analyzeReq(9, "https://flaky.example.com")
	first := eng.Analyze(context.Background(), req)
	second := eng.Analyze(context.Background(), req)

	assert.Equal(t, datatypes.MethodError, first.Method)
	assert.Equal(t, datatypes.MethodError, second.Method)
	assert.Equal(t, 2, session.callCount(), "inconclusive verdicts are re-scanned")
}

func TestNavigate_ClearsStatusKeepsCache(t *testing.T) {
	session := &scriptedSession{replies: []string{"SAFE"}}
	eng, _ := newQuickScanEngine(t, testConfig(), session)

	req := analyzeReq(10, "https://news.example.com")
	eng.Analyze(context.Background(), req)

	eng.Navigate(10)
	st := eng.Status(10)
	assert.Equal(t, "No scan performed yet", st.Result.Analysis)

	// Returning to the unchanged page reuses the cached verdict.
	v := eng.Analyze(context.Background(), req)
	assert.Equal(t, datatypes.MethodAI, v.Method)
	assert.Equal(t, 1, session.callCount())
}

func TestCloseTab_PurgesCache(t *testing.T) {
	session := &scriptedSession{replies: []string{"SAFE"}}
	eng, _ := newQuickScanEngine(t, testConfig(), session)

	req := analyzeReq(11, "https://news.example.com")
	eng.Analyze(context.Background(), req)
	eng.CloseTab(11)

	eng.Analyze(context.Background(), req)
	assert.Equal(t, 2, session.callCount(), "closing the tab drops its cache entries")
}

func TestClearTabCache(t *testing.T) {
	session := &scriptedSession{replies: []string{"SAFE"}}
	eng, _ := newQuickScanEngine(t, testConfig(), session)

	eng.Analyze(context.Background(), analyzeReq(12, "https://a.example.com"))
	eng.Analyze(context.Background(), analyzeReq(12, "https://b.example.com"))
	eng.Analyze(context.Background(), analyzeReq(13, "https://c.example.com"))

	assert.Equal(t, 2, eng.ClearTabCache(12))
	assert.Equal(t, 0, eng.ClearTabCache(12))
}

func TestChangeMode_ClearsCacheAndPersists(t *testing.T) {
	session := &scriptedSession{replies: []string{"SAFE"}}
	eng, store := newQuickScanEngine(t, testConfig(), session)

	req := analyzeReq(14, "https://news.example.com")
	eng.Analyze(context.Background(), req)

	require.NoError(t, eng.ChangeMode(context.Background(), modes.ModePattern))
	assert.Equal(t, modes.ModePattern, eng.Mode())

	v := eng.Analyze(context.Background(), req)
	assert.Equal(t, datatypes.MethodPattern, v.Method, "stale quickscan verdict is not served after a mode switch")

	mode, err := store.LoadMode()
	require.NoError(t, err)
	assert.Equal(t, modes.ModePattern, mode)
}

func TestChangeMode_UnknownModeRejected(t *testing.T) {
	eng, _ := newQuickScanEngine(t, testConfig(), &scriptedSession{})
	assert.Error(t, eng.ChangeMode(context.Background(), "turbo"))
	assert.Equal(t, modes.ModeQuickScan, eng.Mode(), "failed switch keeps the previous mode")
}

func TestRules_SetSemantics(t *testing.T) {
	eng, store := newQuickScanEngine(t, testConfig(), &scriptedSession{})

	rule := datatypes.IgnoreRule{Pattern: "Example.com", Type: datatypes.RuleTypeDomain, AddedAt: 1000}
	require.NoError(t, eng.AddRule(rule))

	// Equivalent spellings collapse to one entry.
	dup := datatypes.IgnoreRule{Pattern: "www.example.com", Type: datatypes.RuleTypeDomain}
	assert.ErrorIs(t, eng.AddRule(dup), ErrDuplicateRule)

	require.NoError(t, eng.AddRule(datatypes.IgnoreRule{
		Pattern: "https://one.example.org/page", Type: datatypes.RuleTypeURL, AddedAt: 2000,
	}))

	rules := eng.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "example.com", rules[0].Pattern, "pattern is normalized on insert")
	assert.NotZero(t, rules[0].AddedAt)

	persisted, err := store.LoadRules()
	require.NoError(t, err)
	assert.Equal(t, rules, persisted)

	require.NoError(t, eng.RemoveRule("example.com", datatypes.RuleTypeDomain))
	assert.ErrorIs(t, eng.RemoveRule("example.com", datatypes.RuleTypeDomain), ErrRuleNotFound)
	assert.Len(t, eng.Rules(), 1)
}

func TestRules_SurviveRestart(t *testing.T) {
	store, err := storage.OpenInMemory()
	require.NoError(t, err)
	defer store.Close()

	registry := modes.NewRegistry(nil, nil, modes.CloudConfig{}, nil)
	require.NoError(t, registry.SetMode(context.Background(), modes.ModePattern))

	eng, err := New(testConfig(), registry, store, nil, nil)
	require.NoError(t, err)
	require.NoError(t, eng.AddRule(datatypes.IgnoreRule{
		Pattern: "example.net", Type: datatypes.RuleTypeDomain,
	}))

	reborn, err := New(testConfig(), registry, store, nil, nil)
	require.NoError(t, err)
	rules := reborn.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "example.net", rules[0].Pattern)
}

func TestStatus_PlaceholderWhenAbsent(t *testing.T) {
	eng, _ := newQuickScanEngine(t, testConfig(), &scriptedSession{})
	st := eng.Status(404)
	assert.False(t, st.Result.IsMalicious)
	assert.Equal(t, "No scan performed yet", st.Result.Analysis)
	assert.Equal(t, datatypes.IconSafe, st.Badge.Icon)
}

func TestBackstopVerdict(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		method   datatypes.Method
		judgment string
	}{
		{"plain failure", errors.New("connection refused"), datatypes.MethodError, "ERROR"},
		{"timeout text", errors.New("request timed out"), datatypes.MethodTimeout, "TIMEOUT"},
		{"deadline text", errors.New("context deadline exceeded"), datatypes.MethodTimeout, "TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := backstopVerdict("everyday", 100, tt.err)
			assert.False(t, v.IsMalicious)
			assert.Equal(t, tt.method, v.Method)
			assert.Equal(t, tt.judgment, v.Judgment)
			assert.Contains(t, v.Analysis, tt.err.Error())
			assert.Equal(t, 100, v.ContentLength)
		})
	}
}
