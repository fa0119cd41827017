// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package engine implements the per-tab analysis pipeline: admission
// (skip, ignore rules, content floor), verdict caching, preempt-on-
// supersede task management, timeout enforcement, and the persisted
// status and badge writes that follow a completed scan.
//
// The engine never returns an error to its caller for a scan. Every
// failure path is converted into a Verdict with a distinct method so
// the UI can tell an inconclusive scan from a clean one.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
	"github.com/pagesentry/pagesentry/services/scanner/modes"
	"github.com/pagesentry/pagesentry/services/scanner/observability"
	"github.com/pagesentry/pagesentry/services/scanner/storage"
)

var tracer = otel.Tracer("pagesentry.scanner.engine")

// Pages with these schemes belong to the scanner's own surfaces and
// are never analyzed.
const ignoredScheme = "chrome-extension"

var (
	// ErrDuplicateRule is returned when an ignore rule with the same
	// pattern and type already exists.
	ErrDuplicateRule = errors.New("engine: ignore rule already exists")

	// ErrRuleNotFound is returned when removing a rule that does not exist.
	ErrRuleNotFound = errors.New("engine: ignore rule not found")
)

// Config holds the engine tunables. Zero values are filled by
// applyDefaults.
type Config struct {
	// OverallTimeout is the wall-clock budget for one scan. Default 60s.
	OverallTimeout time.Duration

	// FingerprintPrefixLen is how many leading content bytes key the
	// verdict cache. Default 500.
	FingerprintPrefixLen int

	// RescanMinDelta treats a repeat request for the same tab and URL
	// as a cache hit when the content length changed by at most this
	// many bytes. 0 disables the heuristic. Default 0.
	RescanMinDelta int

	// CacheMaxEntries bounds the verdict cache. Past the bound the
	// whole table is cleared. Default 100.
	CacheMaxEntries int

	// SweepInterval is how often the background sweeper re-checks the
	// cache bound. Default 30s.
	SweepInterval time.Duration

	// MinContentLength is the floor below which content is not worth
	// scanning. Default 50.
	MinContentLength int

	// OwnHost is the scanner service's own host; its pages are always
	// ignored.
	OwnHost string
}

func (c *Config) applyDefaults() {
	if c.OverallTimeout <= 0 {
		c.OverallTimeout = 60 * time.Second
	}
	if c.FingerprintPrefixLen <= 0 {
		c.FingerprintPrefixLen = 500
	}
	if c.CacheMaxEntries <= 0 {
		c.CacheMaxEntries = 100
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 30 * time.Second
	}
	if c.MinContentLength <= 0 {
		c.MinContentLength = 50
	}
}

// Engine is the analysis pipeline coordinator. One instance per
// process; construct with New, call Start, and Shutdown on exit.
type Engine struct {
	cfg      Config
	registry *modes.Registry
	store    *storage.Store
	metrics  *observability.ScanMetrics
	audit    *slog.Logger

	// mu guards cache, tasks, and rules. The admission invariants
	// (at most one live task per tab, at most one cache write per
	// fingerprint) hold because the cache check and the task preempt
	// happen under one critical section.
	mu    sync.Mutex
	cache *verdictCache
	tasks *taskTable
	rules map[string]datatypes.IgnoreRule

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New constructs an engine and loads persisted ignore rules.
func New(cfg Config, registry *modes.Registry, store *storage.Store, metrics *observability.ScanMetrics, audit *slog.Logger) (*Engine, error) {
	if registry == nil {
		return nil, errors.New("engine: registry is required")
	}
	if store == nil {
		return nil, errors.New("engine: store is required")
	}
	cfg.applyDefaults()
	if audit == nil {
		audit = slog.Default()
	}

	persisted, err := store.LoadRules()
	if err != nil {
		return nil, fmt.Errorf("engine: load ignore rules: %w", err)
	}
	rules := make(map[string]datatypes.IgnoreRule, len(persisted))
	for _, r := range persisted {
		rules[r.Key()] = r
	}

	return &Engine{
		cfg:      cfg,
		registry: registry,
		store:    store,
		metrics:  metrics,
		audit:    audit,
		cache:    newVerdictCache(cfg.FingerprintPrefixLen, cfg.RescanMinDelta, cfg.CacheMaxEntries),
		tasks:    newTaskTable(),
		rules:    rules,
	}, nil
}

// Start launches the cache sweeper.
func (e *Engine) Start() {
	e.sweepStop = make(chan struct{})
	e.sweepDone = make(chan struct{})
	go e.runSweeper()
}

// Shutdown stops the sweeper. Safe to call without Start.
func (e *Engine) Shutdown() {
	if e.sweepStop == nil {
		return
	}
	close(e.sweepStop)
	<-e.sweepDone
	e.sweepStop = nil
}

func (e *Engine) runSweeper() {
	defer close(e.sweepDone)
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.sweepStop:
			return
		case <-ticker.C:
			e.mu.Lock()
			size := e.cache.len()
			evict := size > e.cfg.CacheMaxEntries
			if evict {
				e.cache.clear()
			}
			tasks := e.tasks.len()
			e.mu.Unlock()
			if evict {
				e.metrics.RecordCacheEviction()
				slog.Info("Verdict cache cleared by sweeper", "entries", size)
			}
			slog.Debug("Sweep complete", "cache_entries", size, "live_tasks", tasks)
		}
	}
}

// Analyze runs one scan request through the pipeline and returns the
// resulting Verdict. It never returns an error; strategy failures are
// converted at the boundary and anything a strategy lets escape is
// backstopped here.
func (e *Engine) Analyze(ctx context.Context, req datatypes.AnalyzeRequest) datatypes.Verdict {
	ctx, span := tracer.Start(ctx, "engine.analyze", trace.WithAttributes(
		attribute.Int("tab_id", req.TabID),
		attribute.Int("content_length", len(req.Content)),
	))
	defer span.End()

	start := time.Now()
	mode := e.registry.Mode()

	if req.Skipped {
		v := skippedVerdict(mode, "Page type is not scanned.")
		e.persist(req.TabID, req.URL, v)
		e.record(mode, v, start, true)
		return v
	}

	if len(req.Content) < e.cfg.MinContentLength {
		v := skippedVerdict(mode, "Not enough content to scan.")
		v.ContentLength = len(req.Content)
		e.persist(req.TabID, req.URL, v)
		e.record(mode, v, start, true)
		return v
	}

	if reason, ignored := e.ignoreReason(req.URL); ignored {
		span.SetAttributes(attribute.Bool("ignored", true))
		v := datatypes.Verdict{
			IsMalicious:   false,
			Analysis:      reason,
			Judgment:      "IGNORED",
			Method:        datatypes.MethodIgnored,
			Mode:          mode,
			ContentLength: len(req.Content),
		}
		e.persist(req.TabID, req.URL, v)
		e.record(mode, v, start, true)
		return v
	}

	// Cache lookup and task preemption share one critical section so
	// a concurrent duplicate cannot slip between the check and the
	// register.
	e.mu.Lock()
	key := e.cache.key(req.TabID, req.URL, req.Content)
	if v, ok := e.cache.get(key, len(req.Content)); ok {
		e.mu.Unlock()
		e.metrics.RecordCacheLookup(true)
		span.SetAttributes(attribute.Bool("cache_hit", true))
		e.persist(req.TabID, req.URL, v)
		return v
	}
	preempted := e.tasks.preempt(req.TabID)
	taskCtx, cancelTask := context.WithCancel(context.WithoutCancel(ctx))
	task := &analysisTask{
		tabID:     req.TabID,
		url:       req.URL,
		token:     &CancelToken{},
		startedAt: start,
		cancelCtx: cancelTask,
	}
	e.tasks.register(task)
	e.mu.Unlock()
	defer cancelTask()

	e.metrics.RecordCacheLookup(false)
	if preempted {
		slog.Debug("Superseded live scan for tab", "tab_id", req.TabID)
	}
	e.metrics.TaskStarted()
	defer e.metrics.TaskEnded()

	strategy := e.registry.Active()
	if strategy == nil {
		v := backstopVerdict(mode, len(req.Content), errors.New("no detection strategy active"))
		e.finishTask(task)
		e.persist(req.TabID, req.URL, v)
		e.record(mode, v, start, false)
		return v
	}

	verdict, err, timedOut := withTimeout(taskCtx, e.cfg.OverallTimeout, func(c context.Context) (datatypes.Verdict, error) {
		return strategy.Analyze(c, req.Content, req.URL)
	})

	if timedOut {
		v := datatypes.Verdict{
			IsMalicious:   false,
			Analysis:      fmt.Sprintf("Analysis timed out after %s.", e.cfg.OverallTimeout),
			Judgment:      "TIMEOUT",
			Method:        datatypes.MethodTimeout,
			Mode:          mode,
			ContentLength: len(req.Content),
		}
		e.finishTask(task)
		if !task.token.Cancelled() {
			e.persist(req.TabID, req.URL, v)
		}
		e.record(mode, v, start, false)
		slog.Warn("Scan exceeded overall budget", "tab_id", req.TabID, "budget", e.cfg.OverallTimeout)
		return v
	}

	if err != nil {
		// Strategies convert their own failures; a non-nil error here
		// means one slipped through. Backstop it.
		span.RecordError(err)
		e.metrics.RecordStrategyError(strategy.Mode())
		slog.Error("Strategy returned an unconverted error", "mode", strategy.Mode(), "error", err)
		verdict = backstopVerdict(mode, len(req.Content), err)
	}

	// Cancellation check point: after the strategy returns, before any
	// cache or status write. A superseded or navigated-away task
	// discards its result silently.
	e.mu.Lock()
	stillLive := e.tasks.complete(task)
	cancelled := task.token.Cancelled()
	cached := false
	if stillLive && !cancelled && verdict.Method.Conclusive() {
		if e.cache.put(key, verdict) {
			e.metrics.RecordCacheEviction()
		}
		cached = true
	}
	e.mu.Unlock()

	if !stillLive || cancelled {
		slog.Debug("Discarding cancelled scan result", "tab_id", req.TabID, "url", req.URL)
		return verdict
	}

	e.persist(req.TabID, req.URL, verdict)
	e.record(mode, verdict, start, err == nil && verdict.Method != datatypes.MethodError)
	span.SetAttributes(
		attribute.Bool("malicious", verdict.IsMalicious),
		attribute.String("method", string(verdict.Method)),
		attribute.Bool("cached", cached),
	)
	return verdict
}

// finishTask removes the task from the live table if still current.
func (e *Engine) finishTask(task *analysisTask) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tasks.complete(task)
}

// persist writes the verdict as the tab's current status with its
// derived badge. Storage failures are logged, never surfaced as scan
// failures.
func (e *Engine) persist(tabID int, pageURL string, v datatypes.Verdict) {
	status := datatypes.NewPersistedStatus(v, pageURL, time.Now())
	if err := e.store.SaveStatus(tabID, status); err != nil {
		slog.Error("Failed to persist scan status", "tab_id", tabID, "error", err)
	}
}

// record emits the audit log line and metrics for a completed scan.
// Content is never logged.
func (e *Engine) record(mode string, v datatypes.Verdict, start time.Time, success bool) {
	elapsed := time.Since(start)
	e.metrics.RecordScan(mode, string(v.Method), elapsed.Seconds(), success)
	e.audit.Info("Scan complete",
		"mode", mode,
		"method", string(v.Method),
		"duration_ms", elapsed.Milliseconds(),
		"malicious", v.IsMalicious,
		"content_length", v.ContentLength,
	)
}

// Status returns the tab's persisted status, or the placeholder when
// no scan has run since the last navigation.
func (e *Engine) Status(tabID int) datatypes.PersistedStatus {
	status, err := e.store.LoadStatus(tabID)
	if errors.Is(err, storage.ErrNotFound) {
		return datatypes.PlaceholderStatus()
	}
	if err != nil {
		slog.Error("Failed to load scan status", "tab_id", tabID, "error", err)
		return datatypes.PlaceholderStatus()
	}
	return status
}

// ChangeMode hot-swaps the active strategy, clears the verdict cache,
// and persists the new mode.
func (e *Engine) ChangeMode(ctx context.Context, mode string) error {
	if err := e.registry.SetMode(ctx, mode); err != nil {
		return err
	}
	e.mu.Lock()
	e.cache.clear()
	e.mu.Unlock()
	if err := e.store.SaveMode(mode); err != nil {
		slog.Error("Failed to persist detection mode", "mode", mode, "error", err)
	}
	return nil
}

// Mode returns the active detection mode name.
func (e *Engine) Mode() string {
	return e.registry.Mode()
}

// ClearTabCache purges cache entries scoped to a tab and returns the
// count cleared.
func (e *Engine) ClearTabCache(tabID int) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.clearTab(tabID)
}

// Navigate handles a navigation-start event: the live task is
// cancelled and the persisted status cleared. The verdict cache is
// preserved so revisiting an unchanged URL reuses its verdict.
func (e *Engine) Navigate(tabID int) {
	e.mu.Lock()
	e.tasks.preempt(tabID)
	e.mu.Unlock()
	if err := e.store.DeleteStatus(tabID); err != nil {
		slog.Error("Failed to clear status on navigation", "tab_id", tabID, "error", err)
	}
}

// CloseTab handles a tab-close event: live task cancelled, status
// cleared, and tab-scoped cache entries purged.
func (e *Engine) CloseTab(tabID int) {
	e.mu.Lock()
	e.tasks.preempt(tabID)
	e.cache.clearTab(tabID)
	e.mu.Unlock()
	if err := e.store.DeleteStatus(tabID); err != nil {
		slog.Error("Failed to clear status on tab close", "tab_id", tabID, "error", err)
	}
}

// Rules returns the ignore rules ordered by creation time.
func (e *Engine) Rules() []datatypes.IgnoreRule {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ruleSnapshotLocked()
}

// AddRule validates and inserts an ignore rule. Duplicate
// (pattern, type) pairs are rejected.
func (e *Engine) AddRule(rule datatypes.IgnoreRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.AddedAt == 0 {
		rule.AddedAt = time.Now().UnixMilli()
	}
	e.mu.Lock()
	if _, exists := e.rules[rule.Key()]; exists {
		e.mu.Unlock()
		return ErrDuplicateRule
	}
	e.rules[rule.Key()] = rule
	snapshot := e.ruleSnapshotLocked()
	e.mu.Unlock()

	return e.saveRules(snapshot)
}

// RemoveRule deletes an ignore rule by pattern and type.
func (e *Engine) RemoveRule(pattern string, ruleType datatypes.RuleType) error {
	probe := datatypes.IgnoreRule{Pattern: pattern, Type: ruleType}
	if err := probe.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	if _, exists := e.rules[probe.Key()]; !exists {
		e.mu.Unlock()
		return ErrRuleNotFound
	}
	delete(e.rules, probe.Key())
	snapshot := e.ruleSnapshotLocked()
	e.mu.Unlock()

	return e.saveRules(snapshot)
}

func (e *Engine) ruleSnapshotLocked() []datatypes.IgnoreRule {
	out := make([]datatypes.IgnoreRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AddedAt < out[j].AddedAt })
	return out
}

func (e *Engine) saveRules(rules []datatypes.IgnoreRule) error {
	if err := e.store.SaveRules(rules); err != nil {
		return fmt.Errorf("engine: persist ignore rules: %w", err)
	}
	return nil
}

// ignoreReason evaluates the always-on rules and the user ignore list
// against the URL. It returns a human-readable reason when ignored.
func (e *Engine) ignoreReason(rawURL string) (string, bool) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	if strings.EqualFold(parsed.Scheme, ignoredScheme) {
		return "Internal pages are not scanned.", true
	}
	host := strings.ToLower(parsed.Hostname())
	if e.cfg.OwnHost != "" && host == strings.ToLower(e.cfg.OwnHost) {
		return "The scanner's own pages are not scanned.", true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rule := range e.rules {
		if rule.Matches(rawURL, host) {
			return fmt.Sprintf("URL matches ignore rule (%s).", rule.Pattern), true
		}
	}
	return "", false
}

func skippedVerdict(mode, analysis string) datatypes.Verdict {
	return datatypes.Verdict{
		IsMalicious:   false,
		Analysis:      analysis,
		Judgment:      "SKIPPED",
		Method:        datatypes.MethodSkipped,
		Mode:          mode,
		ContentLength: 0,
	}
}

// backstopVerdict converts an escaped strategy error into a Verdict.
// Timeout-flavored error text maps to the timeout method so the UI
// can distinguish a slow model from a broken one.
func backstopVerdict(mode string, contentLength int, err error) datatypes.Verdict {
	method := datatypes.MethodError
	judgment := "ERROR"
	msg := err.Error()
	if strings.Contains(msg, "timed out") || strings.Contains(msg, "deadline exceeded") {
		method = datatypes.MethodTimeout
		judgment = "TIMEOUT"
	}
	return datatypes.Verdict{
		IsMalicious:   false,
		Analysis:      "Analysis failed: " + msg,
		Judgment:      judgment,
		Method:        method,
		Mode:          mode,
		ContentLength: contentLength,
	}
}
