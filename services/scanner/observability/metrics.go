// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the scanner.
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	metricsNamespace = "pagesentry"
	scannerSubsystem = "scanner"
)

// ScanMetrics holds all Prometheus metrics for scan operations.
// Initialize once at startup via InitMetrics.
type ScanMetrics struct {
	// ScansTotal counts completed scans.
	// Labels: mode (pattern, quickscan, everyday, cloud, compatibility),
	// method (ai, pattern, cloud-vertex-ai, masked_local, skipped,
	// ignored, timeout, error, quota-error).
	ScansTotal *prometheus.CounterVec

	// ScanDurationSeconds measures wall-clock scan duration.
	// Labels: mode, status (success, error).
	ScanDurationSeconds *prometheus.HistogramVec

	// LiveTasks tracks analysis tasks currently in flight.
	LiveTasks prometheus.Gauge

	// CacheHitsTotal and CacheMissesTotal count verdict cache lookups.
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter

	// CacheEvictionsTotal counts wholesale cache clears by the sweeper.
	CacheEvictionsTotal prometheus.Counter

	// StrategyErrorsTotal counts strategy failures by mode.
	StrategyErrorsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *ScanMetrics

// InitMetrics creates and registers all scanner metrics. Call once at
// startup; a second call panics on duplicate registration.
func InitMetrics() *ScanMetrics {
	DefaultMetrics = &ScanMetrics{
		ScansTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: scannerSubsystem,
				Name:      "scans_total",
				Help:      "Total completed scans by mode and verdict method",
			},
			[]string{"mode", "method"},
		),

		ScanDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: scannerSubsystem,
				Name:      "scan_duration_seconds",
				Help:      "Wall-clock scan duration in seconds",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"mode", "status"},
		),

		LiveTasks: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: scannerSubsystem,
				Name:      "live_tasks",
				Help:      "Number of analysis tasks currently in flight",
			},
		),

		CacheHitsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: scannerSubsystem,
				Name:      "cache_hits_total",
				Help:      "Verdict cache hits",
			},
		),

		CacheMissesTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: scannerSubsystem,
				Name:      "cache_misses_total",
				Help:      "Verdict cache misses",
			},
		),

		CacheEvictionsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: scannerSubsystem,
				Name:      "cache_evictions_total",
				Help:      "Wholesale verdict cache clears",
			},
		),

		StrategyErrorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: scannerSubsystem,
				Name:      "strategy_errors_total",
				Help:      "Strategy failures by mode",
			},
			[]string{"mode"},
		),
	}
	return DefaultMetrics
}

// RecordScan records a completed scan.
func (m *ScanMetrics) RecordScan(mode, method string, seconds float64, success bool) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.ScansTotal.WithLabelValues(mode, method).Inc()
	m.ScanDurationSeconds.WithLabelValues(mode, status).Observe(seconds)
}

// TaskStarted increments the live task gauge.
func (m *ScanMetrics) TaskStarted() {
	if m != nil {
		m.LiveTasks.Inc()
	}
}

// TaskEnded decrements the live task gauge.
func (m *ScanMetrics) TaskEnded() {
	if m != nil {
		m.LiveTasks.Dec()
	}
}

// RecordCacheLookup records a verdict cache hit or miss.
func (m *ScanMetrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

// RecordCacheEviction records a wholesale cache clear.
func (m *ScanMetrics) RecordCacheEviction() {
	if m != nil {
		m.CacheEvictionsTotal.Inc()
	}
}

// RecordStrategyError records a strategy failure.
func (m *ScanMetrics) RecordStrategyError(mode string) {
	if m != nil {
		m.StrategyErrorsTotal.WithLabelValues(mode).Inc()
	}
}
