// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package modes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pagesentry/pagesentry/services/llm"
	"github.com/pagesentry/pagesentry/services/redact"
)

// Registry holds the active detection strategy and hot-swaps it on a
// user-requested mode change. Swapping re-initializes model sessions and
// fires the swap hook so the engine can invalidate its verdict cache.
//
// When an AI mode's backend is unavailable the registry degrades to the
// pattern strategy while remembering the requested mode, so the service
// keeps scanning instead of going dark.
type Registry struct {
	provider llm.Provider
	redactor *redact.Redactor
	cloudCfg CloudConfig

	// onSwap is invoked after a successful mode change, outside the lock.
	onSwap func(mode string)

	mu        sync.RWMutex
	requested string
	active    Strategy
}

// NewRegistry creates a registry with no active strategy; call SetMode to
// activate one. provider may be nil (no model backend on this host).
func NewRegistry(provider llm.Provider, redactor *redact.Redactor, cloudCfg CloudConfig, onSwap func(mode string)) *Registry {
	return &Registry{
		provider: provider,
		redactor: redactor,
		cloudCfg: cloudCfg,
		onSwap:   onSwap,
	}
}

// KnownMode reports whether the mode name is one the registry can build.
func KnownMode(mode string) bool {
	switch mode {
	case ModePattern, ModeQuickScan, ModeEveryday, ModeCloud, ModeCompatibility:
		return true
	default:
		return false
	}
}

// SetMode builds, initializes, and activates the strategy for the mode.
//
// An unavailable model backend is not an error: the registry falls back
// to the pattern strategy and records the requested mode. Any other
// initialization failure leaves the previous strategy active.
func (r *Registry) SetMode(ctx context.Context, mode string) error {
	if !KnownMode(mode) {
		return fmt.Errorf("unknown detection mode %q", mode)
	}

	strategy, err := r.build(mode)
	if err != nil {
		return err
	}

	if err := strategy.Initialize(ctx); err != nil {
		if !errors.Is(err, llm.ErrUnavailable) {
			return fmt.Errorf("failed to initialize %s mode: %w", mode, err)
		}
		slog.Warn("Model backend unavailable, falling back to pattern mode",
			"requested_mode", mode, "error", err)
		fallback, buildErr := NewPatternStrategy()
		if buildErr != nil {
			return fmt.Errorf("failed to build pattern fallback: %w", buildErr)
		}
		strategy = fallback
	}

	r.mu.Lock()
	r.requested = mode
	r.active = strategy
	r.mu.Unlock()

	slog.Info("Detection mode changed", "mode", mode, "strategy", strategy.Mode())
	if r.onSwap != nil {
		r.onSwap(mode)
	}
	return nil
}

// Active returns the current strategy, or nil before the first SetMode.
func (r *Registry) Active() Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Mode returns the last successfully requested mode name.
func (r *Registry) Mode() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.requested
}

func (r *Registry) build(mode string) (Strategy, error) {
	switch mode {
	case ModePattern:
		return NewPatternStrategy()
	case ModeQuickScan:
		return NewQuickScanStrategy(r.provider), nil
	case ModeEveryday:
		return NewEverydayStrategy(r.provider), nil
	case ModeCloud:
		return NewCloudStrategy(r.cloudCfg, r.redactor), nil
	case ModeCompatibility:
		return NewCompatibilityStrategy(r.provider), nil
	default:
		return nil, fmt.Errorf("unknown detection mode %q", mode)
	}
}
