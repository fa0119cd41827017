// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Request and response types for the scanner HTTP surface.
package datatypes

// MaxContentBytes is the maximum accepted page content size per request.
// Larger payloads are rejected at the handler boundary to bound memory,
// independent of the per-strategy context trimming.
const MaxContentBytes = 512 * 1024 // 512KB

// AnalyzeRequest is the analyzeContent message: extracted page text plus
// the tab identity it was captured from.
type AnalyzeRequest struct {
	TabID   int    `json:"tab_id" binding:"required,min=1"`
	URL     string `json:"url" binding:"required,url"`
	Content string `json:"content"`

	// Skipped is set by the caller when the page type should never be
	// scanned (for example an inbox list view detected client-side).
	Skipped bool `json:"skipped"`
}

// ChangeModeRequest selects the active detection strategy.
type ChangeModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

// ChangeModeResponse acknowledges a mode switch.
type ChangeModeResponse struct {
	Success bool   `json:"success"`
	Mode    string `json:"mode"`
}

// ClearCacheResponse reports how many cache entries were purged.
type ClearCacheResponse struct {
	Cleared int `json:"cleared"`
}

// NavigateRequest is the navigation-start notification for a tab.
type NavigateRequest struct {
	URL string `json:"url" binding:"required,url"`
}

// AddRuleRequest adds a user ignore rule.
type AddRuleRequest struct {
	Pattern string `json:"pattern" binding:"required"`
	Type    string `json:"type" binding:"required,oneof=url domain"`
}
