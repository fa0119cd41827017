// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the scanner service.
//
// This file contains the Verdict record, the immutable outcome of one
// content analysis, and the per-tab status wrapper persisted around it.
package datatypes

import (
	"strings"
	"time"
)

// Method identifies how a Verdict was produced.
//
// The method is part of the wire and storage format: consumers use it to
// distinguish a real clean verdict from an inconclusive one (timeout,
// error, skipped), so failure paths must never reuse MethodAI.
type Method string

const (
	// MethodAI marks verdicts produced by a local model strategy.
	MethodAI Method = "ai"

	// MethodPattern marks verdicts from the regex signature fallback.
	MethodPattern Method = "pattern"

	// MethodCloud marks verdicts returned by the remote scanner API.
	MethodCloud Method = "cloud-vertex-ai"

	// MethodMaskedLocal marks compatibility-mode verdicts where content
	// was only PII-masked locally and no threat determination was made.
	MethodMaskedLocal Method = "masked_local"

	// MethodSkipped marks pages the caller or engine declined to scan.
	MethodSkipped Method = "skipped"

	// MethodIgnored marks pages excluded by a user ignore rule.
	MethodIgnored Method = "ignored"

	// MethodTimeout marks analyses that exceeded the overall budget.
	MethodTimeout Method = "timeout"

	// MethodError marks analyses that failed; always isMalicious=false.
	MethodError Method = "error"

	// MethodQuotaError marks remote analyses rejected with HTTP 429.
	MethodQuotaError Method = "quota-error"
)

// Conclusive reports whether the verdict represents a completed threat
// determination, as opposed to a skip, failure, or masking-only pass.
func (m Method) Conclusive() bool {
	switch m {
	case MethodAI, MethodPattern, MethodCloud:
		return true
	default:
		return false
	}
}

// QuotaInfo carries remote rate-limit metadata from an HTTP 429 response.
type QuotaInfo struct {
	Limit     int    `json:"limit,omitempty"`
	Used      int    `json:"used,omitempty"`
	ResetsAt  string `json:"resetsAt,omitempty"`
	Plan      string `json:"plan,omitempty"`
	RetryHint string `json:"retryHint,omitempty"`
}

// Verdict is the immutable result of one content analysis.
//
// A Verdict is produced exactly once per completed analysis and never
// mutated afterwards; identity is structural. Failure verdicts always set
// IsMalicious=false and a non-conclusive Method so the UI can surface
// "scan inconclusive" distinctly from "clean".
type Verdict struct {
	IsMalicious   bool       `json:"isMalicious"`
	Analysis      string     `json:"analysis"`
	Judgment      string     `json:"judgment"`
	Method        Method     `json:"method"`
	Mode          string     `json:"mode,omitempty"`
	ContentLength int        `json:"contentLength"`
	MaskedContent string     `json:"maskedContent,omitempty"`
	Quota         *QuotaInfo `json:"quota,omitempty"`
}

// Badge is the toolbar rendering state derived from a Verdict.
type Badge struct {
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
	Icon  string `json:"icon"`
}

const (
	BadgeColorDanger = "#DC2626"

	IconSafe     = "safe"
	IconDanger   = "danger"
	IconScanning = "scanning"
)

// BadgeFor computes the badge state for a verdict.
//
// Malicious verdicts get the "!" badge on red with the danger icon;
// everything else clears the badge.
func BadgeFor(v Verdict) Badge {
	if v.IsMalicious {
		return Badge{Text: "!", Color: BadgeColorDanger, Icon: IconDanger}
	}
	return Badge{Text: "", Icon: IconSafe}
}

// PersistedStatus is the per-tab detection record stored under
// "detection_<tabId>". It is overwritten on every new Verdict and removed
// on navigation-start and tab close.
type PersistedStatus struct {
	Result    Verdict `json:"result"`
	URL       string  `json:"url"`
	Timestamp int64   `json:"timestamp"`
	Badge     Badge   `json:"badge"`
}

// NewPersistedStatus builds the status record written after an analysis.
func NewPersistedStatus(v Verdict, url string, now time.Time) PersistedStatus {
	return PersistedStatus{
		Result:    v,
		URL:       url,
		Timestamp: now.UnixMilli(),
		Badge:     BadgeFor(v),
	}
}

// PlaceholderStatus is returned by getStatus when no scan has completed
// for the tab since its last navigation.
func PlaceholderStatus() PersistedStatus {
	return PersistedStatus{
		Result: Verdict{
			IsMalicious: false,
			Analysis:    "No scan performed yet",
		},
		Badge: Badge{Icon: IconSafe},
	}
}

// DetailPayload is the detail-view document derived from a stored Verdict.
// It is what a popup or detail tab receives, URL-encoded, to render the
// full explanation.
type DetailPayload struct {
	Summary        string   `json:"summary"`
	Details        []string `json:"details"`
	Recommendation string   `json:"recommendation"`
	Method         Method   `json:"method"`
	ContentLength  int      `json:"contentLength"`
	URL            string   `json:"url"`
	Timestamp      int64    `json:"timestamp"`
}

// DetailFromStatus splits a judge-style analysis into the detail payload
// shape: first non-empty line becomes the summary, "- " or "* " bullet
// lines become details, and a **bolded** line becomes the recommendation.
func DetailFromStatus(st PersistedStatus) DetailPayload {
	payload := DetailPayload{
		Method:        st.Result.Method,
		ContentLength: st.Result.ContentLength,
		URL:           st.URL,
		Timestamp:     st.Timestamp,
	}
	for _, raw := range strings.Split(st.Result.Analysis, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* "):
			payload.Details = append(payload.Details, strings.TrimSpace(line[2:]))
		case strings.HasPrefix(line, "**") && strings.HasSuffix(line, "**") && len(line) > 4:
			payload.Recommendation = strings.TrimSpace(strings.Trim(line, "*"))
		case payload.Summary == "":
			payload.Summary = line
		}
	}
	if payload.Summary == "" {
		payload.Summary = st.Result.Judgment
	}
	return payload
}
