// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package modes implements the pluggable detection strategies and the
// registry that hot-swaps them when the user changes mode.
//
// Every strategy follows the same contract: Initialize acquires whatever
// model sessions the strategy needs (llm.ErrUnavailable means the mode
// cannot run on this host), and Analyze turns page content into exactly
// one Verdict. Expected failures (model timeout, remote error, quota) are
// converted into error-method Verdicts inside the strategy; a non-nil
// error from Analyze is reserved for bugs and is backstopped by the
// engine.
package modes

import (
	"context"
	"strings"

	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
)

// Mode names accepted by changeMode.
const (
	ModePattern       = "pattern"
	ModeQuickScan     = "quickscan"
	ModeEveryday      = "everyday"
	ModeCloud         = "cloud"
	ModeCompatibility = "compatibility"
)

// Strategy is one detection algorithm bound to a mode.
type Strategy interface {
	// Mode returns the mode name this strategy serves.
	Mode() string

	// Initialize acquires model sessions or remote handles. It returns
	// an error wrapping llm.ErrUnavailable when the backing model is not
	// present on this host; the registry then degrades to pattern mode.
	Initialize(ctx context.Context) error

	// Analyze classifies the content and returns a Verdict. Content may
	// exceed the strategy's context budget; implementations truncate
	// deterministically with an explicit marker before submission.
	Analyze(ctx context.Context, content, url string) (datatypes.Verdict, error)
}

// truncationMarker is appended whenever content is cut to fit a model
// context budget. Content is never silently shortened.
const truncationMarker = "\n\n[Content truncated due to length]"

// trimContent returns at most maxChars leading bytes of content, with the
// truncation marker appended when anything was dropped.
func trimContent(content string, maxChars int) string {
	if len(content) <= maxChars {
		return content
	}
	return content[:maxChars] + truncationMarker
}

// firstLine returns the first non-empty line of a model reply with
// markdown emphasis stripped and surrounding space trimmed.
func firstLine(reply string) string {
	for _, raw := range strings.Split(reply, "\n") {
		line := strings.TrimSpace(raw)
		line = strings.Trim(line, "*_#` ")
		if line != "" {
			return line
		}
	}
	return ""
}

// verdictStartsWith reports whether the first line of the reply begins
// with the given keyword, case-insensitively. Deriving the verdict from
// the first line only avoids false positives from the keyword appearing
// inside explanatory prose.
func verdictStartsWith(reply, keyword string) bool {
	return strings.HasPrefix(strings.ToUpper(firstLine(reply)), strings.ToUpper(keyword))
}

// unavailableVerdict is the shared Verdict for strategies whose model
// session was never initialized.
func unavailableVerdict(mode string, contentLength int) datatypes.Verdict {
	return datatypes.Verdict{
		IsMalicious:   false,
		Analysis:      "AI detection unavailable. No model backend is configured on this device.",
		Judgment:      "ERROR",
		Method:        datatypes.MethodError,
		Mode:          mode,
		ContentLength: contentLength,
	}
}

// errorVerdict converts a strategy failure into the uniform error shape.
// Failure always reads as not-malicious with a distinct method so the UI
// can surface that scanning was inconclusive.
func errorVerdict(mode string, contentLength int, err error) datatypes.Verdict {
	analysis := "Analysis failed, defaulting to safe."
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "timed out") ||
			strings.Contains(strings.ToLower(err.Error()), "deadline exceeded") {
			analysis = "AI analysis timed out. The model may still be loading or is overloaded."
		} else {
			analysis = "AI analysis error: " + err.Error()
		}
	}
	return datatypes.Verdict{
		IsMalicious:   false,
		Analysis:      analysis,
		Judgment:      "ERROR",
		Method:        datatypes.MethodError,
		Mode:          mode,
		ContentLength: contentLength,
	}
}
