// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package modes

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pagesentry/pagesentry/services/llm"
	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
)

const (
	compatMaxChars = 2000
	compatTimeout  = 30 * time.Second
)

const maskerSystemPrompt = `You are a privacy filter. Your ONLY goal is to mask Personally Identifiable Information (PII) from the provided web content.

Instructions:
1. Identify PII: names, phone numbers, email addresses, physical addresses, credit card numbers, SSNs.
2. Replace PII with [REDACTED].
3. PRESERVE the structural context (HTML tags, JSON structure, general sentence meaning) so it can be analyzed remotely later.
4. Return the masked text.

Example:
Input: "Contact John Doe at 555-0199 or john@example.com."
Output: "Contact [REDACTED] at [REDACTED] or [REDACTED]."`

// CompatibilityStrategy is the low-resource mode: a single lightweight
// session produces a PII-masked transcript of the content and makes no
// threat determination locally. The verdict is always not-malicious with
// the distinct COMPATIBILITY_MODE judgment so the UI never presents it as
// a real clean scan.
type CompatibilityStrategy struct {
	provider llm.Provider
	session  llm.Session
}

func NewCompatibilityStrategy(provider llm.Provider) *CompatibilityStrategy {
	return &CompatibilityStrategy{provider: provider}
}

func (s *CompatibilityStrategy) Mode() string { return ModeCompatibility }

func (s *CompatibilityStrategy) Initialize(ctx context.Context) error {
	if s.provider == nil {
		return fmt.Errorf("compatibility: no model provider: %w", llm.ErrUnavailable)
	}
	session, err := s.provider.NewSession(ctx, llm.SessionConfig{
		SystemPrompt: maskerSystemPrompt,
		Temperature:  0.3,
		TopK:         10,
	})
	if err != nil {
		return fmt.Errorf("compatibility: failed to create masking session: %w", err)
	}
	s.session = session
	slog.Info("Compatibility mode initialized", "backend", s.provider.Name())
	return nil
}

func (s *CompatibilityStrategy) Analyze(ctx context.Context, content, url string) (datatypes.Verdict, error) {
	if s.session == nil {
		return unavailableVerdict(ModeCompatibility, len(content)), nil
	}

	trimmed := trimContent(content, compatMaxChars)
	prompt := fmt.Sprintf("Mask PII in this content:\nURL: %s\n\n%s", url, trimmed)

	callCtx, cancel := context.WithTimeout(ctx, compatTimeout)
	defer cancel()

	masked, err := s.session.Prompt(callCtx, prompt)
	if err != nil {
		slog.Error("Compatibility masking failed", "url", url, "error", err)
		return datatypes.Verdict{
			IsMalicious:   false,
			Analysis:      "Masking failed. Defaulting to safe.",
			Judgment:      "ERROR",
			Method:        datatypes.MethodError,
			Mode:          ModeCompatibility,
			ContentLength: len(content),
		}, nil
	}

	return datatypes.Verdict{
		IsMalicious:   false,
		Analysis:      "Content has been locally masked for privacy. Ready for remote analysis.",
		Judgment:      "COMPATIBILITY_MODE",
		Method:        datatypes.MethodMaskedLocal,
		Mode:          ModeCompatibility,
		ContentLength: len(content),
		MaskedContent: masked,
	}, nil
}
