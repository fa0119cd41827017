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
	quickScanMaxChars = 3000
	quickScanTimeout  = 30 * time.Second
)

// quickScanSystemPrompt is the consumer-protection instruction for the
// single-stage strategy. Prompt wording is tunable policy, not algorithm.
const quickScanSystemPrompt = `You are a security assistant protecting everyday web users from scams and phishing on websites.

CRITICAL: If you see ANY of these indicators, respond SAFE immediately:
- Multiple email subjects or senders listed (inbox or list view)
- Words like "Inbox", "Promotions", "Social", "Primary" tabs
- Email counts like "1-25 of 9,427" or message pagination
- Navigation sidebars with folders (Inbox, Sent, Drafts, Spam)
- Multiple conversations or threads visible at once
- Any legitimate email service interface

These are EMAIL PLATFORMS, not threats. The user is browsing their mail, not viewing a scam.

ONLY flag individual pages that are trying to trick the user directly RIGHT NOW and contain actual scam content requesting action, such as fake virus pop-ups with phone numbers, fake login pages imitating banks, standalone prize scams, fake delivery-fee pages, or tech support scam landing pages.

Default to SAFE. Be extremely conservative on email platforms.

You must ALWAYS provide a judgment based on the content you can see, even if it is truncated.

Respond with: SAFE or THREAT followed by brief explanation.`

// QuickScanStrategy is the single-stage AI strategy: one session, one
// closed-form question, verdict parsed from the first token of the reply.
type QuickScanStrategy struct {
	provider llm.Provider
	session  llm.Session
}

func NewQuickScanStrategy(provider llm.Provider) *QuickScanStrategy {
	return &QuickScanStrategy{provider: provider}
}

func (s *QuickScanStrategy) Mode() string { return ModeQuickScan }

func (s *QuickScanStrategy) Initialize(ctx context.Context) error {
	if s.provider == nil {
		return fmt.Errorf("quickscan: no model provider: %w", llm.ErrUnavailable)
	}
	session, err := s.provider.NewSession(ctx, llm.SessionConfig{
		SystemPrompt: quickScanSystemPrompt,
		Temperature:  0.2,
		TopK:         15,
	})
	if err != nil {
		return fmt.Errorf("quickscan: failed to create session: %w", err)
	}
	s.session = session
	slog.Info("Quickscan mode initialized", "backend", s.provider.Name())
	return nil
}

func (s *QuickScanStrategy) Analyze(ctx context.Context, content, url string) (datatypes.Verdict, error) {
	if s.session == nil {
		return unavailableVerdict(ModeQuickScan, len(content)), nil
	}

	trimmed := trimContent(content, quickScanMaxChars)
	prompt := fmt.Sprintf("Analyze this web page content for scams, phishing, or suspicious activity that could harm everyday users:\n\n%s\n\nBased on what you see above, is this page SAFE or a THREAT? You must choose one.", trimmed)

	callCtx, cancel := context.WithTimeout(ctx, quickScanTimeout)
	defer cancel()

	response, err := s.session.Prompt(callCtx, prompt)
	if err != nil {
		slog.Error("Quickscan analysis failed", "url", url, "error", err)
		return errorVerdict(ModeQuickScan, len(content), err), nil
	}

	isThreat := verdictStartsWith(response, "THREAT")
	judgment := "SAFE"
	if isThreat {
		judgment = "THREAT"
		slog.Info("Quickscan threat detected", "url", url, "content_length", len(content))
	}

	return datatypes.Verdict{
		IsMalicious:   isThreat,
		Analysis:      response,
		Judgment:      judgment,
		Method:        datatypes.MethodAI,
		Mode:          ModeQuickScan,
		ContentLength: len(content),
	}, nil
}
