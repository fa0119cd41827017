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
	"strings"
	"time"

	"github.com/pagesentry/pagesentry/services/llm"
	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
)

const (
	everydayMaxChars       = 5000
	everydayStageTimeout   = 30 * time.Second
	everydayJudgeTimeout   = 15 * time.Second
	classificationInbox    = "INBOX"
	classificationSafe     = "SAFE"
	classificationScam     = "SCAM"
	judgeVerdictThreat     = "THREAT"
)

// analyzerSystemPrompt primes the cheap triage stage. Few-shot examples
// are embedded so a small model answers with one classification word.
const analyzerSystemPrompt = `You are a triage classifier protecting everyday web users. Classify web page content into exactly one category. Respond with ONE word on the first line: INBOX, SAFE, or SCAM.

INBOX: the content is an email platform list view. Indicators: multiple distinct sender names or subjects listed together, folder navigation (Inbox, Sent, Drafts, Spam), tabs like Promotions or Social, pagination like "1-25 of 9,427". An inbox is never a threat even if individual subject lines look spammy.

SAFE: ordinary single-item content. News articles, shops, documentation, blogs, a normal email opened in full view.

SCAM: a single page or message that is trying to trick the reader right now. Urgency, prizes, payment demands, gift cards, fake virus warnings, login pages imitating known brands.

Examples:
Content: "Primary Social Promotions 1-50 of 12,204 Amazon Your order shipped Netflix New sign-in PayPal Receipt"
INBOX

Content: "BBC News. Prime Minister announces policy changes in Parliament today."
SAFE

Content: "URGENT! You've won $5000! Pay $50 processing fee via gift card to claim."
SCAM

After the classification word you may add one short line of reasoning.`

// judgeSystemPrompt drives the strict confirmation stage. Only content
// the analyzer already flagged as SCAM reaches it.
const judgeSystemPrompt = `You are a senior fraud analyst giving a second opinion on content a triage system flagged as a possible scam. Apply strict rules:

- Sender domain legitimacy: a real company writes from its own domain; lookalike or free-mail domains are a red flag.
- Urgency and deadlines: "act now", "within 24 hours", threatened account closure.
- Payment red flags: gift cards, wire transfer, crypto, "processing fees" to receive money.
- Isolation tactics: "don't tell anyone", "keep this confidential".

Content that merely mentions scams, reports on fraud, or sells ordinary goods is SAFE.

Respond in this exact structure:
Line 1: THREAT or SAFE (one word, nothing else on the line)
Line 2: a one-line summary of what the content is
Then: bullet red-flags, one per line, each starting with "- "
Last line: a recommendation in bold, like **Do not enter payment details on this page.**`

// EverydayStrategy is the two-stage analyzer+judge strategy and the
// default detection mode.
//
// Stage 1 is a cheap, high-recall triage: INBOX and SAFE classifications
// short-circuit without a second model call, which keeps the dominant
// benign traffic to one inference and suppresses the inbox-list false
// positive class. Only a SCAM classification escalates to the judge, a
// separately-initialized session with stricter instructions that renders
// the final verdict. The threat decision is derived from the first line
// of the judge's reply only.
type EverydayStrategy struct {
	provider llm.Provider
	analyzer llm.Session
	judge    llm.Session
}

func NewEverydayStrategy(provider llm.Provider) *EverydayStrategy {
	return &EverydayStrategy{provider: provider}
}

func (s *EverydayStrategy) Mode() string { return ModeEveryday }

func (s *EverydayStrategy) Initialize(ctx context.Context) error {
	if s.provider == nil {
		return fmt.Errorf("everyday: no model provider: %w", llm.ErrUnavailable)
	}
	analyzer, err := s.provider.NewSession(ctx, llm.SessionConfig{
		SystemPrompt: analyzerSystemPrompt,
		Temperature:  0.2,
		TopK:         15,
	})
	if err != nil {
		return fmt.Errorf("everyday: failed to create analyzer session: %w", err)
	}
	judge, err := s.provider.NewSession(ctx, llm.SessionConfig{
		SystemPrompt: judgeSystemPrompt,
		Temperature:  0.3,
		TopK:         20,
	})
	if err != nil {
		return fmt.Errorf("everyday: failed to create judge session: %w", err)
	}
	s.analyzer = analyzer
	s.judge = judge
	slog.Info("Everyday mode initialized", "backend", s.provider.Name())
	return nil
}

func (s *EverydayStrategy) Analyze(ctx context.Context, content, url string) (datatypes.Verdict, error) {
	if s.analyzer == nil || s.judge == nil {
		return unavailableVerdict(ModeEveryday, len(content)), nil
	}

	trimmed := trimContent(content, everydayMaxChars)

	// Stage 1: triage classification.
	stageCtx, cancel := context.WithTimeout(ctx, everydayStageTimeout)
	classifyPrompt := fmt.Sprintf("Classify this web page content:\n\n%s", trimmed)
	reply, err := s.analyzer.Prompt(stageCtx, classifyPrompt)
	cancel()
	if err != nil {
		slog.Error("Everyday stage 1 failed", "url", url, "error", err)
		return errorVerdict(ModeEveryday, len(content), err), nil
	}

	classification := classify(reply)
	slog.Debug("Everyday stage 1 complete", "classification", classification, "url", url)

	switch classification {
	case classificationInbox:
		return datatypes.Verdict{
			IsMalicious:   false,
			Analysis:      "Email platform list view detected. Inbox and list views are not scanned for threats.",
			Judgment:      classificationInbox,
			Method:        datatypes.MethodSkipped,
			Mode:          ModeEveryday,
			ContentLength: len(content),
		}, nil
	case classificationSafe:
		return datatypes.Verdict{
			IsMalicious:   false,
			Analysis:      reply,
			Judgment:      classificationSafe,
			Method:        datatypes.MethodAI,
			Mode:          ModeEveryday,
			ContentLength: len(content),
		}, nil
	}

	// Stage 2: judge confirmation, content plus the triage reasoning.
	judgeCtx, cancel := context.WithTimeout(ctx, everydayJudgeTimeout)
	judgePrompt := fmt.Sprintf("Triage flagged this content as a possible scam.\n\nTriage reasoning:\n%s\n\nContent:\n%s\n\nRender your verdict.", reply, trimmed)
	judgeReply, err := s.judge.Prompt(judgeCtx, judgePrompt)
	cancel()
	if err != nil {
		slog.Error("Everyday stage 2 failed", "url", url, "error", err)
		return errorVerdict(ModeEveryday, len(content), err), nil
	}

	isThreat := verdictStartsWith(judgeReply, judgeVerdictThreat)
	if isThreat {
		slog.Info("Everyday threat confirmed by judge", "url", url, "content_length", len(content))
	}

	return datatypes.Verdict{
		IsMalicious:   isThreat,
		Analysis:      judgeReply,
		Judgment:      firstLine(judgeReply),
		Method:        datatypes.MethodAI,
		Mode:          ModeEveryday,
		ContentLength: len(content),
	}, nil
}

// classify extracts the stage-1 classification from the first line of the
// analyzer reply. Unknown replies escalate to SCAM: the judge exists to
// correct triage over-flagging, the reverse has no safety net.
func classify(reply string) string {
	word := strings.ToUpper(firstLine(reply))
	switch {
	case strings.HasPrefix(word, classificationInbox):
		return classificationInbox
	case strings.HasPrefix(word, classificationSafe):
		return classificationSafe
	case strings.HasPrefix(word, classificationScam):
		return classificationScam
	default:
		return classificationScam
	}
}
