// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package redact scrubs personally identifiable information from page
// content before it may cross the local/remote boundary.
//
// The redactor is regex-based and intentionally over-matches: a long order
// number redacted as a credit card is a tolerable loss, an unredacted card
// number sent to the cloud scanner is not.
package redact

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pagesentry/pagesentry/services/redact/patterns"
	"gopkg.in/yaml.v3"
)

type patternFile struct {
	Patterns []patternDef `yaml:"patterns"`
}

type patternDef struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`
	Replacement string `yaml:"replacement"`

	// MinDigits, when set, requires the match to contain at least this
	// many digits before it is replaced. Guards the broad credit-card
	// pattern against swallowing short hyphenated identifiers.
	MinDigits int `yaml:"min_digits"`
}

type compiledPattern struct {
	def patternDef
	re  *regexp.Regexp
}

// Redactor removes phone numbers, credit-card-like digit runs, SSNs, and
// IPv4 addresses from text. Safe for concurrent use after construction.
type Redactor struct {
	compiled []compiledPattern
}

// New compiles the embedded PII pattern set.
func New() (*Redactor, error) {
	var file patternFile
	if err := yaml.Unmarshal(patterns.PIIPatterns, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded PII pattern file: %w", err)
	}
	if len(file.Patterns) == 0 {
		return nil, fmt.Errorf("embedded PII pattern file contains no patterns")
	}

	compiled := make([]compiledPattern, 0, len(file.Patterns))
	for _, def := range file.Patterns {
		re, err := regexp.Compile(def.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile PII pattern %s: %w", def.ID, err)
		}
		compiled = append(compiled, compiledPattern{def: def, re: re})
	}
	return &Redactor{compiled: compiled}, nil
}

var digitsOnly = regexp.MustCompile(`[^\d]`)

// Redact returns text with every PII match replaced by its pattern's
// replacement token. The input is never modified and the output contains
// no literal match text for any pattern in the set.
func (r *Redactor) Redact(text string) string {
	if text == "" {
		return ""
	}
	redacted := text
	for _, cp := range r.compiled {
		if cp.def.MinDigits > 0 {
			redacted = cp.re.ReplaceAllStringFunc(redacted, func(match string) string {
				if len(digitsOnly.ReplaceAllString(match, "")) >= cp.def.MinDigits {
					return cp.def.Replacement
				}
				return match
			})
			continue
		}
		redacted = cp.re.ReplaceAllString(redacted, cp.def.Replacement)
	}
	return redacted
}

// Findings returns the pattern IDs that match the text, in pattern order.
// Used for audit logging; matched text itself is never returned.
func (r *Redactor) Findings(text string) []string {
	var ids []string
	for _, cp := range r.compiled {
		if cp.re.MatchString(text) {
			ids = append(ids, cp.def.ID)
		}
	}
	return ids
}

// Clean reports whether the text contains no redaction token, which also
// implies Redact left it unchanged except for genuine PII.
func Clean(text string) bool {
	return !strings.Contains(text, "[REDACTED_")
}
