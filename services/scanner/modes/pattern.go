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
	"regexp"
	"strings"

	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
	"github.com/pagesentry/pagesentry/services/scanner/modes/signatures"
	"gopkg.in/yaml.v3"
)

type signatureFile struct {
	Signatures []signatureDef `yaml:"signatures"`
}

type signatureDef struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`
}

type compiledSignature struct {
	def signatureDef
	re  *regexp.Regexp
}

// PatternStrategy evaluates an ordered list of regex signatures against
// page content. It is deterministic, synchronous, and always available:
// it serves as the fallback when no model backend can be initialized.
//
// The analysis lists matched signature names only. Raw matched text is
// never echoed, so exploit payloads cannot leak verbatim into logs or UI.
type PatternStrategy struct {
	compiled []compiledSignature
}

// NewPatternStrategy compiles the embedded signature set.
func NewPatternStrategy() (*PatternStrategy, error) {
	var file signatureFile
	if err := yaml.Unmarshal(signatures.ThreatSignatures, &file); err != nil {
		return nil, fmt.Errorf("failed to unmarshal the embedded signature file: %w", err)
	}
	compiled := make([]compiledSignature, 0, len(file.Signatures))
	for _, def := range file.Signatures {
		re, err := regexp.Compile(def.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile signature %s: %w", def.ID, err)
		}
		compiled = append(compiled, compiledSignature{def: def, re: re})
	}
	return &PatternStrategy{compiled: compiled}, nil
}

func (s *PatternStrategy) Mode() string { return ModePattern }

// Initialize is a no-op; the signature set is compiled at construction.
func (s *PatternStrategy) Initialize(_ context.Context) error { return nil }

func (s *PatternStrategy) Analyze(_ context.Context, content, _ string) (datatypes.Verdict, error) {
	var detected []string
	for _, cs := range s.compiled {
		if cs.re.MatchString(content) {
			detected = append(detected, cs.def.Description)
		}
	}

	isMalicious := len(detected) > 0
	analysis := "Pattern-based detection found no obvious prompt injection patterns."
	judgment := "SAFE"
	if isMalicious {
		analysis = "Pattern-based detection found suspicious patterns: " + strings.Join(detected, ", ")
		judgment = "MALICIOUS"
	}

	return datatypes.Verdict{
		IsMalicious:   isMalicious,
		Analysis:      analysis,
		Judgment:      judgment,
		Method:        datatypes.MethodPattern,
		Mode:          ModePattern,
		ContentLength: len(content),
	}, nil
}
