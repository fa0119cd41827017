// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RuleType distinguishes exact-URL rules from hostname rules.
type RuleType string

const (
	RuleTypeURL    RuleType = "url"
	RuleTypeDomain RuleType = "domain"
)

// ruleValidate validates IgnoreRule values before they are persisted.
var ruleValidate *validator.Validate

func init() {
	ruleValidate = validator.New()
	_ = ruleValidate.RegisterValidation("ruletype", validateRuleType)
}

func validateRuleType(fl validator.FieldLevel) bool {
	switch RuleType(fl.Field().String()) {
	case RuleTypeURL, RuleTypeDomain:
		return true
	default:
		return false
	}
}

// IgnoreRule is a user-authored exclusion checked before every analysis.
//
// Rules have set semantics on (Pattern, Type): inserting a duplicate is
// rejected. A url rule matches the full URL exactly; a domain rule matches
// the hostname or any of its subdomains.
type IgnoreRule struct {
	Pattern string   `json:"pattern" validate:"required,min=1,max=2048"`
	Type    RuleType `json:"type" validate:"required,ruletype"`
	AddedAt int64    `json:"addedAt"`
}

// Validate checks the rule fields and normalizes the pattern.
//
// Domain patterns are lowercased and stripped of a leading "www." so that
// equivalent spellings collapse to one set entry.
func (r *IgnoreRule) Validate() error {
	r.Pattern = strings.TrimSpace(r.Pattern)
	if r.Type == RuleTypeDomain {
		r.Pattern = strings.TrimPrefix(strings.ToLower(r.Pattern), "www.")
	}
	if err := ruleValidate.Struct(r); err != nil {
		return fmt.Errorf("invalid ignore rule: %w", err)
	}
	return nil
}

// Key returns the set identity of the rule.
func (r IgnoreRule) Key() string {
	return string(r.Type) + "|" + r.Pattern
}

// Matches reports whether the rule excludes the given URL. The host
// argument is the already-parsed hostname of the URL, lowercased.
func (r IgnoreRule) Matches(rawURL, host string) bool {
	switch r.Type {
	case RuleTypeURL:
		return rawURL == r.Pattern
	case RuleTypeDomain:
		host = strings.TrimPrefix(host, "www.")
		return host == r.Pattern || strings.HasSuffix(host, "."+r.Pattern)
	default:
		return false
	}
}
