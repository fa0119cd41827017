// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreRule_ValidateNormalizes(t *testing.T) {
	r := IgnoreRule{Pattern: "  WWW.Example.COM  ", Type: RuleTypeDomain}
	require.NoError(t, r.Validate())
	assert.Equal(t, "example.com", r.Pattern)

	// URL patterns keep their case.
	u := IgnoreRule{Pattern: "https://Example.com/Path", Type: RuleTypeURL}
	require.NoError(t, u.Validate())
	assert.Equal(t, "https://Example.com/Path", u.Pattern)
}

func TestIgnoreRule_ValidateRejects(t *testing.T) {
	assert.Error(t, (&IgnoreRule{Pattern: "", Type: RuleTypeDomain}).Validate())
	assert.Error(t, (&IgnoreRule{Pattern: "   ", Type: RuleTypeDomain}).Validate())
	assert.Error(t, (&IgnoreRule{Pattern: "example.com", Type: "regex"}).Validate())
	assert.Error(t, (&IgnoreRule{Pattern: "example.com"}).Validate())
}

func TestIgnoreRule_Key(t *testing.T) {
	a := IgnoreRule{Pattern: "example.com", Type: RuleTypeDomain}
	b := IgnoreRule{Pattern: "example.com", Type: RuleTypeURL}
	assert.NotEqual(t, a.Key(), b.Key(), "same pattern under different types is two rules")
}

func TestIgnoreRule_Matches(t *testing.T) {
	tests := []struct {
		name  string
		rule  IgnoreRule
		url   string
		host  string
		match bool
	}{
		{
			"url exact match",
			IgnoreRule{Pattern: "https://example.com/page", Type: RuleTypeURL},
			"https://example.com/page", "example.com", true,
		},
		{
			"url path mismatch",
			IgnoreRule{Pattern: "https://example.com/page", Type: RuleTypeURL},
			"https://example.com/other", "example.com", false,
		},
		{
			"domain exact host",
			IgnoreRule{Pattern: "example.com", Type: RuleTypeDomain},
			"https://example.com/anything", "example.com", true,
		},
		{
			"domain subdomain",
			IgnoreRule{Pattern: "example.com", Type: RuleTypeDomain},
			"https://mail.example.com/", "mail.example.com", true,
		},
		{
			"domain www stripped",
			IgnoreRule{Pattern: "example.com", Type: RuleTypeDomain},
			"https://www.example.com/", "www.example.com", true,
		},
		{
			"domain suffix is not a subdomain",
			IgnoreRule{Pattern: "example.com", Type: RuleTypeDomain},
			"https://notexample.com/", "notexample.com", false,
		},
		{
			"domain unrelated host",
			IgnoreRule{Pattern: "example.com", Type: RuleTypeDomain},
			"https://other.org/", "other.org", false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.match, tt.rule.Matches(tt.url, tt.host))
		})
	}
}
