// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extract produces a cleaned plain-text representation of a page.
//
// The extractor walks the parsed DOM and keeps only text a user could
// actually see: script, style, noscript and iframe subtrees are dropped,
// as are elements hidden through inline styles or the hidden attribute.
// Input and textarea placeholder and value text is harvested as well,
// since scam pages often stage their payload there.
//
// The traversal is read-only and idempotent: extracting the same document
// twice yields the same string.
package extract

import (
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var skippedTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"iframe":   true,
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Extract parses an HTML document and returns its visible text with
// whitespace runs collapsed to single spaces.
func Extract(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", err
	}
	return ExtractNode(doc), nil
}

// ExtractString is Extract over an in-memory document.
func ExtractString(doc string) (string, error) {
	return Extract(strings.NewReader(doc))
}

// ExtractNode walks the subtree rooted at n and collects visible text.
func ExtractNode(n *html.Node) string {
	var parts []string
	collect(n, &parts)
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(strings.Join(parts, " ")), " ")
}

func collect(n *html.Node, parts *[]string) {
	switch n.Type {
	case html.ElementNode:
		if skippedTags[n.Data] || hiddenByAttrs(n) {
			return
		}
		if n.Data == "input" || n.Data == "textarea" {
			harvestInput(n, parts)
		}
	case html.TextNode:
		if text := strings.TrimSpace(n.Data); text != "" {
			*parts = append(*parts, text)
		}
		return
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		collect(child, parts)
	}
}

// hiddenByAttrs reports whether the element is hidden through markup the
// extractor can see: the hidden attribute, or inline display:none,
// visibility:hidden, or zero opacity. Computed-style and layout-area
// checks need a rendering engine and stay with the capture side.
func hiddenByAttrs(n *html.Node) bool {
	for _, attr := range n.Attr {
		switch attr.Key {
		case "hidden":
			return true
		case "style":
			style := strings.ToLower(strings.ReplaceAll(attr.Val, " ", ""))
			if strings.Contains(style, "display:none") ||
				strings.Contains(style, "visibility:hidden") ||
				strings.Contains(style, "opacity:0;") ||
				strings.HasSuffix(style, "opacity:0") {
				return true
			}
		}
	}
	return false
}

// harvestInput collects placeholder and value text from form fields.
// Password fields are excluded: their values are credentials, not page
// content, and must never enter the analysis pipeline.
func harvestInput(n *html.Node, parts *[]string) {
	var placeholder, value, inputType string
	for _, attr := range n.Attr {
		switch attr.Key {
		case "placeholder":
			placeholder = attr.Val
		case "value":
			value = attr.Val
		case "type":
			inputType = strings.ToLower(attr.Val)
		}
	}
	if inputType == "password" || inputType == "hidden" {
		return
	}
	if text := strings.TrimSpace(placeholder); text != "" {
		*parts = append(*parts, text)
	}
	if text := strings.TrimSpace(value); text != "" {
		*parts = append(*parts, text)
	}
}
