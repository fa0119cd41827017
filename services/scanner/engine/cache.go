// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
)

// cacheKey is the verdict fingerprint: tab, URL, and a content prefix.
// The prefix keys the entry to the page's leading content so a changed
// page naturally misses without any explicit invalidation.
type cacheKey struct {
	tabID       int
	url         string
	fingerprint string
}

// verdictCache is a size-bounded associative store of completed
// Verdicts. Eviction is wholesale (clear everything past the bound),
// not LRU. Not self-locking; the engine mutex guards all access.
type verdictCache struct {
	entries    map[cacheKey]datatypes.Verdict
	prefixLen  int
	minDelta   int
	maxEntries int
}

func newVerdictCache(prefixLen, minDelta, maxEntries int) *verdictCache {
	return &verdictCache{
		entries:    make(map[cacheKey]datatypes.Verdict),
		prefixLen:  prefixLen,
		minDelta:   minDelta,
		maxEntries: maxEntries,
	}
}

func (c *verdictCache) key(tabID int, url, content string) cacheKey {
	fp := content
	if len(fp) > c.prefixLen {
		fp = fp[:c.prefixLen]
	}
	return cacheKey{tabID: tabID, url: url, fingerprint: fp}
}

// get returns the cached verdict for the exact fingerprint. When a
// rescan delta is configured, a near-miss (same tab and URL, content
// length within the delta) also counts as a hit so minor page churn
// between polls does not burn a model call.
func (c *verdictCache) get(key cacheKey, contentLength int) (datatypes.Verdict, bool) {
	if v, ok := c.entries[key]; ok {
		return v, true
	}
	if c.minDelta <= 0 {
		return datatypes.Verdict{}, false
	}
	for k, v := range c.entries {
		if k.tabID != key.tabID || k.url != key.url {
			continue
		}
		delta := contentLength - v.ContentLength
		if delta < 0 {
			delta = -delta
		}
		if delta <= c.minDelta {
			return v, true
		}
	}
	return datatypes.Verdict{}, false
}

// put stores a verdict, clearing the whole table first when it is at
// the size bound.
func (c *verdictCache) put(key cacheKey, v datatypes.Verdict) (evicted bool) {
	if len(c.entries) >= c.maxEntries {
		c.entries = make(map[cacheKey]datatypes.Verdict)
		evicted = true
	}
	c.entries[key] = v
	return evicted
}

// clearTab removes all entries scoped to a tab and returns the count.
func (c *verdictCache) clearTab(tabID int) int {
	cleared := 0
	for k := range c.entries {
		if k.tabID == tabID {
			delete(c.entries, k)
			cleared++
		}
	}
	return cleared
}

func (c *verdictCache) clear() {
	c.entries = make(map[cacheKey]datatypes.Verdict)
}

func (c *verdictCache) len() int {
	return len(c.entries)
}
