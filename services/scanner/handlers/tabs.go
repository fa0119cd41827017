// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
	"github.com/pagesentry/pagesentry/services/scanner/engine"
)

// HandleNavigate is the navigation-start event: cancels the tab's live
// scan and clears its status. Cached verdicts survive so returning to
// an unchanged page is free.
func HandleNavigate(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tabID, ok := tabIDParam(c)
		if !ok {
			return
		}
		var req datatypes.NavigateRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		eng.Navigate(tabID)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// HandleCloseTab is the tab-close event: cancels the live scan and
// purges the tab's status and cache entries.
func HandleCloseTab(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tabID, ok := tabIDParam(c)
		if !ok {
			return
		}
		eng.CloseTab(tabID)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

// HandleClearTabCache is the clearTabCache message.
func HandleClearTabCache(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tabID, ok := tabIDParam(c)
		if !ok {
			return
		}
		cleared := eng.ClearTabCache(tabID)
		c.JSON(http.StatusOK, datatypes.ClearCacheResponse{Cleared: cleared})
	}
}
