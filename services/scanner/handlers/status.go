// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
	"github.com/pagesentry/pagesentry/services/scanner/engine"
)

// tabIDParam parses the :tabId path parameter.
func tabIDParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("tabId"))
	if err != nil || id < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tab id"})
		return 0, false
	}
	return id, true
}

// HandleGetStatus is the getStatus message: the tab's last persisted
// status, or the "no scan yet" placeholder.
func HandleGetStatus(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tabID, ok := tabIDParam(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, eng.Status(tabID))
	}
}

// HandleGetDetail returns the detail-view payload derived from the
// tab's stored verdict.
func HandleGetDetail(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		tabID, ok := tabIDParam(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, datatypes.DetailFromStatus(eng.Status(tabID)))
	}
}
