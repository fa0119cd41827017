// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
	"github.com/pagesentry/pagesentry/services/scanner/engine"
)

// HandleListRules returns all user ignore rules.
func HandleListRules(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		rules := eng.Rules()
		if rules == nil {
			rules = []datatypes.IgnoreRule{}
		}
		c.JSON(http.StatusOK, gin.H{"rules": rules})
	}
}

// HandleAddRule inserts an ignore rule. Duplicates get 409.
func HandleAddRule(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AddRuleRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		rule := datatypes.IgnoreRule{
			Pattern: req.Pattern,
			Type:    datatypes.RuleType(req.Type),
			AddedAt: time.Now().UnixMilli(),
		}
		err := eng.AddRule(rule)
		switch {
		case errors.Is(err, engine.ErrDuplicateRule):
			c.JSON(http.StatusConflict, gin.H{"error": "rule already exists"})
		case err != nil:
			slog.Error("Failed to add ignore rule", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusCreated, gin.H{"success": true, "rule": rule})
		}
	}
}

// HandleRemoveRule deletes an ignore rule by pattern and type.
func HandleRemoveRule(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AddRuleRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		err := eng.RemoveRule(req.Pattern, datatypes.RuleType(req.Type))
		switch {
		case errors.Is(err, engine.ErrRuleNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		case err != nil:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"success": true})
		}
	}
}
