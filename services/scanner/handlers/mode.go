// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/codes"

	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
	"github.com/pagesentry/pagesentry/services/scanner/engine"
	"github.com/pagesentry/pagesentry/services/scanner/modes"
)

// HandleChangeMode is the changeMode message: hot-swaps the detection
// strategy, clears the verdict cache, and persists the choice.
func HandleChangeMode(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := scanTracer.Start(c.Request.Context(), "HandleChangeMode")
		defer span.End()

		var req datatypes.ChangeModeRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if !modes.KnownMode(req.Mode) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown mode: " + req.Mode})
			return
		}

		if err := eng.ChangeMode(ctx, req.Mode); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Mode change failed", "mode", req.Mode, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, datatypes.ChangeModeResponse{Success: true, Mode: req.Mode})
	}
}

// HandleGetMode returns the active detection mode.
func HandleGetMode(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"mode": eng.Mode()})
	}
}
