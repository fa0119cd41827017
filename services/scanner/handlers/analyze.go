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
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
	"github.com/pagesentry/pagesentry/services/scanner/engine"
)

var scanTracer = otel.Tracer("pagesentry.scanner.handlers")

// HandleAnalyze is the analyzeContent message: runs the scan pipeline
// and returns the Verdict. The engine never fails a scan, so this
// handler returns 200 with a Verdict for every well-formed request.
func HandleAnalyze(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := scanTracer.Start(c.Request.Context(), "HandleAnalyze")
		defer span.End()

		var req datatypes.AnalyzeRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Error("Failed to parse the analyze request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		if len(req.Content) > datatypes.MaxContentBytes {
			slog.Warn("Rejected oversized content", "tab_id", req.TabID, "content_length", len(req.Content))
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "content exceeds maximum size"})
			return
		}

		verdict := eng.Analyze(ctx, req)
		c.JSON(http.StatusOK, verdict)
	}
}
