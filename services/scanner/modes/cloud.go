// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package modes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pagesentry/pagesentry/services/redact"
	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
)

const cloudTimeout = 30 * time.Second

// Install identity headers sent with every remote scan request.
const (
	headerInstallID = "X-PageSentry-Install-ID"
	headerUserEmail = "X-PageSentry-User-Email"
)

// CloudConfig identifies the remote scanner endpoint and this install.
type CloudConfig struct {
	Endpoint  string
	InstallID string
	UserEmail string
}

type cloudScanRequest struct {
	Content string `json:"content"`
	URL     string `json:"url"`
}

type cloudScanResponse struct {
	IsMalicious bool                 `json:"isMalicious"`
	Analysis    string               `json:"analysis"`
	Judgment    string               `json:"judgment"`
	Quota       *datatypes.QuotaInfo `json:"quota"`
}

// CloudStrategy delegates the threat determination to the remote scanner
// API. Content is PII-redacted locally before any network transmission;
// no unredacted content ever crosses the local/remote boundary.
type CloudStrategy struct {
	cfg        CloudConfig
	redactor   *redact.Redactor
	httpClient *http.Client
}

func NewCloudStrategy(cfg CloudConfig, redactor *redact.Redactor) *CloudStrategy {
	return &CloudStrategy{
		cfg:        cfg,
		redactor:   redactor,
		httpClient: &http.Client{Timeout: cloudTimeout},
	}
}

func (s *CloudStrategy) Mode() string { return ModeCloud }

func (s *CloudStrategy) Initialize(_ context.Context) error {
	if s.cfg.Endpoint == "" {
		return errors.New("cloud: no endpoint configured")
	}
	if s.redactor == nil {
		return errors.New("cloud: redactor is required")
	}
	slog.Info("Cloud mode initialized", "endpoint", s.cfg.Endpoint)
	return nil
}

func (s *CloudStrategy) Analyze(ctx context.Context, content, url string) (datatypes.Verdict, error) {
	// Redaction precondition: runs before the request body is built.
	redacted := s.redactor.Redact(content)

	body, err := json.Marshal(cloudScanRequest{Content: redacted, URL: url})
	if err != nil {
		return errorVerdict(ModeCloud, len(content), err), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, cloudTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, s.cfg.Endpoint, bytes.NewBuffer(body))
	if err != nil {
		return errorVerdict(ModeCloud, len(content), err), nil
	}
	req.Header.Set("Content-Type", "application/json")
	installID := s.cfg.InstallID
	if installID == "" {
		installID = "unknown"
	}
	req.Header.Set(headerInstallID, installID)
	if s.cfg.UserEmail != "" {
		req.Header.Set(headerUserEmail, s.cfg.UserEmail)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("Cloud scan request failed", "error", err)
		return s.transportErrorVerdict(len(content), err), nil
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return s.transportErrorVerdict(len(content), err), nil
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		var quotaResp cloudScanResponse
		_ = json.Unmarshal(respBody, &quotaResp)
		slog.Warn("Cloud scan quota exceeded", "install_id", installID)
		return datatypes.Verdict{
			IsMalicious:   false,
			Analysis:      "Quota exceeded",
			Judgment:      "QUOTA_EXCEEDED",
			Method:        datatypes.MethodQuotaError,
			Mode:          ModeCloud,
			ContentLength: len(content),
			Quota:         quotaResp.Quota,
		}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("cloud API returned %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode))
		slog.Error("Cloud scan returned an error", "status_code", resp.StatusCode)
		return s.transportErrorVerdict(len(content), err), nil
	}

	var result cloudScanResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		slog.Error("Failed to parse cloud scan response", "error", err)
		return s.transportErrorVerdict(len(content), err), nil
	}

	// Normalize: missing fields get explicit defaults, never left empty.
	analysis := result.Analysis
	if analysis == "" {
		analysis = "No analysis provided by cloud."
	}
	judgment := result.Judgment
	if judgment == "" {
		judgment = "Cloud Scan Complete"
	}

	return datatypes.Verdict{
		IsMalicious:   result.IsMalicious,
		Analysis:      analysis,
		Judgment:      judgment,
		Method:        datatypes.MethodCloud,
		Mode:          ModeCloud,
		ContentLength: len(content),
	}, nil
}

func (s *CloudStrategy) transportErrorVerdict(contentLength int, err error) datatypes.Verdict {
	msg := "Connection to the cloud scanner failed."
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "Cloud scan timed out (30s)."
	}
	return datatypes.Verdict{
		IsMalicious:   false,
		Analysis:      msg + " Please check your internet connection and API settings.",
		Judgment:      "ERROR",
		Method:        datatypes.MethodError,
		Mode:          ModeCloud,
		ContentLength: contentLength,
	}
}
