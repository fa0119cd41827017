// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package modes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagesentry/pagesentry/services/redact"
	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
)

func newCloudForTest(t *testing.T, endpoint string) *CloudStrategy {
	t.Helper()
	redactor, err := redact.New()
	require.NoError(t, err)
	s := NewCloudStrategy(CloudConfig{
		Endpoint:  endpoint,
		InstallID: "install-123",
		UserEmail: "user@example.com",
	}, redactor)
	require.NoError(t, s.Initialize(context.Background()))
	return s
}

func TestCloud_RedactsBeforeTransmission(t *testing.T) {
	var received cloudScanRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &received))
		_ = json.NewEncoder(w).Encode(cloudScanResponse{IsMalicious: false, Analysis: "clean", Judgment: "SAFE"})
	}))
	defer server.Close()

	s := newCloudForTest(t, server.URL)
	content := "Call me at 555-867-5309, SSN 123-45-6789, server at 192.168.1.50."
	_, err := s.Analyze(context.Background(), content, "https://example.com")
	require.NoError(t, err)

	assert.NotContains(t, received.Content, "555-867-5309")
	assert.NotContains(t, received.Content, "123-45-6789")
	assert.NotContains(t, received.Content, "192.168.1.50")
	assert.Contains(t, received.Content, "[REDACTED_")
}

func TestCloud_SendsIdentityHeaders(t *testing.T) {
	var installID, userEmail string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		installID = r.Header.Get("X-PageSentry-Install-ID")
		userEmail = r.Header.Get("X-PageSentry-User-Email")
		_ = json.NewEncoder(w).Encode(cloudScanResponse{Judgment: "SAFE"})
	}))
	defer server.Close()

	s := newCloudForTest(t, server.URL)
	_, err := s.Analyze(context.Background(), "content for the remote scanner", "https://example.com")
	require.NoError(t, err)

	assert.Equal(t, "install-123", installID)
	assert.Equal(t, "user@example.com", userEmail)
}

func TestCloud_QuotaExceeded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"quota": map[string]any{"limit": 100, "used": 100, "plan": "free"},
		})
	}))
	defer server.Close()

	s := newCloudForTest(t, server.URL)
	v, err := s.Analyze(context.Background(), "content for the remote scanner", "https://example.com")
	require.NoError(t, err)

	assert.False(t, v.IsMalicious)
	assert.Equal(t, datatypes.MethodQuotaError, v.Method)
	assert.Equal(t, "QUOTA_EXCEEDED", v.Judgment)
	require.NotNil(t, v.Quota)
	assert.Equal(t, 100, v.Quota.Limit)
}

func TestCloud_NormalizesMissingFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"isMalicious": true})
	}))
	defer server.Close()

	s := newCloudForTest(t, server.URL)
	v, err := s.Analyze(context.Background(), "content for the remote scanner", "https://example.com")
	require.NoError(t, err)

	assert.True(t, v.IsMalicious)
	assert.Equal(t, "No analysis provided by cloud.", v.Analysis)
	assert.Equal(t, "Cloud Scan Complete", v.Judgment)
	assert.Equal(t, datatypes.MethodCloud, v.Method)
}

func TestCloud_ServerErrorConverts(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := newCloudForTest(t, server.URL)
	v, err := s.Analyze(context.Background(), "content for the remote scanner", "https://example.com")
	require.NoError(t, err)

	assert.False(t, v.IsMalicious)
	assert.Equal(t, datatypes.MethodError, v.Method)
	assert.Equal(t, "ERROR", v.Judgment)
}

func TestCloud_TransportFailureConverts(t *testing.T) {
	s := newCloudForTest(t, "http://127.0.0.1:1") // nothing listens here
	v, err := s.Analyze(context.Background(), "content for the remote scanner", "https://example.com")
	require.NoError(t, err)

	assert.False(t, v.IsMalicious)
	assert.Equal(t, datatypes.MethodError, v.Method)
}

func TestCloud_InitializeRequiresEndpoint(t *testing.T) {
	redactor, err := redact.New()
	require.NoError(t, err)
	s := NewCloudStrategy(CloudConfig{}, redactor)
	assert.Error(t, s.Initialize(context.Background()))
}
