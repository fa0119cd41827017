// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command scannerd starts the PageSentry scanner HTTP server.
//
// It reads configuration from environment variables and starts the
// server.
//
// # Environment Variables
//
//   - SCANNER_PORT: HTTP server port (default: 12310)
//   - LLM_BACKEND_TYPE: model provider - ollama, openai (default: ollama)
//   - SCANNER_DEFAULT_MODE: startup detection mode (default: everyday)
//   - SCANNER_DATA_DIR: BadgerDB directory (default: ./data/scanner)
//   - SCANNER_LOG_DIR: scan audit log directory (optional)
//   - SCANNER_CLOUD_ENDPOINT: remote scanner API URL for cloud mode
//   - SCANNER_USER_EMAIL: email sent with cloud scan requests (optional)
//   - SCANNER_OWN_HOST: hostname of this service, never scanned
//   - SCANNER_TIMEOUT_SECONDS: overall scan budget (default: 60)
//   - SCANNER_CACHE_MAX_ENTRIES: verdict cache bound (default: 100)
//   - SCANNER_FINGERPRINT_PREFIX: cache key content prefix length (default: 500)
//   - SCANNER_RESCAN_MIN_DELTA: content-length delta treated as unchanged (default: 0)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: pagesentry-otel-collector:4317)
//
// # Usage
//
//	go build -o scannerd ./cmd/scannerd
//	./scannerd
package main

import (
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/pagesentry/pagesentry/services/scanner"
	"github.com/pagesentry/pagesentry/services/scanner/engine"
)

func main() {
	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Build configuration from environment variables
	cfg := scanner.Config{
		Port:          getEnvInt("SCANNER_PORT", 12310),
		LLMBackend:    getEnvString("LLM_BACKEND_TYPE", "ollama"),
		DefaultMode:   getEnvString("SCANNER_DEFAULT_MODE", "everyday"),
		DataDir:       getEnvString("SCANNER_DATA_DIR", "./data/scanner"),
		LogDir:        os.Getenv("SCANNER_LOG_DIR"),
		CloudEndpoint: os.Getenv("SCANNER_CLOUD_ENDPOINT"),
		UserEmail:     os.Getenv("SCANNER_USER_EMAIL"),
		OTelEndpoint:  getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "pagesentry-otel-collector:4317"),
		Engine: engine.Config{
			OverallTimeout:       time.Duration(getEnvInt("SCANNER_TIMEOUT_SECONDS", 60)) * time.Second,
			CacheMaxEntries:      getEnvInt("SCANNER_CACHE_MAX_ENTRIES", 100),
			FingerprintPrefixLen: getEnvInt("SCANNER_FINGERPRINT_PREFIX", 500),
			RescanMinDelta:       getEnvInt("SCANNER_RESCAN_MIN_DELTA", 0),
			OwnHost:              os.Getenv("SCANNER_OWN_HOST"),
		},
	}

	slog.Info("Starting scanner",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"default_mode", cfg.DefaultMode,
		"data_dir", cfg.DataDir,
	)

	svc, err := scanner.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create scanner: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Scanner error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
