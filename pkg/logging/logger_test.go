// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func logFilePath(dir, service string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02")))
}

func readJSONLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestNew_FileLogging(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{LogDir: dir, Service: "scannerd", Quiet: true})
	require.NoError(t, err)

	logger.Info("Scan complete", "mode", "everyday", "duration_ms", 120)
	require.NoError(t, logger.Close())

	entries := readJSONLines(t, logFilePath(dir, "scannerd"))
	require.Len(t, entries, 1)
	assert.Equal(t, "Scan complete", entries[0]["msg"])
	assert.Equal(t, "everyday", entries[0]["mode"])
	assert.Equal(t, "scannerd", entries[0]["service"])
}

func TestNew_AppendsAcrossReopens(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		logger, err := New(Config{LogDir: dir, Service: "scannerd", Quiet: true})
		require.NoError(t, err)
		logger.Info("entry")
		require.NoError(t, logger.Close())
	}
	assert.Len(t, readJSONLines(t, logFilePath(dir, "scannerd")), 2)
}

func TestNew_LevelFilter(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{Level: slog.LevelWarn, LogDir: dir, Service: "scannerd", Quiet: true})
	require.NoError(t, err)

	logger.Debug("dropped")
	logger.Info("also dropped")
	logger.Warn("kept")
	require.NoError(t, logger.Close())

	entries := readJSONLines(t, logFilePath(dir, "scannerd"))
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0]["msg"])
}

func TestNew_DefaultFileName(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{LogDir: dir, Quiet: true})
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, logger.Close())

	_, err = os.Stat(logFilePath(dir, "pagesentry"))
	assert.NoError(t, err)
}

func TestNew_BadLogDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0640))

	_, err := New(Config{LogDir: filepath.Join(file, "nested")})
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	logger := Default()
	require.NotNil(t, logger)
	assert.NoError(t, logger.Close(), "close without a file is a no-op")
}

func TestClose_Twice(t *testing.T) {
	dir := t.TempDir()
	logger, err := New(Config{LogDir: dir, Service: "scannerd", Quiet: true})
	require.NoError(t, err)
	require.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}
