// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOllamaProvider_RequiresBaseURL(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "")
	_, err := NewOllamaProvider()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestNewOllamaProvider_TrimsTrailingSlash(t *testing.T) {
	t.Setenv("OLLAMA_BASE_URL", "http://localhost:11434/")
	t.Setenv("OLLAMA_MODEL", "gemma3")
	p, err := NewOllamaProvider()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:11434", p.baseURL)
	assert.Equal(t, "ollama", p.Name())
}

func TestOllamaSession_Prompt(t *testing.T) {
	var captured ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: Message{Role: "assistant", Content: "SAFE"},
			Done:    true,
		})
	}))
	defer server.Close()

	t.Setenv("OLLAMA_BASE_URL", server.URL)
	t.Setenv("OLLAMA_MODEL", "gemma3")
	p, err := NewOllamaProvider()
	require.NoError(t, err)

	session, err := p.NewSession(context.Background(), SessionConfig{
		SystemPrompt: "You classify pages.",
		Temperature:  0.1,
		TopK:         20,
		MaxTokens:    64,
		Stop:         []string{"\n\n"},
	})
	require.NoError(t, err)

	out, err := session.Prompt(context.Background(), "Page content here.")
	require.NoError(t, err)
	assert.Equal(t, "SAFE", out)

	assert.Equal(t, "gemma3", captured.Model)
	assert.False(t, captured.Stream)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "You classify pages.", captured.Messages[0].Content)
	assert.Equal(t, "user", captured.Messages[1].Role)
	assert.EqualValues(t, 20, captured.Options["top_k"])
	assert.EqualValues(t, 64, captured.Options["num_predict"])
}

func TestOllamaSession_ModelNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "model 'gemma3' not found"})
	}))
	defer server.Close()

	t.Setenv("OLLAMA_BASE_URL", server.URL)
	t.Setenv("OLLAMA_MODEL", "gemma3")
	p, err := NewOllamaProvider()
	require.NoError(t, err)

	session, err := p.NewSession(context.Background(), SessionConfig{})
	require.NoError(t, err)

	_, err = session.Prompt(context.Background(), "content")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ollama pull")
}

func TestOllamaSession_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	t.Setenv("OLLAMA_BASE_URL", server.URL)
	p, err := NewOllamaProvider()
	require.NoError(t, err)

	session, err := p.NewSession(context.Background(), SessionConfig{})
	require.NoError(t, err)

	_, err = session.Prompt(context.Background(), "content")
	assert.Error(t, err)
}

func TestOllamaSession_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	t.Setenv("OLLAMA_BASE_URL", server.URL)
	p, err := NewOllamaProvider()
	require.NoError(t, err)

	session, err := p.NewSession(context.Background(), SessionConfig{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = session.Prompt(ctx, "content")
	assert.Error(t, err)
}
