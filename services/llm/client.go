// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
)

// ErrUnavailable signals that no model backend is reachable on this host.
// Detection strategies treat it as "session never initialized" and degrade
// rather than fail.
var ErrUnavailable = errors.New("llm backend unavailable")

// Message is one turn of a model conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SessionConfig fixes the system instruction and sampling parameters for
// a session. Detection strategies create one session per role (analyzer,
// judge, masker) at initialize time and reuse it across calls.
type SessionConfig struct {
	SystemPrompt string   `json:"system_prompt"`
	Temperature  float32  `json:"temperature"`
	TopK         int      `json:"top_k"`
	MaxTokens    int      `json:"max_tokens"`
	Stop         []string `json:"stop,omitempty"`
}

// Session is a model conversation bound to a fixed system instruction.
type Session interface {
	Prompt(ctx context.Context, input string) (string, error)
}

// Provider creates sessions against one model backend.
type Provider interface {
	Name() string
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
}
