// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(tabID int) (*analysisTask, context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	return &analysisTask{
		tabID:     tabID,
		url:       "https://example.com",
		token:     &CancelToken{},
		startedAt: time.Now(),
		cancelCtx: cancel,
	}, ctx
}

func TestTaskTable_PreemptCancelsPredecessor(t *testing.T) {
	tt := newTaskTable()
	task, ctx := newTask(1)
	tt.register(task)

	require.True(t, tt.preempt(1))
	assert.True(t, task.token.Cancelled())
	select {
	case <-ctx.Done():
	default:
		t.Fatal("preempt did not cancel the task context")
	}
	assert.Equal(t, 0, tt.len())
}

func TestTaskTable_PreemptWithoutLiveTask(t *testing.T) {
	tt := newTaskTable()
	assert.False(t, tt.preempt(1))
}

func TestTaskTable_CompleteOnlyIfCurrent(t *testing.T) {
	tt := newTaskTable()
	old, _ := newTask(1)
	tt.register(old)
	tt.preempt(1)

	replacement, _ := newTask(1)
	tt.register(replacement)

	assert.False(t, tt.complete(old), "superseded task is no longer current")
	assert.True(t, tt.complete(replacement))
	assert.False(t, tt.complete(replacement), "second completion is a no-op")
}

func TestCancelToken(t *testing.T) {
	token := &CancelToken{}
	assert.False(t, token.Cancelled())
	token.Cancel()
	assert.True(t, token.Cancelled())
	token.Cancel()
	assert.True(t, token.Cancelled())
}
