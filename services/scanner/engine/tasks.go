// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// CancelToken is the cooperative cancellation flag carried by every
// analysis task. Cancellation is advisory: the underlying strategy
// call is allowed to run to completion, but its result is discarded
// at the defined check points.
type CancelToken struct {
	cancelled atomic.Bool
}

func (t *CancelToken) Cancel() {
	t.cancelled.Store(true)
}

func (t *CancelToken) Cancelled() bool {
	return t.cancelled.Load()
}

// analysisTask tracks one in-flight analysis for a tab. At most one
// task per tab is ever live; a superseding request cancels its
// predecessor before registering itself.
type analysisTask struct {
	tabID     int
	url       string
	token     *CancelToken
	startedAt time.Time

	// cancelCtx aborts the strategy's context so abandoned network
	// and model calls give up early instead of running out the clock.
	cancelCtx context.CancelFunc
}

// taskTable maps tab ID to its live task. Not self-locking; the
// engine mutex guards all access.
type taskTable struct {
	live map[int]*analysisTask
}

func newTaskTable() *taskTable {
	return &taskTable{live: make(map[int]*analysisTask)}
}

// preempt cancels and removes the live task for a tab, if any.
func (t *taskTable) preempt(tabID int) (preempted bool) {
	task, ok := t.live[tabID]
	if !ok {
		return false
	}
	task.token.Cancel()
	task.cancelCtx()
	delete(t.live, tabID)
	return true
}

// register installs a task as the live task for its tab. The caller
// must have preempted any predecessor first.
func (t *taskTable) register(task *analysisTask) {
	t.live[task.tabID] = task
}

// complete removes the task if it is still the live task for its tab.
// Returns false when a newer task superseded it in the meantime.
func (t *taskTable) complete(task *analysisTask) bool {
	current, ok := t.live[task.tabID]
	if !ok || current != task {
		return false
	}
	delete(t.live, task.tabID)
	return true
}

func (t *taskTable) len() int {
	return len(t.live)
}
