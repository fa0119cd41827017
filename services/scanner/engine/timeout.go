// Copyright (C) 2025 PageSentry Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"context"
	"time"

	"github.com/pagesentry/pagesentry/services/scanner/datatypes"
)

type analyzeResult struct {
	verdict datatypes.Verdict
	err     error
}

// withTimeout races fn against a wall-clock budget. When the budget
// fires first the slow branch is abandoned, not aborted: fn keeps
// running on its own goroutine and its eventual result is discarded
// through the buffered channel.
func withTimeout(ctx context.Context, budget time.Duration, fn func(context.Context) (datatypes.Verdict, error)) (datatypes.Verdict, error, bool) {
	resCh := make(chan analyzeResult, 1)
	go func() {
		v, err := fn(ctx)
		resCh <- analyzeResult{verdict: v, err: err}
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case res := <-resCh:
		return res.verdict, res.err, false
	case <-timer.C:
		return datatypes.Verdict{}, nil, true
	}
}
