// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// taskGroup runs fire-and-forget work on its own goroutines and lets
// the owner wait for all of it. A panicking task is logged and
// swallowed; it never takes the daemon down.
type taskGroup struct {
	wg     sync.WaitGroup
	logger *slog.Logger
}

// Go runs fn on a new goroutine tracked by the group.
func (group *taskGroup) Go(name string, fn func()) {
	group.wg.Add(1)
	go func() {
		defer group.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				group.logger.Error("task panicked",
					"task", name,
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
			}
		}()
		fn()
	}()
}

// Wait blocks until every task started with Go has returned.
func (group *taskGroup) Wait() {
	group.wg.Wait()
}
