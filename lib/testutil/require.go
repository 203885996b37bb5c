// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// RequireReceive returns the next value from ch, failing the test if
// none arrives within timeout or ch is closed first. what names the
// awaited event in the failure message.
//
//	err := testutil.RequireReceive(t, serveDone, 5*time.Second, "Serve to return")
func RequireReceive[T any](t interface {
	Helper()
	Fatalf(format string, args ...any)
}, ch <-chan T, timeout time.Duration, what string) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while waiting for %s", describe(what))
		}
		return v
	case <-timer.C:
		t.Fatalf("timed out after %v waiting for %s", timeout, describe(what))
	}
	panic("unreachable")
}

func describe(what string) string {
	if what == "" {
		return "a value"
	}
	return fmt.Sprintf("%q", what)
}
