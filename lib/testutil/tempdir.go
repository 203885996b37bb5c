// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

var nameCounter atomic.Uint64

// AbstractName returns a socket name unique to this test process,
// suitable for the abstract namespace. The process ID keeps
// concurrently running test binaries apart.
func AbstractName(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("magiskd-test-%d-%d", os.Getpid(), nameCounter.Add(1))
}

// FakeRoot creates a temporary directory and the given relative
// subdirectories inside it. Entries ending in "/" are directories;
// anything else is created as an empty file (parents included).
//
//	root := testutil.FakeRoot(t, "data/user_de/0/com.topjohnwu.magisk/", "data/system/packages.xml")
func FakeRoot(t *testing.T, entries ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, entry := range entries {
		path := filepath.Join(root, entry)
		if entry[len(entry)-1] == '/' {
			if err := os.MkdirAll(path, 0o755); err != nil {
				t.Fatalf("creating %s: %v", entry, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("creating parent of %s: %v", entry, err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatalf("creating %s: %v", entry, err)
		}
	}
	return root
}
