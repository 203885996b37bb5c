// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for magiskd packages.
//
// [AbstractName] hands out unique abstract-namespace socket names so
// that parallel tests never collide on a daemon address. Abstract
// sockets live outside the filesystem, so there is nothing to clean up.
//
// [FakeRoot] lays out a throwaway directory tree that mirrors the
// on-device paths a test needs (app data, modules, packages registry)
// and returns its root.
//
// [RequireReceive] waits on a channel with a deadline so a stuck
// daemon fails the test instead of hanging it.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
