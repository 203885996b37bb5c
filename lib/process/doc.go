// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the magisk binary.
// It centralizes the raw stderr write that happens before the
// structured logger exists, and the exit that follows an unrecoverable
// error in main().
package process
