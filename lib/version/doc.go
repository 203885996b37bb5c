// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for magiskd.
//
// Build information is injected at build time via -ldflags -X, for
// example:
//
//	go build -ldflags "-X github.com/magiskd/magiskd/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Injectable variables:
//
//   - [GitCommit] -- short git SHA of the build
//   - [GitDirty] -- "true" if there were uncommitted changes
//   - [BuildTime] -- UTC timestamp of the build
//   - [Version] -- release name reported by "magisk -c"
//   - [Code] -- integer version code reported by "magisk -V"
//   - [Debug] -- "true" for debug builds
//
// [Daemon] formats the string the daemon answers a version check
// with; the client compares it verbatim.
package version
