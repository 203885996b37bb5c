// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package peercred establishes who is on the other end of an accepted
// daemon connection.
//
// [Get] captures the kernel-reported peer credentials (SO_PEERCRED)
// and, best effort, the peer's SELinux label (SO_PEERSEC). A missing
// label is not an error: the context is left empty.
//
// [Verifier] decides whether the daemon should talk to that peer at
// all. Root is trusted outright. Any other caller must be running the
// daemon's own binary: /proc/<pid>/exe of the peer must resolve to the
// same device and inode as the daemon's /proc/self/exe, captured once
// at startup. This keeps an unprivileged process from presenting itself
// as the magisk client while running something else. Zygote is exempt
// because it connects on behalf of app processes it has not yet
// specialized.
//
// Peer credentials are Linux-only. Other platforms build, but [Get]
// always fails there.
package peercred
