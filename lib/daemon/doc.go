// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package daemon implements magiskd, the privileged broker behind the
// magisk CLI, and the client side used to reach it.
//
// The daemon listens on an abstract Unix socket. Each connection
// carries one request: the client writes an int32 [RequestCode], the
// daemon answers with a response code and, if that is [RespondOK],
// the request-specific exchange follows. Before reading anything the
// daemon captures the peer's credentials and drops, without a reply,
// any peer that is neither root nor running the daemon's own binary.
//
// Requests fall into three groups. Quick ones (version, path, stop)
// are answered inline. Longer ones (root shells, the denylist, raw
// SQL, module removal and installs) run as independent tasks. Boot
// stages (post-fs-data, late-start, boot-complete) run under a single
// lock so they never overlap and each runs at most once per boot:
//
//	post-fs-data   bootloop check, staged module updates, removals,
//	               post-fs-data.sh; may enter safe mode
//	late-start     service.sh in the background, skipped in safe mode
//	boot-complete  resets the bootloop counter, checks for the manager
//
// [Connect] is the client entry point. A root client may ask it to
// start the daemon when none is running: it spawns the current
// executable detached and polls the socket until it answers.
package daemon
