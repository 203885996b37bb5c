// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package binhash identifies executable files two ways.
//
// [Identify] returns the (device, inode) pair of a path. The daemon
// uses it to decide whether a connecting process runs the same binary
// as the daemon itself: /proc/<pid>/exe of the peer must resolve to the
// same file as /proc/self/exe. This is identity by file, not content,
// so a copied binary does not match.
//
// [HashFile] streams a file through SHA256. The daemon logs the digest
// of its own binary at start, and the module installer reports the
// digest of every zip it unpacks. [FormatDigest]
// renders a digest in hex.
package binhash
