// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package peercred

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/magiskd/magiskd/lib/binhash"
)

// ZygoteContext is the SELinux label of the zygote process.
const ZygoteContext = "u:r:zygote:s0"

// SockCred is an immutable snapshot of a connection's peer.
type SockCred struct {
	UID     uint32
	GID     uint32
	PID     int32
	Context string
}

// IsRoot reports whether the peer runs as uid 0.
func (cred SockCred) IsRoot() bool {
	return cred.UID == 0
}

func (cred SockCred) String() string {
	return fmt.Sprintf("uid=%d gid=%d pid=%d context=%q", cred.UID, cred.GID, cred.PID, cred.Context)
}

// Verifier checks callers against the daemon's own binary identity.
type Verifier struct {
	// ProcRoot is the procfs mount, normally "/proc".
	ProcRoot string

	// Self is the identity of the daemon's executable.
	Self binhash.Identity

	// ExemptContexts lists SELinux labels trusted without the binary
	// check.
	ExemptContexts []string
}

// NewVerifier captures the identity of procRoot/self/exe. The zygote
// label is exempt.
func NewVerifier(procRoot string) (*Verifier, error) {
	self, err := binhash.Identify(filepath.Join(procRoot, "self", "exe"))
	if err != nil {
		return nil, fmt.Errorf("identifying daemon binary: %w", err)
	}
	return &Verifier{
		ProcRoot:       procRoot,
		Self:           self,
		ExemptContexts: []string{ZygoteContext},
	}, nil
}

// Verify reports whether the daemon should serve cred. Root always
// passes. Everyone else must be an exempt context or be running the
// daemon's binary.
func (verifier *Verifier) Verify(cred SockCred) bool {
	if cred.IsRoot() {
		return true
	}
	for _, context := range verifier.ExemptContexts {
		if cred.Context != "" && cred.Context == context {
			return true
		}
	}
	if verifier.Self.IsZero() || cred.PID <= 0 {
		return false
	}
	exe := filepath.Join(verifier.ProcRoot, strconv.Itoa(int(cred.PID)), "exe")
	peer, err := binhash.Identify(exe)
	if err != nil {
		return false
	}
	return peer == verifier.Self
}
