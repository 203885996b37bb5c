// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package peercred

import (
	"fmt"
	"net"

	goselinux "github.com/opencontainers/selinux/go-selinux"
	"golang.org/x/sys/unix"
)

// Get reads the peer credentials of conn.
func Get(conn *net.UnixConn) (SockCred, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return SockCred{}, err
	}

	var cred SockCred
	var credErr error
	err = raw.Control(func(fd uintptr) {
		ucred, err := unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		if err != nil {
			credErr = fmt.Errorf("SO_PEERCRED: %w", err)
			return
		}
		cred.UID = ucred.Uid
		cred.GID = ucred.Gid
		cred.PID = ucred.Pid

		// The label is optional; kernels without an LSM return
		// ENOPROTOOPT.
		if label, err := goselinux.PeerLabel(fd); err == nil {
			cred.Context = label
		}
	})
	if err != nil {
		return SockCred{}, err
	}
	if credErr != nil {
		return SockCred{}, credErr
	}
	return cred, nil
}
