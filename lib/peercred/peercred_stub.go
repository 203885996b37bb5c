// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package peercred

import (
	"errors"
	"net"
)

// Get is unsupported off Linux.
func Get(conn *net.UnixConn) (SockCred, error) {
	return SockCred{}, errors.New("peer credential lookup is only supported on Linux")
}
