// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package peercred

import (
	"net"
	"os"
	"testing"

	"github.com/magiskd/magiskd/lib/sockio"
	"github.com/magiskd/magiskd/lib/testutil"
)

func TestGetReportsOwnProcess(t *testing.T) {
	listener, err := net.ListenUnix("unix", sockio.Address(testutil.AbstractName(t)))
	if err != nil {
		t.Fatalf("ListenUnix: %v", err)
	}
	defer listener.Close()

	client, err := net.DialUnix("unix", nil, listener.Addr().(*net.UnixAddr))
	if err != nil {
		t.Fatalf("DialUnix: %v", err)
	}
	defer client.Close()

	server, err := listener.AcceptUnix()
	if err != nil {
		t.Fatalf("AcceptUnix: %v", err)
	}
	defer server.Close()

	cred, err := Get(server)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cred.UID != uint32(os.Getuid()) {
		t.Errorf("UID = %d, want %d", cred.UID, os.Getuid())
	}
	if cred.GID != uint32(os.Getgid()) {
		t.Errorf("GID = %d, want %d", cred.GID, os.Getgid())
	}
	if cred.PID != int32(os.Getpid()) {
		t.Errorf("PID = %d, want %d", cred.PID, os.Getpid())
	}
}
