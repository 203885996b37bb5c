// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package sockio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"

	"golang.org/x/sys/unix"
)

// MaxDescriptors is the kernel's SCM_MAX_FD: the most descriptors one
// control message can carry.
const MaxDescriptors = 253

// ErrNoDescriptors is returned by [RecvFDs] when the control message
// does not carry exactly the advertised number of descriptors. Any
// descriptors that did arrive have already been closed.
var ErrNoDescriptors = errors.New("sockio: descriptor count does not match control message")

// SendFD sends one descriptor. A nil file sends a count of zero, so the
// receiver can tell "no descriptor" apart from a broken connection.
func SendFD(conn *net.UnixConn, file *os.File) error {
	if file == nil {
		return SendFDs(conn, nil)
	}
	return SendFDs(conn, []*os.File{file})
}

// SendFDs sends the count of files followed by their descriptors in a
// single sendmsg. The kernel duplicates the descriptors into the
// receiver; the caller keeps ownership of files.
func SendFDs(conn *net.UnixConn, files []*os.File) error {
	if len(files) > MaxDescriptors {
		return fmt.Errorf("sending %d descriptors: limit is %d", len(files), MaxDescriptors)
	}
	var payload [4]byte
	binary.NativeEndian.PutUint32(payload[:], uint32(len(files)))

	var oob []byte
	if len(files) > 0 {
		fds := make([]int, len(files))
		for i, file := range files {
			fds[i] = int(file.Fd())
		}
		oob = unix.UnixRights(fds...)
	}

	n, oobn, err := conn.WriteMsgUnix(payload[:], oob, nil)
	runtime.KeepAlive(files)
	if err != nil {
		return fmt.Errorf("sendmsg: %w", err)
	}
	if n != len(payload) || oobn != len(oob) {
		return fmt.Errorf("sendmsg: short write (%d/%d data, %d/%d control)", n, len(payload), oobn, len(oob))
	}
	return nil
}

// RecvFD receives a single descriptor sent with [SendFD]. A count of
// zero yields (nil, nil). Any other count than one is a mismatch: every
// received descriptor is closed and the result is [ErrNoDescriptors].
func RecvFD(conn *net.UnixConn) (*os.File, error) {
	files, err := RecvFDs(conn)
	if err != nil {
		return nil, err
	}
	switch len(files) {
	case 0:
		return nil, nil
	case 1:
		return files[0], nil
	default:
		closeFiles(files)
		return nil, ErrNoDescriptors
	}
}

// RecvFDs receives a batch sent with [SendFDs]. The count is peeked
// first to size the control buffer, then the real recvmsg consumes it
// together with the control message. The control message must match
// the count exactly (length, SOL_SOCKET, SCM_RIGHTS); otherwise every
// descriptor that arrived is closed and the result is
// [ErrNoDescriptors]. Returned files belong to the caller.
func RecvFDs(conn *net.UnixConn) ([]*os.File, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("accessing raw connection: %w", err)
	}

	var header [4]byte
	var peekErr error
	var peeked int
	err = raw.Read(func(fd uintptr) bool {
		peeked, _, _, _, peekErr = unix.Recvmsg(int(fd), header[:], nil, unix.MSG_PEEK)
		return !errors.Is(peekErr, unix.EAGAIN) && !errors.Is(peekErr, unix.EINTR)
	})
	if err != nil {
		return nil, err
	}
	if peekErr != nil {
		return nil, fmt.Errorf("peeking descriptor count: %w", peekErr)
	}
	if peeked == 0 {
		return nil, io.EOF
	}
	if peeked != len(header) {
		// The count and its control message leave in one sendmsg;
		// anything shorter is a broken peer.
		return nil, fmt.Errorf("peeking descriptor count: got %d bytes", peeked)
	}

	count := int(int32(binary.NativeEndian.Uint32(header[:])))
	if count < 0 || count > MaxDescriptors {
		return nil, fmt.Errorf("invalid descriptor count %d", count)
	}

	var oob []byte
	if count > 0 {
		oob = make([]byte, unix.CmsgSpace(count*4))
	}

	var n, oobn, flags int
	var recvErr error
	err = raw.Read(func(fd uintptr) bool {
		n, oobn, flags, _, recvErr = unix.Recvmsg(int(fd), header[:], oob, unix.MSG_WAITALL|unix.MSG_CMSG_CLOEXEC)
		return !errors.Is(recvErr, unix.EAGAIN) && !errors.Is(recvErr, unix.EINTR)
	})
	if err != nil {
		return nil, err
	}
	if recvErr != nil {
		return nil, fmt.Errorf("recvmsg: %w", recvErr)
	}
	if n != len(header) {
		return nil, fmt.Errorf("recvmsg: got %d of %d count bytes", n, len(header))
	}

	received := parseRights(oob[:oobn])
	if count == 0 {
		if len(received) > 0 {
			closeDescriptors(received)
			return nil, ErrNoDescriptors
		}
		return nil, nil
	}

	if flags&unix.MSG_CTRUNC != 0 || !exactRights(oob[:oobn], count) || len(received) != count {
		closeDescriptors(received)
		return nil, ErrNoDescriptors
	}

	files := make([]*os.File, count)
	for i, fd := range received {
		files[i] = os.NewFile(uintptr(fd), fmt.Sprintf("recv-fd-%d", fd))
	}
	return files, nil
}

// exactRights reports whether control holds exactly one SOL_SOCKET
// SCM_RIGHTS message sized for count descriptors.
func exactRights(control []byte, count int) bool {
	messages, err := unix.ParseSocketControlMessage(control)
	if err != nil || len(messages) != 1 {
		return false
	}
	header := messages[0].Header
	return header.Level == unix.SOL_SOCKET &&
		header.Type == unix.SCM_RIGHTS &&
		int(header.Len) == unix.CmsgLen(count*4)
}

// parseRights extracts every descriptor from every SCM_RIGHTS message
// in control, so that a rejected message can still be cleaned up.
func parseRights(control []byte) []int {
	if len(control) == 0 {
		return nil
	}
	messages, err := unix.ParseSocketControlMessage(control)
	if err != nil {
		return nil
	}
	var fds []int
	for i := range messages {
		if messages[i].Header.Level != unix.SOL_SOCKET || messages[i].Header.Type != unix.SCM_RIGHTS {
			continue
		}
		rights, err := unix.ParseUnixRights(&messages[i])
		if err != nil {
			continue
		}
		fds = append(fds, rights...)
	}
	return fds
}

func closeDescriptors(fds []int) {
	for _, fd := range fds {
		unix.Close(fd)
	}
}

func closeFiles(files []*os.File) {
	for _, file := range files {
		file.Close()
	}
}
