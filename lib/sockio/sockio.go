// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sockio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"

	"github.com/magiskd/magiskd/lib/codec"
)

// MaxStringLength bounds the body of a length-prefixed string or
// record. A peer announcing more is treated as a transport failure.
const MaxStringLength = 16 << 20

// Result is the outcome of [ReadExact].
type Result int

const (
	// Complete means the buffer was filled.
	Complete Result = iota
	// EOF means the peer closed the stream before the first byte.
	EOF
	// Failed means a read error, or EOF after a partial read.
	Failed
)

func (result Result) String() string {
	switch result {
	case Complete:
		return "complete"
	case EOF:
		return "eof"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Result(%d)", int(result))
	}
}

// Address returns the abstract-namespace address for name. The socket
// has no filesystem presence.
func Address(name string) *net.UnixAddr {
	return &net.UnixAddr{Name: "@" + name, Net: "unix"}
}

// AddressLen is the sockaddr length the kernel receives for
// [Address](name): the address family, the leading NUL, then the name
// without a terminator.
func AddressLen(name string) int {
	return 2 + len(name) + 1
}

// ReadExact fills p from r. Short reads and EINTR are retried. A clean
// EOF before any byte yields [EOF] with io.EOF; every other shortfall
// yields [Failed] with the underlying error.
func ReadExact(r io.Reader, p []byte) (Result, error) {
	read := 0
	for read < len(p) {
		n, err := r.Read(p[read:])
		read += n
		if err == nil {
			continue
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if read == len(p) {
			break
		}
		if errors.Is(err, io.EOF) {
			if read == 0 {
				return EOF, io.EOF
			}
			return Failed, io.ErrUnexpectedEOF
		}
		return Failed, err
	}
	return Complete, nil
}

func readFull(r io.Reader, p []byte) error {
	result, err := ReadExact(r, p)
	if result == Complete {
		return nil
	}
	return err
}

func writeFull(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		p = p[n:]
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// ReadInt reads a native-order int32. On failure it returns -1 and the
// error.
func ReadInt(r io.Reader) (int32, error) {
	var buffer [4]byte
	if err := readFull(r, buffer[:]); err != nil {
		return -1, err
	}
	return int32(binary.NativeEndian.Uint32(buffer[:])), nil
}

// ReadIntBE reads a big-endian int32. On failure it returns -1 and the
// error.
func ReadIntBE(r io.Reader) (int32, error) {
	var buffer [4]byte
	if err := readFull(r, buffer[:]); err != nil {
		return -1, err
	}
	return int32(binary.BigEndian.Uint32(buffer[:])), nil
}

// WriteInt writes value as a native-order int32. A nil w is a no-op.
func WriteInt(w io.Writer, value int32) error {
	if w == nil {
		return nil
	}
	var buffer [4]byte
	binary.NativeEndian.PutUint32(buffer[:], uint32(value))
	return writeFull(w, buffer[:])
}

// WriteIntBE writes value as a big-endian int32. A nil w is a no-op.
func WriteIntBE(w io.Writer, value int32) error {
	if w == nil {
		return nil
	}
	var buffer [4]byte
	binary.BigEndian.PutUint32(buffer[:], uint32(value))
	return writeFull(w, buffer[:])
}

func readBytes(r io.Reader) ([]byte, error) {
	length, err := ReadInt(r)
	if err != nil {
		return nil, fmt.Errorf("reading length: %w", err)
	}
	if length < 0 {
		return nil, fmt.Errorf("negative length %d", length)
	}
	if length > MaxStringLength {
		return nil, fmt.Errorf("length %d exceeds limit %d", length, MaxStringLength)
	}
	body := make([]byte, length)
	if err := readFull(r, body); err != nil {
		return nil, fmt.Errorf("reading %d-byte body: %w", length, err)
	}
	return body, nil
}

func writeBytes(w io.Writer, body []byte) error {
	if w == nil {
		return nil
	}
	if err := WriteInt(w, int32(len(body))); err != nil {
		return err
	}
	return writeFull(w, body)
}

// ReadString reads a length-prefixed string. A negative length, or a
// body that cannot be read in full, fails.
func ReadString(r io.Reader) (string, error) {
	body, err := readBytes(r)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// WriteString writes the length of s and then its bytes. A nil w is a
// no-op.
func WriteString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

// WriteRecord encodes v as CBOR and writes it length-prefixed. A nil w
// is a no-op.
func WriteRecord(w io.Writer, v any) error {
	if w == nil {
		return nil
	}
	body, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return writeBytes(w, body)
}

// ReadRecord reads a length-prefixed CBOR record into v.
func ReadRecord(r io.Reader, v any) error {
	body, err := readBytes(r)
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}
