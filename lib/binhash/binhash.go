// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package binhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// Identity is the (device, inode) pair naming a file on a mounted
// filesystem. The zero value never matches a real file.
type Identity struct {
	Device uint64
	Inode  uint64
}

// IsZero reports whether the identity was never filled in.
func (identity Identity) IsZero() bool {
	return identity.Device == 0 && identity.Inode == 0
}

func (identity Identity) String() string {
	return fmt.Sprintf("%d:%d", identity.Device, identity.Inode)
}

// Identify stats path (following symlinks, which is what makes
// /proc/<pid>/exe useful) and returns its identity.
func Identify(path string) (Identity, error) {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return Identity{}, fmt.Errorf("stat %s: %w", path, err)
	}
	return Identity{Device: uint64(stat.Dev), Inode: uint64(stat.Ino)}, nil
}

// HashFile computes the SHA256 digest of the file at path, streaming
// it through the hash with constant memory.
func HashFile(path string) ([32]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return [32]byte{}, fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()

	return HashReader(file)
}

// HashReader computes the SHA256 digest of everything read from r.
func HashReader(r io.Reader) ([32]byte, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return [32]byte{}, fmt.Errorf("hashing: %w", err)
	}
	var digest [32]byte
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// FormatDigest returns the hex-encoded form of a digest, as it appears
// in logs and install replies.
func FormatDigest(digest [32]byte) string {
	return hex.EncodeToString(digest[:])
}
