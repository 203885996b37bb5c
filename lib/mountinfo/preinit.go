// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package mountinfo

import (
	"path/filepath"
	"strings"
)

// PreinitMirror is the path suffix, below the magisk tmp directory,
// where an already selected preinit partition is bind mounted.
const PreinitMirror = ".magisk/preinit"

// partitionRank orders candidate partitions for preinit data; higher
// is better.
type partitionRank int

const (
	rankUnknown partitionRank = iota
	rankPersist
	rankMetadata
	rankCache
	rankData
)

// PreinitOptions describes device state that affects the choice.
type PreinitOptions struct {
	// Encrypted is true when ro.crypto.state is "encrypted".
	Encrypted bool
	// UnencryptedData is true when /data/unencrypted exists, which
	// makes /data usable even on an encrypted device.
	UnencryptedData bool
}

// PreinitDevice picks the block device that stores data needed before
// /data is decrypted, returning its name (e.g. "sda10") or "" when no
// partition qualifies.
//
// Only read-write ext4 or f2fs mounts of a whole filesystem (root "/")
// backed by a by-name or block device node count. Among those,
// /data beats /cache, which beats /metadata, which beats /persist and
// /mnt/vendor/persist. Once an ext4 partition qualifies, f2fs ones are
// no longer considered. A mount already sitting at [PreinitMirror]
// short-circuits the search.
func PreinitDevice(mounts []Mount, options PreinitOptions) string {
	ext4Rank := rankUnknown
	f2fsRank := rankUnknown
	source := ""

	for _, mount := range mounts {
		if strings.HasSuffix(mount.Target, PreinitMirror) {
			return filepath.Base(mount.Source)
		}
		if mount.Root != "/" || !strings.HasPrefix(mount.Source, "/") || strings.Contains(mount.Source, "/dm-") {
			continue
		}
		if ext4Rank != rankUnknown && mount.FSType != "ext4" {
			continue
		}
		if mount.FSType != "ext4" && mount.FSType != "f2fs" {
			continue
		}
		if !mount.HasFSOption("rw") {
			continue
		}
		parent := filepath.Base(filepath.Dir(mount.Source))
		if parent != "by-name" && parent != "block" {
			continue
		}

		rank := &ext4Rank
		if mount.FSType == "f2fs" {
			rank = &f2fsRank
		}

		candidate := rankUnknown
		switch mount.Target {
		case "/persist", "/mnt/vendor/persist":
			candidate = rankPersist
		case "/metadata":
			candidate = rankMetadata
		case "/cache":
			candidate = rankCache
		case "/data":
			if !options.Encrypted || options.UnencryptedData {
				candidate = rankData
			}
		}
		if candidate == rankUnknown || candidate <= *rank {
			continue
		}
		*rank = candidate
		source = mount.Source

		if ext4Rank == rankData {
			break
		}
	}

	if source == "" {
		return ""
	}
	return filepath.Base(source)
}
