// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mountinfo parses /proc/<pid>/mountinfo into a point-in-time
// snapshot. Nothing is cached: every call reads the file again.
package mountinfo

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Mount is one mountinfo line.
type Mount struct {
	ID     int
	Parent int
	// Device is the dev_t built from the major:minor field.
	Device uint64
	Root   string
	Target string
	// VFSOptions are the per-mount options (ro, nosuid, ...).
	VFSOptions string

	Shared          int
	Master          int
	PropagationFrom int
	Unbindable      bool

	FSType string
	Source string
	// FSOptions are the per-superblock options.
	FSOptions string
}

// HasFSOption reports whether option appears in the superblock
// options.
func (mount Mount) HasFSOption(option string) bool {
	for _, candidate := range strings.Split(mount.FSOptions, ",") {
		if candidate == option {
			return true
		}
	}
	return false
}

// Read parses the mountinfo of pid, which may be "self".
func Read(procRoot, pid string) ([]Mount, error) {
	file, err := os.Open(filepath.Join(procRoot, pid, "mountinfo"))
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file)
}

// Parse reads mountinfo lines from r. A malformed line is an error.
func Parse(r io.Reader) ([]Mount, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	var mounts []Mount
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		mount, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("mountinfo line %d: %w", lineNumber, err)
		}
		mounts = append(mounts, mount)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning mountinfo: %w", err)
	}
	return mounts, nil
}

func parseLine(line string) (Mount, error) {
	fields := strings.Fields(line)
	separator := -1
	for i := 6; i < len(fields); i++ {
		if fields[i] == "-" {
			separator = i
			break
		}
	}
	if separator < 0 || len(fields) < separator+4 {
		return Mount{}, fmt.Errorf("malformed entry %q", line)
	}

	var mount Mount
	var err error
	if mount.ID, err = strconv.Atoi(fields[0]); err != nil {
		return Mount{}, fmt.Errorf("mount id: %w", err)
	}
	if mount.Parent, err = strconv.Atoi(fields[1]); err != nil {
		return Mount{}, fmt.Errorf("parent id: %w", err)
	}
	majorText, minorText, ok := strings.Cut(fields[2], ":")
	if !ok {
		return Mount{}, fmt.Errorf("device %q is not major:minor", fields[2])
	}
	major, err := strconv.ParseUint(majorText, 10, 32)
	if err != nil {
		return Mount{}, fmt.Errorf("device major: %w", err)
	}
	minor, err := strconv.ParseUint(minorText, 10, 32)
	if err != nil {
		return Mount{}, fmt.Errorf("device minor: %w", err)
	}
	mount.Device = unix.Mkdev(uint32(major), uint32(minor))
	mount.Root = unescape(fields[3])
	mount.Target = unescape(fields[4])
	mount.VFSOptions = fields[5]

	for _, optional := range fields[6:separator] {
		switch {
		case strings.HasPrefix(optional, "shared:"):
			mount.Shared, err = strconv.Atoi(strings.TrimPrefix(optional, "shared:"))
		case strings.HasPrefix(optional, "master:"):
			mount.Master, err = strconv.Atoi(strings.TrimPrefix(optional, "master:"))
		case strings.HasPrefix(optional, "propagate_from:"):
			mount.PropagationFrom, err = strconv.Atoi(strings.TrimPrefix(optional, "propagate_from:"))
		case optional == "unbindable":
			mount.Unbindable = true
		}
		if err != nil {
			return Mount{}, fmt.Errorf("optional field %q: %w", optional, err)
		}
	}

	mount.FSType = fields[separator+1]
	mount.Source = unescape(fields[separator+2])
	mount.FSOptions = fields[separator+3]
	return mount, nil
}

// unescape decodes the kernel's \ooo octal escapes for space, tab,
// newline and backslash.
func unescape(field string) string {
	if !strings.Contains(field, `\`) {
		return field
	}
	var builder strings.Builder
	for i := 0; i < len(field); i++ {
		if field[i] == '\\' && i+3 < len(field) && isOctal(field[i+1:i+4]) {
			value, _ := strconv.ParseUint(field[i+1:i+4], 8, 8)
			builder.WriteByte(byte(value))
			i += 3
			continue
		}
		builder.WriteByte(field[i])
	}
	return builder.String()
}

func isOctal(digits string) bool {
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '7' {
			return false
		}
	}
	return true
}
