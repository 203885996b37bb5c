// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package props scans Android property files: build.prop, and the
// key=value config the boot scripts leave for the daemon.
//
// Lines are "key=value". Blank lines and lines starting with '#' are
// skipped, as are lines without '='. Keys and values are trimmed.
package props

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Scan calls fn for every property in r, stopping early when fn
// returns false.
func Scan(r io.Reader, fn func(key, value string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		if !fn(strings.TrimSpace(key), strings.TrimSpace(value)) {
			return nil
		}
	}
	return scanner.Err()
}

// ScanFile is [Scan] over the file at path.
func ScanFile(path string, fn func(key, value string) bool) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	if err := Scan(file, fn); err != nil {
		return fmt.Errorf("scanning %s: %w", path, err)
	}
	return nil
}

// Lookup returns the value of key in the file at path. ok is false
// when the file has no such key.
func Lookup(path, key string) (value string, ok bool, err error) {
	err = ScanFile(path, func(k, v string) bool {
		if k == key {
			value, ok = v, true
			return false
		}
		return true
	})
	return value, ok, err
}

// SDKVersion reads ro.build.version.sdk from a build.prop file. It
// returns -1 when the key is missing or unparsable.
func SDKVersion(buildProp string) (int, error) {
	value, ok, err := Lookup(buildProp, "ro.build.version.sdk")
	if err != nil {
		return -1, err
	}
	if !ok {
		return -1, nil
	}
	sdk, err := strconv.Atoi(value)
	if err != nil {
		return -1, nil
	}
	return sdk, nil
}
