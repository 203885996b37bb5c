// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

// Package selinux applies the labels magiskd depends on: the daemon's
// own domain and the context of module files it installs.
//
// Label reads and writes go through go-selinux. This package only
// decides which label goes where and handles the per-thread nature of
// task labels under the Go scheduler. It does not interpret policy. On
// kernels without SELinux every function is a no-op.
package selinux

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"

	goselinux "github.com/opencontainers/selinux/go-selinux"
)

// Labels magiskd assigns.
const (
	// DaemonContext is the process domain magiskd runs in.
	DaemonContext = "u:r:magisk:s0"

	// SystemFileContext is applied to installed module files so that
	// they can be mounted over the system partition.
	SystemFileContext = "u:object_r:system_file:s0"
)

// Enabled reports whether the kernel enforces or logs SELinux.
func Enabled() bool {
	return goselinux.GetEnabled()
}

// EnterDaemonDomain moves the calling thread into label if it is not
// already there, and locks the calling goroutine to that thread. The
// kernel labels tasks, not processes: other threads keep their label,
// which is why spawned daemons get their domain through
// [WithExecLabel] instead. It returns the label the thread ended up
// with.
func EnterDaemonDomain(label string) (string, error) {
	if !Enabled() {
		return "", nil
	}
	current, err := goselinux.CurrentLabel()
	if err != nil {
		return "", fmt.Errorf("reading current label: %w", err)
	}
	if current == label {
		return current, nil
	}
	// The label belongs to this thread from here on; keep the
	// goroutine on it.
	runtime.LockOSThread()
	if err := goselinux.SetTaskLabel(label); err != nil {
		runtime.UnlockOSThread()
		return current, fmt.Errorf("setting task label %s: %w", label, err)
	}
	return label, nil
}

// WithExecLabel runs start with label set as the exec label of the
// calling thread, so a process exec'd by start enters label as a
// whole. The exec label is cleared again before returning.
func WithExecLabel(label string, start func() error) error {
	if !Enabled() {
		return start()
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if err := goselinux.SetExecLabel(label); err != nil {
		return fmt.Errorf("setting exec label %s: %w", label, err)
	}
	startErr := start()
	if err := goselinux.SetExecLabel(""); err != nil && startErr == nil {
		return fmt.Errorf("clearing exec label: %w", err)
	}
	return startErr
}

// LabelTree sets label on root and everything below it without
// following symlinks. Every failure is collected; labelling continues
// past them.
func LabelTree(root, label string) error {
	if !Enabled() {
		return nil
	}
	var errs []error
	walkErr := filepath.WalkDir(root, func(path string, _ fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if err := goselinux.LsetFileLabel(path, label); err != nil {
			errs = append(errs, fmt.Errorf("labelling %s: %w", path, err))
		}
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	return errors.Join(errs...)
}
