// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors from run() where the structured logger may not be
// initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// Exit terminates the process for the error returned by run(). A nil
// error exits 0. An error carrying its own exit code (any type with an
// ExitCode() int method, such as *cli.ExitError) exits with that code
// without printing; the command already reported what it needed to.
// Everything else goes through [Fatal].
func Exit(err error) {
	if err == nil {
		os.Exit(0)
	}
	var coded interface{ ExitCode() int }
	if errors.As(err, &coded) {
		os.Exit(coded.ExitCode())
	}
	Fatal(err)
}
