// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

// Magisk is the command-line front end of magiskd. Every action except
// a few local queries is a single request to the daemon over its
// abstract socket; --daemon and the boot stage actions start the
// daemon first when it is not running.
//
// Exactly one action flag is accepted per invocation:
//
//	magisk -v                       daemon version
//	magisk --post-fs-data           run the post-fs-data boot stage
//	magisk --sqlite "SELECT ..."    run SQL against the settings database
//	magisk --denylist add PKG       add a package to the denylist
//	magisk --su -- id               run a command as root
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/magiskd/magiskd/lib/process"
)

func main() {
	process.Exit(run(os.Args[1:]))
}

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return newRootCommand(ctx, os.Stdout).Execute(args)
}
