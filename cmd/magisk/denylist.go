// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/magiskd/magiskd/lib/cli"
	"github.com/magiskd/magiskd/lib/daemon"
	"github.com/magiskd/magiskd/lib/sockio"
)

// denylistCommand builds the verbs accepted after --denylist.
func (a *app) denylistCommand(helpOutput io.Writer) *cli.Command {
	verb := func(name, summary string, request daemon.DenyRequest) *cli.Command {
		command := &cli.Command{Name: name, Summary: summary}
		command.Run = func(args []string) error {
			if len(args) != 0 {
				return command.Usagef("denylist %s takes no arguments", name)
			}
			return a.denyRequest(request, nil)
		}
		return command
	}
	// entry verbs take PKG [PROC]; an omitted process means the
	// package's main process.
	entry := func(name, summary string, request daemon.DenyRequest) *cli.Command {
		command := &cli.Command{
			Name:    name,
			Summary: summary,
			Usage:   "magisk --denylist " + name + " PKG [PROC]",
		}
		command.Run = func(args []string) error {
			if len(args) < 1 || len(args) > 2 {
				return command.Usagef("denylist %s takes PKG [PROC]", name)
			}
			if len(args) == 1 {
				args = append(args, "")
			}
			return a.denyRequest(request, args)
		}
		return command
	}

	return &cli.Command{
		Name:       "magisk --denylist",
		Summary:    "Manage the denylist",
		HelpOutput: helpOutput,
		Subcommands: []*cli.Command{
			verb("ls", "list denylisted processes", daemon.DenyList),
			entry("add", "hide root from PKG [PROC]", daemon.DenyAdd),
			entry("rm", "stop hiding root from PKG [PROC]", daemon.DenyRemove),
			verb("status", "exit 0 when the denylist is enforced", daemon.DenyStatus),
			verb("enable", "enforce the denylist", daemon.DenyEnforce),
			verb("disable", "stop enforcing the denylist", daemon.DenyDisable),
		},
	}
}

// denyRequest sends one denylist request and reports the daemon's
// answer.
func (a *app) denyRequest(request daemon.DenyRequest, args []string) error {
	conn, err := a.request(daemon.Denylist, false)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := sockio.WriteInt(conn, int32(request)); err != nil {
		return err
	}
	for _, arg := range args {
		if err := sockio.WriteString(conn, arg); err != nil {
			return err
		}
	}
	raw, err := sockio.ReadInt(conn)
	if err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}
	response := daemon.DenyResponse(raw)

	switch {
	case request == daemon.DenyList && response == daemon.DenyOK:
		entries, err := daemon.ReadStrings(conn)
		for _, entry := range entries {
			fmt.Fprintln(a.stdout, entry)
		}
		return err
	case request == daemon.DenyStatus:
		fmt.Fprintln(a.stdout, response)
		if response == daemon.DenyEnforced {
			return nil
		}
		return cli.Exit(1)
	case response != daemon.DenyOK:
		fmt.Fprintln(os.Stderr, response)
		return cli.Exit(int(response))
	}
	return nil
}
