// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestCommand_Execute_DispatchesToSubcommand(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name:       "denylist",
		HelpOutput: &bytes.Buffer{},
		Subcommands: []*Command{
			{Name: "ls", Run: func(args []string) error { called = "ls"; return nil }},
			{Name: "add", Run: func(args []string) error {
				called = "add"
				receivedArgs = args
				return nil
			}},
		},
	}

	if err := root.Execute([]string{"add", "com.example", "com.example:remote"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "add" {
		t.Errorf("dispatched to %q, want %q", called, "add")
	}
	if len(receivedArgs) != 2 || receivedArgs[1] != "com.example:remote" {
		t.Errorf("args = %v, want [com.example com.example:remote]", receivedArgs)
	}
}

func TestCommand_Execute_FlagParsing(t *testing.T) {
	var sql string
	var noReboot bool
	var positional []string

	command := &Command{
		Name: "magisk",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("magisk", pflag.ContinueOnError)
			flagSet.StringVar(&sql, "sqlite", "", "run SQL")
			flagSet.BoolVarP(&noReboot, "no-reboot", "n", false, "do not reboot")
			return flagSet
		},
		Run: func(args []string) error {
			positional = args
			return nil
		},
	}

	if err := command.Execute([]string{"--sqlite", "SELECT 1", "-n", "extra"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if sql != "SELECT 1" {
		t.Errorf("sql = %q, want %q", sql, "SELECT 1")
	}
	if !noReboot {
		t.Error("noReboot = false, want true")
	}
	if len(positional) != 1 || positional[0] != "extra" {
		t.Errorf("positional = %v, want [extra]", positional)
	}
}

func flaggedCommand() *Command {
	return &Command{
		Name:       "magisk",
		HelpOutput: &bytes.Buffer{},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("magisk", pflag.ContinueOnError)
			flagSet.Bool("post-fs-data", false, "post-fs-data stage")
			flagSet.Bool("daemon-entry", false, "internal")
			flagSet.MarkHidden("daemon-entry")
			return flagSet
		},
		Run: func(args []string) error { return nil },
	}
}

func TestCommand_Execute_UnknownFlagSuggestion(t *testing.T) {
	err := flaggedCommand().Execute([]string{"--post-fs-dta"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	var usage *UsageError
	if !errors.As(err, &usage) {
		t.Fatalf("error %T is not a *UsageError", err)
	}
	message := err.Error()
	if !strings.Contains(message, "did you mean --post-fs-data") {
		t.Errorf("error = %q, want suggestion for --post-fs-data", message)
	}
	if !strings.Contains(message, "--help") {
		t.Errorf("error = %q, should point to --help", message)
	}
}

func TestCommand_Execute_HiddenFlagNotSuggested(t *testing.T) {
	err := flaggedCommand().Execute([]string{"--daemon-entri"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown flag")
	}
	if strings.Contains(err.Error(), "daemon-entry") {
		t.Errorf("error = %q, should not suggest a hidden flag", err.Error())
	}
}

func TestCommand_Execute_UnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name:        "denylist",
		Subcommands: []*Command{{Name: "ls"}, {Name: "add"}, {Name: "rm"}},
	}

	err := root.Execute([]string{"ad"})
	if err == nil {
		t.Fatal("Execute() = nil, want error for unknown subcommand")
	}
	if !strings.Contains(err.Error(), `did you mean "add"`) {
		t.Errorf("error = %q, want suggestion for add", err.Error())
	}
}

func TestCommand_Execute_HelpFlag(t *testing.T) {
	for _, helpArg := range []string{"-h", "--help", "help"} {
		t.Run(helpArg, func(t *testing.T) {
			var buffer bytes.Buffer
			command := flaggedCommand()
			command.Summary = "Magisk root broker"
			command.HelpOutput = &buffer

			if err := command.Execute([]string{helpArg}); err != nil {
				t.Errorf("Execute(%q) error: %v", helpArg, err)
			}
			if !strings.Contains(buffer.String(), "Magisk root broker") {
				t.Errorf("help output = %q, missing summary", buffer.String())
			}
		})
	}
}

func TestCommand_Execute_NoSubcommand(t *testing.T) {
	root := &Command{
		Name:        "denylist",
		HelpOutput:  &bytes.Buffer{},
		Subcommands: []*Command{{Name: "ls", Summary: "list entries"}},
	}

	err := root.Execute(nil)
	if err == nil {
		t.Fatal("Execute() = nil, want error for missing subcommand")
	}
	if !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %q, want 'subcommand required'", err.Error())
	}
}

func TestCommand_PrintHelp(t *testing.T) {
	command := flaggedCommand()
	command.Description = "Magisk root broker."
	command.Examples = []Example{
		{Description: "Run SQL against the settings database", Command: "magisk --sqlite 'SELECT * FROM settings'"},
	}

	var buffer bytes.Buffer
	command.PrintHelp(&buffer)
	output := buffer.String()

	for _, want := range []string{
		"Magisk root broker.",
		"Usage:",
		"magisk [flags]",
		"Flags:",
		"--post-fs-data",
		"Examples:",
		"magisk --sqlite",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("help output missing %q\n\nFull output:\n%s", want, output)
		}
	}
	if strings.Contains(output, "daemon-entry") {
		t.Errorf("help output shows hidden flag:\n%s", output)
	}
}

func TestCommand_FullName(t *testing.T) {
	root := &Command{Name: "magisk"}
	denylist := &Command{Name: "denylist", parent: root}
	add := &Command{Name: "add", parent: denylist}

	if got := add.fullName(); got != "magisk denylist add" {
		t.Errorf("fullName() = %q, want %q", got, "magisk denylist add")
	}
}

func TestExit(t *testing.T) {
	if err := Exit(0); err != nil {
		t.Errorf("Exit(0) = %v, want nil", err)
	}
	err := Exit(3)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 3 {
		t.Errorf("Exit(3) = %v, want *ExitError with code 3", err)
	}
}
