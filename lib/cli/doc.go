// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the small command framework behind the magisk
// binary.
//
// A [Command] couples a [pflag.FlagSet] factory with a Run function and
// optional nested [Command.Subcommands]. [Command.Execute] parses
// flags, routes subcommands and prints structured help. Unknown flags
// and subcommands get a "did you mean" suggestion computed by
// Levenshtein distance (threshold: distance <= 3).
//
// Handlers signal a deliberate non-zero exit by returning an
// [ExitError]; main hands every error to process.Exit, which
// recognizes the ExitCode method.
//
// [NewCommandLogger] builds the slog logger used by client-side
// commands: human-readable text on a terminal, JSON otherwise.
package cli
