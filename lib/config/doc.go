// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for magiskd and
// the magisk CLI.
//
// Configuration comes from a single file named by either the
// MAGISKD_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). When neither is given, [Load] returns the
// compiled-in Android defaults from [Default]. There is no file
// discovery and no environment-variable override of individual fields.
//
// Variable expansion is performed on path fields after loading:
// ${MAGISKTMP} (paths.tmp), ${SECURE_DIR} (paths.secure), and
// ${VAR:-default} patterns are expanded.
//
// This package depends on no other magiskd packages.
package config
