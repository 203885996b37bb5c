// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package module manages the on-disk module tree under the secure
// directory.
//
// A module is a directory named by its id containing a module.prop
// file of key=value lines. Marker files in the module directory steer
// boot-time processing:
//
//   - remove -- the module is deleted at the next [Prune]
//   - disable -- the module is kept but not loaded
//   - update -- the module was replaced by a staged install
//
// New installs are never written into the live tree. [Install]
// extracts a module zip into the update root; [Upgrade] moves staged
// modules into place during post-fs-data, carrying over a disable
// marker from the module being replaced.
package module
