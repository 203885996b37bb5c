// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package settings is the daemon's persistent configuration: superuser
// policies, integer settings, string settings, and the denylist, kept
// in one SQLite database.
//
// The schema is versioned with PRAGMA user_version. [Open] migrates
// older databases forward to [SchemaVersion] and refuses newer ones;
// an unreadable database is deleted and recreated empty.
//
//	store, err := settings.Open(settings.Config{Path: "/data/adb/magisk.db", Logger: logger})
//	manager, ok, err := store.GetString(ctx, settings.KeySuManager)
//
// [Store.ExecRaw] runs arbitrary SQL for the magisk --sqlite command
// and reports rows in the "col=val|col=val" text form the CLI prints.
package settings
