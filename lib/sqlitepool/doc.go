// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides the SQLite connection pool behind the
// daemon's settings store.
//
// It wraps zombiezen.com/go/sqlite's sqlitex.Pool. Callers [Pool.Take]
// a connection, do their work, and [Pool.Put] it back. Connections are
// not safe for concurrent use; each goroutine holds its own for the
// duration of its work.
//
// # Pragmas
//
// Every connection is initialized with:
//
//   - journal_mode=WAL: readers never block the writer.
//   - synchronous=NORMAL: commits survive a daemon crash; a power cut
//     may lose the last transaction, which for grant policies and
//     denylist entries only means asking again.
//   - busy_timeout=5000: wait for the write lock instead of failing
//     with SQLITE_BUSY while another connection commits.
//   - temp_store=MEMORY.
//
// # Recovery
//
// The database lives on a partition that survives factory resets of
// the app, but not always intact. With [Config.RecreateOnFailure] set,
// [Open] initializes one connection immediately; if that fails (corrupt
// file, schema the daemon cannot migrate) the file and its WAL
// companions are removed and the pool is opened once more from
// scratch.
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:              "/data/adb/magisk.db",
//	    Logger:            logger,
//	    OnConnect:         migrate,
//	    RecreateOnFailure: true,
//	})
package sqlitepool
